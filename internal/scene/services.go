package scene

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// ServiceRegistrar is the part of the service registry the engine registers into.
type ServiceRegistrar interface {
	Register(domain, name string, h service.Handler) error
}

// RegisterServices installs scene.turn_on, apply, create, delete and reload.
func (e *Engine) RegisterServices(reg ServiceRegistrar) error {
	handlers := map[string]service.Handler{
		service.ServiceTurnOn: e.handleTurnOn,
		"apply":               e.handleApply,
		"create":              e.handleCreate,
		"delete":              e.handleDelete,
		service.ServiceReload: func(ctx context.Context, _ *service.ServiceCall) (service.Result, error) {
			return service.Result{}, e.Reload(ctx)
		},
	}
	for name, h := range handlers {
		if err := reg.Register(Domain, name, h); err != nil {
			return fmt.Errorf("registering scene.%s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) handleTurnOn(ctx context.Context, call *service.ServiceCall) (service.Result, error) {
	var res service.Result
	for _, id := range call.Targets {
		act, err := e.ActivateEntity(ctx, id)
		if IsNotFound(err) {
			res.Missing = append(res.Missing, id)
			continue
		}
		if err != nil {
			return res, err
		}
		res.Changed = append(res.Changed, act.Applied...)
	}
	return res, nil
}

func (e *Engine) handleApply(ctx context.Context, call *service.ServiceCall) (service.Result, error) {
	entities, err := parseEntities(call.Data["entities"])
	if err != nil {
		return service.Result{}, err
	}
	if len(entities) == 0 {
		return service.Result{}, fmt.Errorf("%w: entities is required", service.ErrInvalidData)
	}
	act, err := e.Apply(ctx, entities)
	if err != nil {
		return service.Result{}, err
	}
	return service.Result{Changed: act.Applied}, nil
}

func (e *Engine) handleCreate(ctx context.Context, call *service.ServiceCall) (service.Result, error) {
	raw, _ := call.Data["scene_id"].(string)
	if strings.TrimSpace(raw) == "" {
		return service.Result{}, fmt.Errorf("%w: scene_id is required", service.ErrInvalidData)
	}
	id := core.Slugify(raw)

	entities, err := parseEntities(call.Data["entities"])
	if err != nil {
		return service.Result{}, err
	}
	snapshot := core.ToStringList(call.Data["snapshot_entities"])
	if len(entities) == 0 && len(snapshot) == 0 {
		return service.Result{}, fmt.Errorf("%w: entities or snapshot_entities is required", service.ErrInvalidData)
	}

	s, err := e.Create(ctx, id, entities, snapshot)
	if err != nil {
		return service.Result{}, fmt.Errorf("%w: %v", service.ErrInvalidData, err)
	}
	st, err := e.store.Get(s.EntityID())
	if err != nil {
		return service.Result{}, nil
	}
	return service.Result{Changed: []core.EntityState{st}}, nil
}

func (e *Engine) handleDelete(ctx context.Context, call *service.ServiceCall) (service.Result, error) {
	var res service.Result
	for _, id := range call.Targets {
		s, err := e.registry.GetSceneByEntityID(id)
		if err != nil {
			res.Missing = append(res.Missing, id)
			continue
		}
		if err := e.Delete(ctx, s.ID); err != nil {
			return res, fmt.Errorf("%w: %v", service.ErrInvalidData, err)
		}
	}
	return res, nil
}

// parseEntities accepts a map of entity id → target, or a list of ids
// meaning "turn on".
func parseEntities(raw any) (map[string]EntityTarget, error) {
	out := make(map[string]EntityTarget)
	switch v := raw.(type) {
	case nil:
	case map[string]any:
		for id, item := range v {
			t, err := ParseEntityTarget(item)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", service.ErrInvalidData, id, err)
			}
			out[id] = t
		}
	default:
		for _, id := range core.ToStringList(v) {
			out[id] = EntityTarget{State: core.StateOn}
		}
	}
	for id := range out {
		if !core.ValidEntityID(id) {
			return nil, fmt.Errorf("%w: invalid entity id %q", service.ErrInvalidData, id)
		}
	}
	return out, nil
}
