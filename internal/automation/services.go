package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// ServiceRegistrar is the part of the service registry the engine registers into.
type ServiceRegistrar interface {
	Register(domain, name string, h service.Handler) error
}

// RegisterServices installs automation.turn_on, turn_off, toggle, trigger and reload.
func (e *Engine) RegisterServices(reg ServiceRegistrar) error {
	handlers := map[string]service.Handler{
		service.ServiceTurnOn:  e.perAutomation(e.Enable),
		service.ServiceTurnOff: e.perAutomation(e.Disable),
		service.ServiceToggle:  e.perAutomation(e.Toggle),
		"trigger":              e.handleTrigger,
		service.ServiceReload: func(ctx context.Context, _ *service.ServiceCall) (service.Result, error) {
			return service.Result{}, e.Reload(ctx)
		},
	}
	for name, h := range handlers {
		if err := reg.Register(Domain, name, h); err != nil {
			return fmt.Errorf("registering automation.%s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) perAutomation(fn func(ctx context.Context, entityID string) error) service.Handler {
	return func(ctx context.Context, call *service.ServiceCall) (service.Result, error) {
		var res service.Result
		for _, id := range call.Targets {
			if err := fn(ctx, id); err != nil {
				if errors.Is(err, ErrNotFound) {
					res.Missing = append(res.Missing, id)
					continue
				}
				return res, err
			}
			if a, err := e.lookup(id); err == nil {
				id = a.entityID
			}
			if st, err := e.states.Get(id); err == nil {
				res.Changed = append(res.Changed, st)
			}
		}
		return res, nil
	}
}

func (e *Engine) handleTrigger(ctx context.Context, call *service.ServiceCall) (service.Result, error) {
	skip, _ := call.Data["skip_condition"].(bool)
	var vars map[string]any
	if v, ok := call.Data["variables"].(map[string]any); ok {
		vars = core.CloneMap(v)
	}

	var res service.Result
	for _, id := range call.Targets {
		if err := e.Trigger(ctx, id, core.CloneMap(vars), skip); err != nil {
			res.Missing = append(res.Missing, id)
		}
	}
	return res, nil
}
