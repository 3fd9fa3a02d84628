package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// Reproducer drives one entity to a target. *service.Registry satisfies it.
type Reproducer interface {
	Reproduce(ctx context.Context, entityID, desired string, attrs map[string]any, opts service.ReproduceOptions) (core.EntityState, error)
}

// StateStore is the subset of the state store the engine needs.
type StateStore interface {
	Get(entityID string) (core.EntityState, error)
	Set(ctx context.Context, entityID, state string, attrs map[string]any) (core.EntityState, bool, error)
	Delete(ctx context.Context, entityID string) bool
}

// EventFirer publishes scene_reloaded. *eventbus.Bus satisfies it.
type EventFirer interface {
	Fire(ctx context.Context, eventType string, data map[string]any, origin core.Origin) core.Event
}

// maxActivationTime bounds a single activation. Scenes write in-process
// state only, so this is generous.
const maxActivationTime = 30 * time.Second

// Engine applies scenes and keeps scene.* entities in the state store.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	registry *Registry
	services Reproducer
	store    StateStore
	bus      EventFirer
	logger   Logger
	now      func() time.Time
	file     string

	mu        sync.Mutex          // serialises Reload and entity bookkeeping
	published map[string]struct{} // scene entity ids this engine created
}

// NewEngine creates a scene engine. bus may be nil.
func NewEngine(registry *Registry, services Reproducer, store StateStore, bus EventFirer) *Engine {
	return &Engine{
		registry:  registry,
		services:  services,
		store:     store,
		bus:       bus,
		logger:    noopLogger{},
		now:       time.Now,
		published: make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// SetFile sets the scenes.yaml path read by Reload.
func (e *Engine) SetFile(path string) {
	e.file = path
}

// Registry returns the engine's scene registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Reload re-reads scenes.yaml and stored scenes, then syncs scene entities.
func (e *Engine) Reload(ctx context.Context) error {
	scenes, err := LoadFile(e.file)
	if err != nil {
		return err
	}
	e.registry.SetFileScenes(scenes)
	if err := e.registry.RefreshCache(ctx); err != nil {
		return err
	}

	e.syncEntities(ctx)

	if e.bus != nil {
		e.bus.Fire(ctx, core.EventSceneReloaded, map[string]any{}, core.OriginLocal)
	}
	e.logger.Info("scenes reloaded", "count", e.registry.GetSceneCount(), "file", e.file)
	return nil
}

// Activate applies a scene by id and stamps its entity with the activation time.
//
// Entities are applied in sorted id order. A failing entity is recorded and
// the rest are still applied; the scene itself is only an error when it
// does not exist or ctx ends.
func (e *Engine) Activate(ctx context.Context, sceneID string) (*Activation, error) {
	s, err := e.registry.GetScene(sceneID)
	if err != nil {
		return nil, err
	}
	return e.activate(ctx, s)
}

// ActivateEntity applies the scene whose entity is entityID.
func (e *Engine) ActivateEntity(ctx context.Context, entityID string) (*Activation, error) {
	s, err := e.registry.GetSceneByEntityID(entityID)
	if err != nil {
		return nil, err
	}
	return e.activate(ctx, s)
}

func (e *Engine) activate(ctx context.Context, s *Scene) (*Activation, error) {
	act, err := e.apply(ctx, s.ID, s.Entities)
	if err != nil {
		return act, err
	}

	st, err := e.publishEntity(ctx, s, core.FormatTime(act.ActivatedAt))
	if err != nil {
		e.logger.Warn("updating scene entity failed", "scene_id", s.ID, "error", err)
	} else {
		act.Applied = append(act.Applied, st)
	}

	e.logger.Info("scene activated",
		"scene_id", s.ID,
		"entities", s.EntityCount(),
		"failed", len(act.Failures),
	)
	return act, nil
}

// Apply drives entities to their targets without a stored scene.
func (e *Engine) Apply(ctx context.Context, entities map[string]EntityTarget) (*Activation, error) {
	return e.apply(ctx, "", entities)
}

func (e *Engine) apply(ctx context.Context, sceneID string, entities map[string]EntityTarget) (*Activation, error) {
	ctx, cancel := context.WithTimeout(ctx, maxActivationTime)
	defer cancel()
	ctx = core.WithContext(ctx, core.NewContext(ctx))

	act := &Activation{SceneID: sceneID, ActivatedAt: e.now().UTC()}
	tmp := Scene{Entities: entities}

	for _, id := range tmp.EntityIDs() {
		if err := ctx.Err(); err != nil {
			return act, fmt.Errorf("scene %q interrupted: %w", sceneID, err)
		}

		target := entities[id]
		st, err := e.services.Reproduce(ctx, id, target.State, target.Attributes, service.ReproduceOptions{CreateMissing: true})
		if err != nil {
			act.Failures = append(act.Failures, EntityFailure{EntityID: id, Error: err.Error()})
			e.logger.Warn("scene entity failed", "scene_id", sceneID, "entity_id", id, "error", err)
			continue
		}
		act.Applied = append(act.Applied, st)
	}
	return act, nil
}

// Create stores a scene built from explicit targets plus snapshots of the
// current state of snapshotIDs, then publishes its entity.
func (e *Engine) Create(ctx context.Context, id string, entities map[string]EntityTarget, snapshotIDs []string) (*Scene, error) {
	s := &Scene{ID: id, Name: id, Entities: make(map[string]EntityTarget, len(entities)+len(snapshotIDs))}
	for eid, t := range entities {
		s.Entities[eid] = t
	}
	for _, eid := range snapshotIDs {
		cur, err := e.store.Get(eid)
		if err != nil {
			e.logger.Warn("snapshot entity not found", "scene_id", id, "entity_id", eid)
			continue
		}
		s.Entities[eid] = EntityTarget{State: cur.State, Attributes: cur.Attributes}
	}

	if err := e.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save stores a scene definition and publishes its entity.
func (e *Engine) Save(ctx context.Context, s *Scene) error {
	if err := e.registry.SaveScene(ctx, s); err != nil {
		return err
	}
	state := core.StateUnknown
	if cur, err := e.store.Get(s.EntityID()); err == nil {
		state = cur.State
	}
	_, err := e.publishEntity(ctx, s, state)
	return err
}

// Delete removes a stored scene and its entity.
func (e *Engine) Delete(ctx context.Context, sceneID string) error {
	s, err := e.registry.GetScene(sceneID)
	if err != nil {
		return err
	}
	if err := e.registry.DeleteScene(ctx, sceneID); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.published, s.EntityID())
	e.mu.Unlock()
	e.store.Delete(ctx, s.EntityID())
	return nil
}

// syncEntities publishes an entity per scene and removes entities of scenes
// that no longer exist.
func (e *Engine) syncEntities(ctx context.Context) {
	current := make(map[string]struct{})
	for _, s := range e.registry.ListScenes() {
		state := core.StateUnknown
		if cur, err := e.store.Get(s.EntityID()); err == nil {
			state = cur.State
		}
		if _, err := e.publishEntity(ctx, &s, state); err != nil {
			e.logger.Warn("publishing scene entity failed", "scene_id", s.ID, "error", err)
			continue
		}
		current[s.EntityID()] = struct{}{}
	}

	e.mu.Lock()
	var stale []string
	for id := range e.published {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
			delete(e.published, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		e.store.Delete(ctx, id)
	}
}

func (e *Engine) publishEntity(ctx context.Context, s *Scene, state string) (core.EntityState, error) {
	ids := s.EntityIDs()
	attrs := map[string]any{
		"id":            s.ID,
		"friendly_name": s.Name,
		"name":          s.Name,
		"entity_id":     ids,
		"entities":      ids,
		"entity_count":  len(ids),
	}
	if s.Icon != "" {
		attrs["icon"] = s.Icon
	}

	st, _, err := e.store.Set(ctx, s.EntityID(), state, attrs)
	if err != nil {
		return core.EntityState{}, err
	}

	e.mu.Lock()
	e.published[s.EntityID()] = struct{}{}
	e.mu.Unlock()
	return st, nil
}

// IsNotFound reports whether err means the scene does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSceneNotFound)
}
