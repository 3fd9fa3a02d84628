package scene

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds every known scene: read-only ones from scenes.yaml and
// runtime ones backed by a Store. A file scene shadows a stored scene with
// the same id. With a nil Store, runtime scenes live in memory only.
//
// Scenes handed out are deep copies. Safe for concurrent use.
type Registry struct {
	store  Store
	logger Logger

	mu     sync.RWMutex
	file   map[string]*Scene
	stored map[string]*Scene
}

// NewRegistry creates a registry over store, which may be nil.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		logger: noopLogger{},
		file:   make(map[string]*Scene),
		stored: make(map[string]*Scene),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// lookup returns the visible scene for id. Callers hold r.mu.
func (r *Registry) lookup(id string) (*Scene, bool) {
	if s, ok := r.file[id]; ok {
		return s, true
	}
	s, ok := r.stored[id]
	return s, ok
}

// RefreshCache replaces the runtime scenes with what the store holds.
func (r *Registry) RefreshCache(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	scenes, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}

	stored := make(map[string]*Scene, len(scenes))
	for i := range scenes {
		s := scenes[i].DeepCopy()
		s.Source = SourceStorage
		stored[s.ID] = s
	}

	r.mu.Lock()
	r.stored = stored
	for id := range stored {
		if _, ok := r.file[id]; ok {
			r.logger.Warn("stored scene shadowed by scenes.yaml", "id", id)
		}
	}
	count := r.countLocked()
	r.mu.Unlock()

	r.logger.Info("scene cache refreshed", "count", count)
	return nil
}

// SetFileScenes replaces every scenes.yaml scene.
func (r *Registry) SetFileScenes(scenes []Scene) {
	file := make(map[string]*Scene, len(scenes))
	for i := range scenes {
		s := scenes[i].DeepCopy()
		s.Source = SourceFile
		file[s.ID] = s
	}

	r.mu.Lock()
	r.file = file
	r.mu.Unlock()
}

// GetScene returns the scene with id.
func (r *Registry) GetScene(id string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.lookup(id); ok {
		return s.DeepCopy(), nil
	}
	return nil, ErrSceneNotFound
}

// GetSceneByEntityID returns the scene exposed as entityID (scene.<slug>).
// An exact id match wins over a slug match.
func (r *Registry) GetSceneByEntityID(entityID string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.lookup(entityID); ok {
		return s.DeepCopy(), nil
	}
	for _, s := range r.visibleLocked() {
		if s.EntityID() == entityID {
			return s.DeepCopy(), nil
		}
	}
	return nil, ErrSceneNotFound
}

// ListScenes returns every visible scene sorted by name then id.
func (r *Registry) ListScenes() []Scene {
	r.mu.RLock()
	visible := r.visibleLocked()
	out := make([]Scene, 0, len(visible))
	for _, s := range visible {
		out = append(out, *s.DeepCopy())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Scene) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// visibleLocked returns file scenes plus stored scenes they do not shadow.
func (r *Registry) visibleLocked() []*Scene {
	out := make([]*Scene, 0, len(r.file)+len(r.stored))
	for _, s := range r.file {
		out = append(out, s)
	}
	for id, s := range r.stored {
		if _, shadowed := r.file[id]; !shadowed {
			out = append(out, s)
		}
	}
	return out
}

// SaveScene validates scene and creates or replaces it, filling in a
// generated id and a default name. Scenes from scenes.yaml are read-only.
func (r *Registry) SaveScene(ctx context.Context, scene *Scene) error {
	if scene.ID == "" {
		scene.ID = GenerateID()
	}
	if scene.Name == "" {
		scene.Name = scene.ID
	}
	if err := ValidateScene(scene); err != nil {
		return err
	}

	r.mu.RLock()
	_, readOnly := r.file[scene.ID]
	r.mu.RUnlock()
	if readOnly {
		return ErrReadOnly
	}

	if r.store != nil {
		if err := r.store.Save(ctx, scene); err != nil {
			return err
		}
	}
	scene.Source = SourceStorage

	r.mu.Lock()
	r.stored[scene.ID] = scene.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("scene saved", "id", scene.ID, "name", scene.Name, "entities", scene.EntityCount())
	return nil
}

// DeleteScene removes a runtime scene.
func (r *Registry) DeleteScene(ctx context.Context, id string) error {
	r.mu.RLock()
	_, readOnly := r.file[id]
	_, known := r.stored[id]
	r.mu.RUnlock()

	switch {
	case readOnly:
		return ErrReadOnly
	case !known:
		return ErrSceneNotFound
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrSceneNotFound) {
			return err
		}
	}

	r.mu.Lock()
	delete(r.stored, id)
	r.mu.Unlock()

	r.logger.Info("scene deleted", "id", id)
	return nil
}

// GetSceneCount returns the number of visible scenes.
func (r *Registry) GetSceneCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked()
}

func (r *Registry) countLocked() int {
	n := len(r.file)
	for id := range r.stored {
		if _, shadowed := r.file[id]; !shadowed {
			n++
		}
	}
	return n
}
