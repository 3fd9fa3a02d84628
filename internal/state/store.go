package state

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Publisher receives state_changed events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(ev core.Event)
}

// Logger defines the logging interface used by the Store.
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

type noopPublisher struct{}

func (noopPublisher) Publish(core.Event) {}

// UpdateFunc computes the next state from the current record.
// cur is nil when the entity does not exist yet and is a private copy otherwise.
// Returning ok=false leaves the store untouched.
type UpdateFunc func(cur *core.EntityState) (state string, attrs map[string]any, ok bool)

// entry serialises writes for one entity id.
type entry struct {
	mu      sync.Mutex
	current atomic.Pointer[core.EntityState]
	removed bool // set under mu once the entry left the map
}

// Store is the in-memory entity state store.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Records handed out are deep copies.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*entry

	bus    Publisher
	logger Logger
	now    func() time.Time
}

// New creates an empty store publishing to bus (nil discards events).
func New(bus Publisher) *Store {
	if bus == nil {
		bus = noopPublisher{}
	}
	return &Store{
		entities: make(map[string]*entry),
		bus:      bus,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns a copy of the entity's current record.
// Returns core.ErrNotFound if the entity does not exist.
func (s *Store) Get(entityID string) (core.EntityState, error) {
	s.mu.RLock()
	e, ok := s.entities[entityID]
	s.mu.RUnlock()
	if !ok {
		return core.EntityState{}, core.ErrNotFound
	}
	cur := e.current.Load()
	if cur == nil {
		return core.EntityState{}, core.ErrNotFound
	}
	return *cur.Clone(), nil
}

// Has reports whether the entity exists.
func (s *Store) Has(entityID string) bool {
	_, err := s.Get(entityID)
	return err == nil
}

// Set creates or replaces an entity. Attributes replace the previous map entirely.
// created is true when the entity did not exist before.
func (s *Store) Set(ctx context.Context, entityID, state string, attrs map[string]any) (core.EntityState, bool, error) {
	change, err := s.Update(ctx, entityID, func(*core.EntityState) (string, map[string]any, bool) {
		return state, attrs, true
	})
	if err != nil {
		return core.EntityState{}, false, err
	}
	return *change.New, change.Old == nil, nil
}

// Update runs fn under the entity lock and stores its result.
// The returned change is nil when fn declined to write.
func (s *Store) Update(ctx context.Context, entityID string, fn UpdateFunc) (*core.StateChange, error) {
	if !core.ValidEntityID(entityID) {
		return nil, core.ErrInvalidEntityID
	}

	for {
		e := s.entry(entityID)
		e.mu.Lock()
		if e.removed {
			// Lost a race with Delete; retry against the fresh entry.
			e.mu.Unlock()
			continue
		}
		change := s.apply(ctx, entityID, e, fn)
		e.mu.Unlock()
		return change, nil
	}
}

// apply must be called with e.mu held.
func (s *Store) apply(ctx context.Context, entityID string, e *entry, fn UpdateFunc) *core.StateChange {
	old := e.current.Load()

	state, attrs, ok := fn(old.Clone())
	if !ok {
		if old == nil {
			s.discard(entityID, e)
		}
		return nil
	}

	now := s.now().UTC()
	next := &core.EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  core.CloneMap(attrs),
		LastChanged: now,
		LastUpdated: now,
		Context:     core.NewContext(ctx),
	}
	if next.Attributes == nil {
		next.Attributes = map[string]any{}
	}
	if old != nil {
		if next.LastUpdated.Before(old.LastUpdated) {
			next.LastUpdated = old.LastUpdated
		}
		if old.State == state {
			next.LastChanged = old.LastChanged
		} else {
			next.LastChanged = next.LastUpdated
		}
	}
	e.current.Store(next)

	change := core.StateChange{EntityID: entityID, Old: old.Clone(), New: next.Clone()}
	s.bus.Publish(core.NewStateChangedEvent(change, next.Context, next.LastUpdated))

	s.logger.Debug("state written", "entity_id", entityID, "state", state)
	return &change
}

// Delete removes an entity and publishes a state_changed event with no new state.
// Returns false if the entity did not exist.
func (s *Store) Delete(ctx context.Context, entityID string) bool {
	s.mu.RLock()
	e, ok := s.entities[entityID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	if e.removed || old == nil {
		return false
	}
	s.discard(entityID, e)

	c := core.NewContext(ctx)
	change := core.StateChange{EntityID: entityID, Old: old.Clone()}
	s.bus.Publish(core.NewStateChangedEvent(change, c, s.now().UTC()))

	s.logger.Info("entity removed", "entity_id", entityID)
	return true
}

// entry returns the entry for id, creating an empty one if needed.
func (s *Store) entry(entityID string) *entry {
	s.mu.RLock()
	e, ok := s.entities[entityID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entities[entityID]; ok {
		return e
	}
	e = &entry{}
	s.entities[entityID] = e
	return e
}

// discard must be called with e.mu held.
func (s *Store) discard(entityID string, e *entry) {
	e.removed = true
	s.mu.Lock()
	if s.entities[entityID] == e {
		delete(s.entities, entityID)
	}
	s.mu.Unlock()
}

// Filter narrows List. Zero value matches everything.
type Filter struct {
	Domain    string
	EntityIDs []string
}

func (f Filter) matches(st *core.EntityState, ids map[string]struct{}) bool {
	if f.Domain != "" && st.Domain() != f.Domain {
		return false
	}
	if ids != nil {
		if _, ok := ids[st.EntityID]; !ok {
			return false
		}
	}
	return true
}

// List returns copies of all matching entities, sorted by entity id.
func (s *Store) List(filter Filter) []core.EntityState {
	var ids map[string]struct{}
	if len(filter.EntityIDs) > 0 {
		ids = make(map[string]struct{}, len(filter.EntityIDs))
		for _, id := range filter.EntityIDs {
			ids[id] = struct{}{}
		}
	}

	s.mu.RLock()
	out := make([]core.EntityState, 0, len(s.entities))
	for _, e := range s.entities {
		cur := e.current.Load()
		if cur == nil || !filter.matches(cur, ids) {
			continue
		}
		out = append(out, *cur.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// EntityIDs returns the sorted ids of every entity in domain ("" for all).
func (s *Store) EntityIDs(domain string) []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entities))
	for id, e := range s.entities {
		if e.current.Load() == nil {
			continue
		}
		if domain != "" && core.Domain(id) != domain {
			continue
		}
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of entities.
func (s *Store) Count() int {
	return len(s.EntityIDs(""))
}

// Domains returns entity counts per domain.
func (s *Store) Domains() map[string]int {
	out := make(map[string]int)
	for _, id := range s.EntityIDs("") {
		out[core.Domain(id)]++
	}
	return out
}
