package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// Store is the subset of the state store the registry writes through.
type Store interface {
	Get(entityID string) (core.EntityState, error)
	Update(ctx context.Context, entityID string, fn state.UpdateFunc) (*core.StateChange, error)
	EntityIDs(domain string) []string
}

// EventFirer publishes call_service events. *eventbus.Bus satisfies it.
type EventFirer interface {
	Fire(ctx context.Context, eventType string, data map[string]any, origin core.Origin) core.Event
}

// Logger defines the logging interface used by the Registry.
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

// ServiceCall is one resolved invocation handed to a Handler.
type ServiceCall struct {
	Domain  string
	Service string
	Targets []string       // normalised, de-duplicated entity ids
	Data    map[string]any // call data without entity_id/target
	Context core.Context   // context minted for this call
}

// Result reports the effect of a call.
type Result struct {
	Changed []core.EntityState // new records written by the call
	Missing []string           // targets that did not exist and were skipped
}

func (r *Result) merge(other Result) {
	r.Changed = append(r.Changed, other.Changed...)
	r.Missing = append(r.Missing, other.Missing...)
}

// Handler runs a whole call.
type Handler func(ctx context.Context, call *ServiceCall) (Result, error)

// Transition is the outcome of an EntityHandler.
type Transition struct {
	State      string
	Attributes map[string]any
	Skip       bool // leave the entity untouched
}

// EntityHandler computes one entity's next record. cur is nil when the
// entity does not exist yet (scene activation may create it).
type EntityHandler func(cur *core.EntityState, data map[string]any) (Transition, error)

type registration struct {
	call   Handler
	entity EntityHandler
}

// ServiceInfo describes one service for /api/services.
type ServiceInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Fields      map[string]any `json:"fields"`
}

// DomainServices lists the services of one domain.
type DomainServices struct {
	Domain   string                 `json:"domain"`
	Services map[string]ServiceInfo `json:"services"`
}

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Registry dispatches service calls.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]registration

	store  Store
	bus    EventFirer
	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(store Store, bus EventFirer) *Registry {
	return &Registry{
		services: make(map[string]map[string]registration),
		store:    store,
		bus:      bus,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetClock overrides the time source used by time-stamping handlers.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Register installs a call-level handler, replacing any previous one.
func (r *Registry) Register(domain, service string, h Handler) error {
	return r.register(domain, service, registration{call: h})
}

// RegisterEntity installs a per-entity transition, replacing any previous one.
func (r *Registry) RegisterEntity(domain, service string, h EntityHandler) error {
	return r.register(domain, service, registration{entity: h})
}

func (r *Registry) register(domain, service string, reg registration) error {
	if !namePattern.MatchString(domain) || !namePattern.MatchString(service) {
		return fmt.Errorf("%w: %q.%q", ErrInvalidService, domain, service)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.services[domain] == nil {
		r.services[domain] = make(map[string]registration)
	}
	r.services[domain][service] = reg
	return nil
}

// Has reports whether (domain, service) has a registered handler.
func (r *Registry) Has(domain, service string) bool {
	_, ok := r.lookup(domain, service)
	return ok
}

func (r *Registry) lookup(domain, service string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.services[domain][service]
	return reg, ok
}

// Services lists every registered service, sorted by domain.
func (r *Registry) Services() []DomainServices {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DomainServices, 0, len(r.services))
	for domain, svcs := range r.services {
		ds := DomainServices{Domain: domain, Services: make(map[string]ServiceInfo, len(svcs))}
		for name := range svcs {
			ds.Services[name] = ServiceInfo{Name: name, Fields: map[string]any{}}
		}
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Call invokes domain.service. Targets come from targets plus data.entity_id
// and data.target.entity_id. An empty target list is a successful no-op for
// entity handlers. Unknown services succeed without effect.
func (r *Registry) Call(ctx context.Context, domain, service string, targets []string, data map[string]any) (Result, error) {
	data, ids := r.resolve(domain, targets, data)

	callCtx := core.NewContext(ctx)
	ctx = core.WithContext(ctx, callCtx)

	if r.bus != nil {
		serviceData := core.CloneMap(data)
		if len(ids) > 0 {
			serviceData["entity_id"] = ids
		}
		r.bus.Fire(ctx, core.EventCallService, map[string]any{
			"domain":       domain,
			"service":      service,
			"service_data": serviceData,
		}, core.OriginLocal)
	}

	call := &ServiceCall{Domain: domain, Service: service, Targets: ids, Data: data, Context: callCtx}

	reg, ok := r.lookup(domain, service)
	switch {
	case ok && reg.call != nil:
		return reg.call(ctx, call)
	case ok && reg.entity != nil:
		return r.ApplyEach(ctx, call.Targets, call.Data, reg.entity)
	}

	if h := genericHandler(service); h != nil {
		return r.ApplyEach(ctx, call.Targets, call.Data, h)
	}

	r.logger.Debug("unknown service, ignoring", "domain", domain, "service", service)
	return Result{}, nil
}

// resolve strips target keys from data and returns the normalised target list.
func (r *Registry) resolve(domain string, targets []string, data map[string]any) (map[string]any, []string) {
	clean := make(map[string]any, len(data))
	var raw []string
	raw = append(raw, targets...)
	for k, v := range data {
		switch k {
		case "entity_id":
			raw = append(raw, core.ToStringList(v)...)
		case "target":
			raw = append(raw, Targets(v)...)
		default:
			clean[k] = v
		}
	}
	return clean, r.normalise(domain, raw)
}

func (r *Registry) normalise(domain string, raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	add := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range raw {
		if id == "all" {
			scope := domain
			if domain == DomainHomeAssistant {
				scope = ""
			}
			for _, e := range r.store.EntityIDs(scope) {
				add(e)
			}
			continue
		}
		if !core.ValidEntityID(id) {
			r.logger.Debug("dropping invalid target", "entity_id", id)
			continue
		}
		add(id)
	}
	return out
}

// Targets extracts entity ids from a WebSocket/REST "target" value:
// a map with entity_id, a string, or a list.
func Targets(v any) []string {
	if m, ok := v.(map[string]any); ok {
		return core.ToStringList(m["entity_id"])
	}
	return core.ToStringList(v)
}

// ApplyEach applies h to every existing target under its entity lock.
// Missing targets are skipped and reported. Handler errors are joined;
// the remaining targets are still processed.
func (r *Registry) ApplyEach(ctx context.Context, targets []string, data map[string]any, h EntityHandler) (Result, error) {
	var res Result
	var errs []error

	for _, id := range targets {
		var missing bool
		var herr error
		change, err := r.store.Update(ctx, id, func(cur *core.EntityState) (string, map[string]any, bool) {
			if cur == nil {
				missing = true
				return "", nil, false
			}
			tr, err := h(cur, data)
			if err != nil {
				herr = err
				return "", nil, false
			}
			if tr.Skip {
				return "", nil, false
			}
			return tr.State, tr.Attributes, true
		})
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		case herr != nil:
			errs = append(errs, fmt.Errorf("%s: %w", id, herr))
		case missing:
			res.Missing = append(res.Missing, id)
		case change != nil:
			res.Changed = append(res.Changed, *change.New)
		}
	}

	if len(res.Missing) > 0 {
		r.logger.Debug("service targets not found", "entity_ids", res.Missing)
	}
	return res, errors.Join(errs...)
}
