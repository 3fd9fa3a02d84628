package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/sun"
)

// StateStore is the subset of the state store the engine needs.
type StateStore interface {
	Get(entityID string) (core.EntityState, error)
	Set(ctx context.Context, entityID, state string, attrs map[string]any) (core.EntityState, bool, error)
	Delete(ctx context.Context, entityID string) bool
}

// ServiceCaller runs service actions. *service.Registry satisfies it.
type ServiceCaller interface {
	Call(ctx context.Context, domain, service string, targets []string, data map[string]any) (service.Result, error)
}

// Bus is the event bus the engine listens on and fires into.
type Bus interface {
	SubscribeSize(eventType string, queueSize int) *eventbus.Subscription
	Fire(ctx context.Context, eventType string, data map[string]any, origin core.Origin) core.Event
}

// Renderer evaluates templates in conditions and action data.
type Renderer interface {
	Render(expr string, vars map[string]any) (string, error)
	RenderBool(expr string, vars map[string]any) (bool, error)
	RenderValue(v any, vars map[string]any) (any, error)
}

// Logger defines the logging interface used by the Engine.
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

const (
	// defaultQueueSize is the engine's bus subscription buffer.
	defaultQueueSize = 1024

	// maxCatchUp bounds how many missed seconds the scheduler replays after a stall.
	maxCatchUp = 60 * time.Second

	// publishTimeout bounds entity writes made outside a run.
	publishTimeout = 5 * time.Second
)

// Engine evaluates automations against bus events and the clock.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	states   StateStore
	services ServiceCaller
	bus      Bus
	renderer Renderer
	store    *FileStore
	sun      *sun.Calculator
	logger   Logger
	now      func() time.Time
	loc      *time.Location

	queueSize int

	mu          sync.RWMutex
	automations map[string]*automation // by entity id
	ordered     []*automation          // sorted by entity id

	runMu    sync.Mutex // guards the dispatch/scheduler lifecycle
	sub      *eventbus.Subscription
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastTick time.Time
}

// NewEngine creates an automation engine.
func NewEngine(states StateStore, services ServiceCaller, bus Bus, renderer Renderer) *Engine {
	return &Engine{
		states:      states,
		services:    services,
		bus:         bus,
		renderer:    renderer,
		logger:      noopLogger{},
		now:         time.Now,
		loc:         time.Local,
		queueSize:   defaultQueueSize,
		automations: make(map[string]*automation),
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

// SetLocation sets the zone used for time triggers and conditions.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc != nil {
		e.loc = loc
	}
}

// SetSun enables sun triggers and conditions.
func (e *Engine) SetSun(calc *sun.Calculator) {
	e.sun = calc
}

// SetStore sets the automations.yaml store read by Reload.
func (e *Engine) SetStore(store *FileStore) {
	e.store = store
}

// Store returns the configured file store, or nil.
func (e *Engine) Store() *FileStore {
	return e.store
}

// SetQueueSize sets the bus subscription buffer. Takes effect on Start.
func (e *Engine) SetQueueSize(n int) {
	if n > 0 {
		e.queueSize = n
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// Start subscribes to the bus and starts the dispatch loop and the
// once-a-second scheduler. Calling Start twice is a no-op.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.sub = e.bus.SubscribeSize(eventbus.MatchAll, e.queueSize)
	e.lastTick = e.now().Truncate(time.Second)

	e.wg.Add(2)
	go e.dispatch(ctx, e.sub)
	go e.schedule(ctx)
	e.logger.Info("automation engine started", "automations", e.Count())
}

// Stop halts dispatch and every automation worker. Safe to call more than once.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.sub.Close()
		e.cancel = nil
	}
	e.runMu.Unlock()
	e.wg.Wait()

	e.mu.Lock()
	all := e.ordered
	e.mu.Unlock()
	for _, a := range all {
		a.stop()
	}
}

func (e *Engine) dispatch(ctx context.Context, sub *eventbus.Subscription) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) schedule(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(e.now())
		}
	}
}

// handleEvent offers ev to every enabled automation. A disabled automation
// is skipped before any trigger is looked at.
func (e *Engine) handleEvent(ev core.Event) {
	for _, a := range e.snapshot() {
		if !a.isEnabled() {
			continue
		}
		vars, source, ok := e.matchEvent(a, ev)
		if !ok {
			continue
		}
		a.enqueue(&run{vars: vars, source: source, parent: ev.Context})
	}
}

// tick evaluates clock triggers for every whole second since the previous tick.
func (e *Engine) tick(now time.Time) {
	now = now.Truncate(time.Second)

	e.runMu.Lock()
	from := e.lastTick
	if from.IsZero() || now.Sub(from) > maxCatchUp {
		from = now.Add(-time.Second)
	}
	if !now.After(from) {
		e.runMu.Unlock()
		return
	}
	e.lastTick = now
	e.runMu.Unlock()

	automations := e.snapshot()
	for s := from.Add(time.Second); !s.After(now); s = s.Add(time.Second) {
		for _, a := range automations {
			if !a.isEnabled() || !a.hasClockTrigger {
				continue
			}
			if vars, source, ok := e.matchTime(a, s); ok {
				a.enqueue(&run{vars: vars, source: source})
			}
		}
	}
}

// HandleWebhook triggers every enabled automation listening on webhookID.
// It reports whether any automation matched.
func (e *Engine) HandleWebhook(ctx context.Context, webhookID string, req WebhookRequest) bool {
	parent, _ := core.FromContext(ctx)
	matched := false
	for _, a := range e.snapshot() {
		if !a.isEnabled() {
			continue
		}
		for i := range a.cfg.Triggers {
			t := &a.cfg.Triggers[i]
			if t.Platform != PlatformWebhook || t.WebhookID != webhookID {
				continue
			}
			vars := map[string]any{"trigger": map[string]any{
				"platform":   PlatformWebhook,
				"id":         triggerID(t, i),
				"webhook_id": webhookID,
				"method":     req.Method,
				"json":       req.JSON,
				"data":       req.Data,
				"query":      req.Query,
			}}
			a.enqueue(&run{vars: vars, source: "webhook " + webhookID, parent: parent})
			matched = true
			break
		}
	}
	return matched
}

// ─── Configuration ──────────────────────────────────────────────────

// Reload re-reads automations.yaml and replaces the running set.
// Definitions that fail to parse are logged and skipped.
func (e *Engine) Reload(ctx context.Context) error {
	// Called from an action, ctx belongs to a run that the load cancels.
	ctx = context.WithoutCancel(ctx)

	var configs []*Config
	if e.store != nil {
		raws, err := e.store.Load()
		if err != nil {
			return err
		}
		var parseErr error
		configs, parseErr = DecodeAll(raws)
		if parseErr != nil {
			e.logger.Warn("skipping invalid automations", "error", parseErr)
		}
	}

	e.Load(ctx, configs)
	e.bus.Fire(ctx, core.EventAutomationReloaded, map[string]any{}, core.OriginLocal)
	return nil
}

// Load replaces every automation with configs. Automations that survive a
// load keep their enabled state unless initial_state says otherwise.
// When an automation's own action triggers the load, its run is cancelled
// but not waited for.
func (e *Engine) Load(ctx context.Context, configs []*Config) {
	ctx = context.WithoutCancel(ctx)
	self := runningOn(ctx)

	e.mu.Lock()
	old := e.automations

	next := make(map[string]*automation, len(configs))
	ordered := make([]*automation, 0, len(configs))
	for _, cfg := range configs {
		entityID := uniqueEntityID(next, cfg.ObjectID())

		enabled := true
		if prev, ok := old[entityID]; ok {
			enabled = prev.isEnabled()
		}
		if cfg.InitialState != nil {
			enabled = *cfg.InitialState
		}

		a := newAutomation(e, cfg, entityID, enabled)
		next[entityID] = a
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].entityID < ordered[j].entityID })

	e.automations = next
	e.ordered = ordered
	e.mu.Unlock()

	for id, a := range old {
		if a == self {
			a.halt()
		} else {
			a.stop()
		}
		if _, ok := next[id]; !ok {
			e.states.Delete(ctx, id)
		}
	}
	for _, a := range ordered {
		a.primeTemplates()
		a.start()
		a.publish(ctx)
	}

	e.logger.Info("automations loaded", "count", len(ordered))
}

func uniqueEntityID(taken map[string]*automation, objectID string) string {
	id := Domain + "." + objectID
	for n := 2; ; n++ {
		if _, ok := taken[id]; !ok {
			return id
		}
		id = fmt.Sprintf("%s.%s_%d", Domain, objectID, n)
	}
}

func (e *Engine) snapshot() []*automation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ordered
}

// lookup resolves an entity id, or automation.<id> for an automation's
// configured id when that differs from its entity id.
func (e *Engine) lookup(entityID string) (*automation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if a, ok := e.automations[entityID]; ok {
		return a, nil
	}
	if id, ok := strings.CutPrefix(entityID, Domain+"."); ok && id != "" {
		for _, a := range e.ordered {
			if a.cfg.ID == id {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
}

// Count returns the number of loaded automations.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ordered)
}

// List returns the runtime view of every automation, sorted by entity id.
func (e *Engine) List() []Info {
	all := e.snapshot()
	out := make([]Info, 0, len(all))
	for _, a := range all {
		out = append(out, a.info())
	}
	return out
}

// Get returns the runtime view of one automation.
func (e *Engine) Get(entityID string) (Info, error) {
	a, err := e.lookup(entityID)
	if err != nil {
		return Info{}, err
	}
	return a.info(), nil
}

// ─── Control ────────────────────────────────────────────────────────

// Enable turns an automation on.
func (e *Engine) Enable(ctx context.Context, entityID string) error {
	a, err := e.lookup(entityID)
	if err != nil {
		return err
	}
	a.setEnabled(ctx, true)
	return nil
}

// Disable turns an automation off and cancels its active and queued runs.
func (e *Engine) Disable(ctx context.Context, entityID string) error {
	a, err := e.lookup(entityID)
	if err != nil {
		return err
	}
	a.setEnabled(ctx, false)
	return nil
}

// Toggle flips an automation between on and off.
func (e *Engine) Toggle(ctx context.Context, entityID string) error {
	a, err := e.lookup(entityID)
	if err != nil {
		return err
	}
	a.setEnabled(ctx, !a.isEnabled())
	return nil
}

// Trigger queues a run of the automation without matching triggers.
// Conditions still apply unless skipCondition is set. Disabled
// automations can be triggered this way.
func (e *Engine) Trigger(ctx context.Context, entityID string, vars map[string]any, skipCondition bool) error {
	a, err := e.lookup(entityID)
	if err != nil {
		return err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	if _, ok := vars["trigger"]; !ok {
		vars["trigger"] = map[string]any{"platform": nil}
	}
	parent, _ := core.FromContext(ctx)
	a.enqueue(&run{vars: vars, source: "manual", parent: parent, skipCondition: skipCondition})
	return nil
}

// ─── Execution ──────────────────────────────────────────────────────

// execute runs one queued run on the automation's worker goroutine.
func (e *Engine) execute(ctx context.Context, a *automation, r *run) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("automation panicked", "automation", a.entityID, "panic", p)
		}
	}()

	runCtx := core.Context{ID: core.NewContextID(), ParentID: r.parent.ID, UserID: r.parent.UserID}
	ctx = core.WithContext(ctx, runCtx)

	start := e.now()
	e.bus.Fire(ctx, core.EventAutomationTriggered, map[string]any{
		"name":      a.cfg.Name(),
		"entity_id": a.entityID,
		"source":    r.source,
	}, core.OriginLocal)
	e.logger.Info("automation triggered", "automation", a.entityID, "source", r.source)

	err := e.runSequence(ctx, a, a.cfg.Actions, r.vars)
	switch {
	case err == nil, errors.Is(err, errStop):
		a.markTriggered(ctx, start)
	case ctx.Err() != nil:
		e.logger.Info("automation run cancelled", "automation", a.entityID)
	default:
		e.logger.Error("automation run failed", "automation", a.entityID, "error", err)
	}
}
