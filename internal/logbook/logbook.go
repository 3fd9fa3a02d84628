package logbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second

	hubName = "Home Assistant"
)

// Bus is the part of the event bus the logbook uses.
type Bus interface {
	SubscribeSize(eventType string, queueSize int) *eventbus.Subscription
	Fire(ctx context.Context, eventType string, data map[string]any, origin core.Origin) core.Event
}

// Logger defines the logging interface used by the Logbook.
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

// Logbook turns bus events into entries.
//
// Thread Safety: all methods are safe for concurrent use.
type Logbook struct {
	repo   Repository
	bus    Bus
	logger Logger
	now    func() time.Time
	keep   time.Duration

	mu     sync.Mutex
	sub    *eventbus.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a logbook. Nothing is written until Start.
func New(repo Repository, bus Bus) *Logbook {
	return &Logbook{
		repo:   repo,
		bus:    bus,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the logbook.
func (l *Logbook) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// SetClock overrides the time source used for purging.
func (l *Logbook) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// SetKeepDays sets how long entries are kept. Zero disables purging.
func (l *Logbook) SetKeepDays(days int) {
	l.keep = time.Duration(days) * 24 * time.Hour
}

// Start subscribes to the bus.
func (l *Logbook) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.sub = l.bus.SubscribeSize(eventbus.MatchAll, defaultQueueSize)
	l.done = make(chan struct{})
	go l.run(runCtx, l.sub, l.done)
	return nil
}

// Stop unsubscribes and waits for the writer.
func (l *Logbook) Stop() {
	l.mu.Lock()
	cancel, sub, done := l.cancel, l.sub, l.done
	l.cancel, l.sub, l.done = nil, nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	sub.Close()
	<-done
}

// Entries answers a logbook query.
func (l *Logbook) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	return l.repo.List(ctx, f)
}

// Purge deletes entries older than the keep window.
func (l *Logbook) Purge(ctx context.Context) (int64, error) {
	if l.keep <= 0 {
		return 0, nil
	}
	return l.repo.Purge(ctx, l.now().Add(-l.keep))
}

// ServiceRegistrar is the part of the service registry logbook.log is registered into.
type ServiceRegistrar interface {
	Register(domain, name string, h service.Handler) error
}

// RegisterServices installs logbook.log.
func (l *Logbook) RegisterServices(reg ServiceRegistrar) error {
	if err := reg.Register(Domain, "log", l.handleLog); err != nil {
		return fmt.Errorf("registering logbook.log: %w", err)
	}
	return nil
}

func (l *Logbook) handleLog(ctx context.Context, call *service.ServiceCall) (service.Result, error) {
	name, _ := call.Data["name"].(string)
	message, _ := call.Data["message"].(string)
	if name == "" || message == "" {
		return service.Result{}, fmt.Errorf("%w: name and message are required", service.ErrInvalidData)
	}
	data := map[string]any{"name": name, "message": message}
	if id, ok := call.Data["entity_id"].(string); ok {
		data["entity_id"] = id
	} else if len(call.Targets) > 0 {
		data["entity_id"] = call.Targets[0]
	}
	if domain, ok := call.Data["domain"].(string); ok {
		data["domain"] = domain
	}
	l.bus.Fire(ctx, EventLogbookEntry, data, core.OriginLocal)
	return service.Result{}, nil
}

func (l *Logbook) run(ctx context.Context, sub *eventbus.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			e, keep := Describe(ev)
			if !keep {
				continue
			}
			l.write(e)
		}
	}
}

func (l *Logbook) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.repo.Create(ctx, &e); err != nil {
		l.logger.Warn("writing logbook entry failed", "event_type", e.EventType, "error", err)
	}
}

// Describe maps an event to an entry. The second result is false for
// events the logbook does not show.
func Describe(ev core.Event) (Entry, bool) {
	e := Entry{
		When:      ev.TimeFired,
		EventType: ev.EventType,
		ContextID: ev.Context.ID,
		UserID:    ev.Context.UserID,
	}

	switch ev.EventType {
	case core.EventStateChanged:
		return describeStateChange(ev, e)

	case core.EventAutomationTriggered:
		e.Name, _ = ev.Data["name"].(string)
		e.EntityID, _ = ev.Data["entity_id"].(string)
		e.Domain = "automation"
		e.Message = "triggered"
		if src, _ := ev.Data["source"].(string); src != "" {
			e.Source = src
			e.Message = "triggered by " + src
		}
		return e, e.EntityID != ""

	case core.EventHubStart:
		e.Name, e.Message, e.Domain = hubName, "started", "homeassistant"
		return e, true

	case core.EventHubStop:
		e.Name, e.Message, e.Domain = hubName, "stopped", "homeassistant"
		return e, true

	case EventLogbookEntry:
		e.Name, _ = ev.Data["name"].(string)
		e.Message, _ = ev.Data["message"].(string)
		e.EntityID, _ = ev.Data["entity_id"].(string)
		e.Domain, _ = ev.Data["domain"].(string)
		if e.Domain == "" && e.EntityID != "" {
			e.Domain = core.Domain(e.EntityID)
		}
		return e, e.Name != "" && e.Message != ""
	}
	return e, false
}

func describeStateChange(ev core.Event, e Entry) (Entry, bool) {
	change, ok := ev.StateChange()
	if !ok || change.New == nil {
		return e, false
	}
	if change.Old != nil && change.Old.State == change.New.State {
		return e, false
	}
	if _, continuous := change.New.Attributes["unit_of_measurement"]; continuous {
		return e, false
	}

	e.EntityID = change.EntityID
	e.Domain = change.New.Domain()
	e.State = change.New.State
	e.Name = change.EntityID
	if name, _ := change.New.Attributes["friendly_name"].(string); name != "" {
		e.Name = name
	}
	e.Message = stateMessage(change.New.State)
	return e, true
}

func stateMessage(state string) string {
	switch state {
	case core.StateOn:
		return "turned on"
	case core.StateOff:
		return "turned off"
	case core.StateUnavailable:
		return "became unavailable"
	case core.StateUnknown:
		return "became unknown"
	}
	return "changed to " + state
}
