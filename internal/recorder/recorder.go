package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
	purgeInterval    = 24 * time.Hour

	// unitAttribute tags numeric points with their unit.
	unitAttribute = "unit_of_measurement"
)

// Subscriber is the part of the event bus the recorder reads from.
type Subscriber interface {
	SubscribeSize(eventType string, queueSize int) *eventbus.Subscription
}

// NumericSink receives numeric states. *influxdb.Client satisfies it.
type NumericSink interface {
	WriteEntityState(entityID, domain string, value float64, unit string, ts time.Time)
}

// Logger defines the logging interface used by the Recorder.
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

// Recorder writes bus traffic to a Repository.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	repo   Repository
	bus    Subscriber
	sink   NumericSink
	logger Logger
	now    func() time.Time

	queueSize int
	keep      time.Duration
	exclude   map[string]struct{}

	mu     sync.Mutex
	sub    *eventbus.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a recorder. Nothing is recorded until Start.
func New(repo Repository, bus Subscriber) *Recorder {
	return &Recorder{
		repo:      repo,
		bus:       bus,
		logger:    noopLogger{},
		now:       time.Now,
		queueSize: defaultQueueSize,
		exclude:   map[string]struct{}{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetClock overrides the time source used for purging. Intended for tests.
func (r *Recorder) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// SetInflux enables numeric state export.
func (r *Recorder) SetInflux(sink NumericSink) {
	r.sink = sink
}

// SetQueueSize sets the subscription buffer. Takes effect on Start.
func (r *Recorder) SetQueueSize(n int) {
	if n > 0 {
		r.queueSize = n
	}
}

// SetKeepDays sets how long rows are kept. Zero disables purging.
func (r *Recorder) SetKeepDays(days int) {
	r.keep = time.Duration(days) * 24 * time.Hour
}

// Exclude stops events of the given types from being recorded.
func (r *Recorder) Exclude(eventTypes ...string) {
	for _, t := range eventTypes {
		r.exclude[t] = struct{}{}
	}
}

// Start subscribes to the bus and begins recording.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.sub = r.bus.SubscribeSize(eventbus.MatchAll, r.queueSize)
	r.done = make(chan struct{})

	go r.run(runCtx, r.sub, r.done)
	r.logger.Info("recorder started", "queue_size", r.queueSize, "keep", r.keep)
	return nil
}

// Stop ends recording and waits for the writer to finish its current row.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel, sub, done := r.cancel, r.sub, r.done
	r.cancel, r.sub, r.done = nil, nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	sub.Close()
	<-done

	if n := sub.Dropped(); n > 0 {
		r.logger.Warn("recorder dropped events", "count", n)
	}
}

// History answers a history query from the repository.
func (r *Recorder) History(ctx context.Context, q Query) ([][]core.EntityState, error) {
	return r.repo.History(ctx, q)
}

// Purge deletes rows older than the keep window. It is a no-op when purging is disabled.
func (r *Recorder) Purge(ctx context.Context) (int64, error) {
	if r.keep <= 0 {
		return 0, nil
	}
	n, err := r.repo.Purge(ctx, r.now().Add(-r.keep))
	if err != nil {
		return n, err
	}
	if n > 0 {
		r.logger.Info("recorder purged rows", "count", n)
	}
	return n, nil
}

func (r *Recorder) run(ctx context.Context, sub *eventbus.Subscription, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Purge(ctx); err != nil {
				r.logger.Warn("recorder purge failed", "error", err)
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			r.record(ev)
		}
	}
}

// record writes one event. Failures are logged; the event is lost.
func (r *Recorder) record(ev core.Event) {
	if _, skip := r.exclude[ev.EventType]; skip {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	change, isState := ev.StateChange()
	if !isState {
		if err := r.repo.RecordEvent(ctx, ev); err != nil {
			r.logger.Warn("recording event failed", "event_type", ev.EventType, "error", err)
		}
		return
	}

	if change.New == nil {
		if err := r.repo.RecordRemoval(ctx, change.EntityID, ev.TimeFired); err != nil {
			r.logger.Warn("recording removal failed", "entity_id", change.EntityID, "error", err)
		}
		return
	}

	if err := r.repo.RecordState(ctx, *change.New); err != nil {
		r.logger.Warn("recording state failed", "entity_id", change.EntityID, "error", err)
	}
	r.export(change.New)
}

// export sends numeric states to the sink.
func (r *Recorder) export(st *core.EntityState) {
	if r.sink == nil {
		return
	}
	v, ok := core.ToFloat(st.State)
	if !ok {
		return
	}
	unit, _ := st.Attributes[unitAttribute].(string)
	r.sink.WriteEntityState(st.EntityID, st.Domain(), v, unit, st.LastUpdated)
}
