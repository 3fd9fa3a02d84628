package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// MatchAll subscribes to every event type.
const MatchAll = "*"

// DefaultQueueSize is the per-subscription buffer when none is given.
const DefaultQueueSize = 512

// Logger is the subset of logging.Logger the bus needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Dropped     uint64
}

// Bus is the hub's publish/subscribe registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Publish never blocks on a subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64

	queueSize int
	logger    Logger
	now       func() time.Time

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the default per-subscription buffer.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the time source for Fire.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[uint64]*Subscription),
		queueSize: DefaultQueueSize,
		logger:    noopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to every subscription whose filter matches.
func (b *Bus) Publish(ev core.Event) {
	b.published.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.matches(ev.EventType) {
			continue
		}
		select {
		case sub.ch <- ev:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			if sub.dropped.Add(1) == 1 {
				b.logger.Warn("subscriber queue full, dropping events",
					"subscription", sub.id,
					"event_type", ev.EventType,
					"queue_size", cap(sub.ch),
				)
			}
		}
	}
}

// Fire builds an event with a fresh context (parented on ctx) and publishes it.
func (b *Bus) Fire(ctx context.Context, eventType string, data map[string]any, origin core.Origin) core.Event {
	if origin == "" {
		origin = core.OriginLocal
	}
	ev := core.Event{
		EventType: eventType,
		Data:      data,
		Origin:    origin,
		TimeFired: b.now(),
		Context:   core.NewContext(ctx),
	}
	b.Publish(ev)
	return ev
}

// Subscribe registers a subscription for eventType ("" or MatchAll for every event)
// with the bus default queue size.
func (b *Bus) Subscribe(eventType string) *Subscription {
	return b.SubscribeSize(eventType, b.queueSize)
}

// SubscribeSize is Subscribe with an explicit queue size.
func (b *Bus) SubscribeSize(eventType string, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = b.queueSize
	}
	if eventType == "" {
		eventType = MatchAll
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		eventType: eventType,
		ch:        make(chan core.Event, queueSize),
		bus:       b,
	}
	b.subs[sub.id] = sub

	b.logger.Debug("subscription added", "subscription", sub.id, "event_type", eventType)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
// Unknown or already-removed ids are a no-op returning false.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(sub.ch)

	b.logger.Debug("subscription removed", "subscription", id, "dropped", sub.dropped.Load())
	return true
}

// Listeners returns the number of subscriptions per event-type filter.
func (b *Bus) Listeners() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int)
	for _, sub := range b.subs {
		out[sub.eventType]++
	}
	return out
}

// Stats returns counters for metrics.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()

	return Stats{
		Subscribers: n,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Close removes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
