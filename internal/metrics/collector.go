package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
)

const namespace = "grayhub"

// defaultQueueSize is the bus buffer for the metrics subscription.
const defaultQueueSize = 1024

// Bus is the part of the event bus the collector uses.
type Bus interface {
	SubscribeSize(eventType string, queueSize int) *eventbus.Subscription
	Stats() eventbus.Stats
}

// Counter reports how many entities exist.
type Counter interface {
	Count() int
}

// Collector counts bus traffic and serves /metrics.
type Collector struct {
	registry *prometheus.Registry
	bus      Bus

	events       *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
	serviceCalls *prometheus.CounterVec
	triggers     *prometheus.CounterVec

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a collector reading the bus and the entity count.
// Go runtime and process metrics are registered as well.
func New(bus Bus, states Counter) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bus:      bus,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published on the bus, by type.",
		}, []string{"event_type"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "State writes, by entity domain.",
		}, []string{"domain"}),
		serviceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_calls_total",
			Help:      "Service calls, by domain and service.",
		}, []string{"domain", "service"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_triggers_total",
			Help:      "Automation runs started, by automation entity.",
		}, []string{"entity_id"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.events, c.stateChanges, c.serviceCalls, c.triggers,
	)

	c.AddGauge("entities", "Entities in the state store.", func() float64 {
		return float64(states.Count())
	})
	c.AddGauge("bus_subscribers", "Live bus subscriptions.", func() float64 {
		return float64(bus.Stats().Subscribers)
	})
	c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_events_total",
		Help:      "Events dropped because a subscriber queue was full.",
	}, func() float64 {
		return float64(bus.Stats().Dropped)
	}))
	return c
}

// AddGauge registers a gauge read from fn at scrape time.
func (c *Collector) AddGauge(name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// AddCounter registers a monotonically increasing value read from fn.
func (c *Collector) AddCounter(name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Start subscribes to every event. Calling Start twice is a no-op.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	sub := c.bus.SubscribeSize(eventbus.MatchAll, defaultQueueSize)
	go c.run(runCtx, sub, c.done)
}

// Stop ends the subscription and waits for the loop to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Collector) run(ctx context.Context, sub *eventbus.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// Observe counts one event.
func (c *Collector) Observe(ev core.Event) {
	c.events.WithLabelValues(ev.EventType).Inc()

	switch ev.EventType {
	case core.EventStateChanged:
		if change, ok := ev.StateChange(); ok {
			c.stateChanges.WithLabelValues(core.Domain(change.EntityID)).Inc()
		}
	case core.EventCallService:
		domain, _ := ev.Data["domain"].(string)
		svc, _ := ev.Data["service"].(string)
		c.serviceCalls.WithLabelValues(domain, svc).Inc()
	case core.EventAutomationTriggered:
		id, _ := ev.Data["entity_id"].(string)
		c.triggers.WithLabelValues(id).Inc()
	}
}
