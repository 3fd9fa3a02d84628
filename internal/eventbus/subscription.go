package eventbus

import (
	"sync/atomic"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Subscription is one live registration on the bus.
type Subscription struct {
	id        uint64
	eventType string
	ch        chan core.Event
	bus       *Bus
	dropped   atomic.Uint64
}

// ID returns the bus-wide subscription id.
func (s *Subscription) ID() uint64 {
	return s.id
}

// EventType returns the filter; MatchAll means every event.
func (s *Subscription) EventType() string {
	return s.eventType
}

// Events returns the delivery channel. It is closed on Close/Unsubscribe.
func (s *Subscription) Events() <-chan core.Event {
	return s.ch
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call any number of times.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s.id)
}

func (s *Subscription) matches(eventType string) bool {
	return s.eventType == MatchAll || s.eventType == eventType
}
