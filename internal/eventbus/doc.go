// Package eventbus fans hub events out to independent subscribers.
//
// Every subscription owns a bounded channel. Publish enqueues without
// blocking: when a subscriber's channel is full the new event is dropped
// for that subscriber only and counted. Publish holds the bus lock while it
// enqueues, so all subscribers observe events in one global publish order
// and each subscriber sees them in the order Publish was called.
//
// Delivery is at-most-once. Unsubscribe is idempotent and closes the
// subscription's channel, which ends any range loop reading it.
//
//	sub := bus.Subscribe(core.EventStateChanged)
//	defer sub.Close()
//	for ev := range sub.Events() {
//	    ...
//	}
package eventbus
