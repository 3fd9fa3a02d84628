package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

func event(eventType string, n int) core.Event {
	return core.Event{EventType: eventType, Data: map[string]any{"n": n}}
}

func receive(t *testing.T, sub *Subscription) core.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %q", ev.EventType)
	default:
	}
}

func TestPublish_FilterMatching(t *testing.T) {
	bus := New()
	all := bus.Subscribe("")
	dotted := bus.Subscribe("zwave_js.value_updated")
	other := bus.Subscribe("state_changed")

	bus.Publish(event("zwave_js.value_updated", 1))

	assert.Equal(t, "zwave_js.value_updated", receive(t, all).EventType)
	assert.Equal(t, "zwave_js.value_updated", receive(t, dotted).EventType)
	assertEmpty(t, other)
}

func TestPublish_DotsAreLiteral(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("a.b")

	bus.Publish(event("aXb", 1))
	bus.Publish(event("a.b.c", 1))
	assertEmpty(t, sub)
}

func TestPublish_OrderedPerSubscriber(t *testing.T) {
	bus := New(WithQueueSize(1000))
	subs := []*Subscription{bus.Subscribe(MatchAll), bus.Subscribe("seq")}

	for i := 0; i < 500; i++ {
		bus.Publish(event("seq", i))
	}

	for _, sub := range subs {
		for i := 0; i < 500; i++ {
			assert.Equal(t, i, receive(t, sub).Data["n"])
		}
	}
}

func TestPublish_DropsNewestWhenFull(t *testing.T) {
	bus := New()
	slow := bus.SubscribeSize("x", 2)
	fast := bus.SubscribeSize("x", 10)

	for i := 0; i < 5; i++ {
		bus.Publish(event("x", i))
	}

	assert.Equal(t, 0, receive(t, slow).Data["n"])
	assert.Equal(t, 1, receive(t, slow).Data["n"])
	assertEmpty(t, slow)
	assert.Equal(t, uint64(3), slow.Dropped())

	for i := 0; i < 5; i++ {
		assert.Equal(t, i, receive(t, fast).Data["n"])
	}

	stats := bus.Stats()
	assert.Equal(t, uint64(5), stats.Published)
	assert.Equal(t, uint64(7), stats.Delivered)
	assert.Equal(t, uint64(3), stats.Dropped)
}

func TestPublish_NeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := New()
	bus.SubscribeSize("x", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(event("x", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("x")

	assert.True(t, bus.Unsubscribe(sub.ID()))
	assert.False(t, bus.Unsubscribe(sub.ID()))
	assert.False(t, bus.Unsubscribe(9999))
	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed")

	bus.Publish(event("x", 1))
	assert.Equal(t, 0, bus.Stats().Subscribers)
}

func TestUnsubscribe_ConcurrentWithPublish(t *testing.T) {
	bus := New(WithQueueSize(4))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				bus.Publish(event("x", 0))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		sub := bus.Subscribe("x")
		go func() {
			for range sub.Events() {
			}
		}()
		sub.Close()
	}

	close(stop)
	wg.Wait()
	assert.Equal(t, 0, bus.Stats().Subscribers)
}

func TestFire_BuildsEvent(t *testing.T) {
	fixed := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	bus := New(WithClock(func() time.Time { return fixed }))
	sub := bus.Subscribe("custom_event")

	parent := core.Context{ID: "parent"}
	fired := bus.Fire(core.WithContext(context.Background(), parent), "custom_event", map[string]any{"k": "v"}, "")

	got := receive(t, sub)
	assert.Equal(t, fired.Context.ID, got.Context.ID)
	assert.Equal(t, "parent", got.Context.ParentID)
	assert.Equal(t, core.OriginLocal, got.Origin)
	assert.Equal(t, fixed, got.TimeFired)
	assert.Equal(t, "v", got.Data["k"])
}

func TestListeners(t *testing.T) {
	bus := New()
	bus.Subscribe("state_changed")
	bus.Subscribe("state_changed")
	bus.Subscribe("")

	assert.Equal(t, map[string]int{"state_changed": 2, MatchAll: 1}, bus.Listeners())
}

func TestClose_ClosesAllSubscriptions(t *testing.T) {
	bus := New()
	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = bus.Subscribe(fmt.Sprintf("t%d", i))
	}

	bus.Close()

	for _, sub := range subs {
		_, ok := <-sub.Events()
		assert.False(t, ok)
		sub.Close()
	}
}
