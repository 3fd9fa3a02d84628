package mqttstate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

// mockClient records subscriptions and publishes.
type mockClient struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	messages []published
}

func newMockClient() *mockClient {
	return &mockClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (m *mockClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (m *mockClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockClient) subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

// deliver routes a message the way the broker would for the bridge's wildcards.
func (m *mockClient) deliver(t *testing.T, filter, topic, payload string) error {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[filter]
	m.mu.Unlock()
	require.True(t, ok, "no subscription for %s", filter)
	return h(topic, []byte(payload))
}

func (m *mockClient) all() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

func (m *mockClient) lastOn(topic string) (published, bool) {
	msgs := m.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].topic == topic {
			return msgs[i], true
		}
	}
	return published{}, false
}

type fixture struct {
	client *mockClient
	bus    *eventbus.Bus
	store  *state.Store
	bridge *Bridge
}

func newFixture(t *testing.T, commands, statestream bool) *fixture {
	t.Helper()

	bus := eventbus.New()
	t.Cleanup(bus.Close)
	store := state.New(bus)
	services := service.NewRegistry(store, bus)
	service.RegisterBuiltins(services)

	client := newMockClient()
	b, err := NewBridge(Options{
		Client:      client,
		Topics:      mqtt.NewTopics("home"),
		QoS:         1,
		Store:       store,
		Services:    services,
		Bus:         bus,
		Commands:    commands,
		Statestream: statestream,
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)

	return &fixture{client: client, bus: bus, store: store, bridge: b}
}

const (
	statesFilter   = "home/+/+/state"
	commandsFilter = "home/+/+/set"
)

func TestNewBridge_Validation(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	store := state.New(bus)

	_, err := NewBridge(Options{Store: store})
	assert.Error(t, err, "missing client")

	_, err = NewBridge(Options{Client: newMockClient()})
	assert.Error(t, err, "missing store")

	_, err = NewBridge(Options{Client: newMockClient(), Store: store, Commands: true})
	assert.Error(t, err, "commands without services")

	_, err = NewBridge(Options{Client: newMockClient(), Store: store, Statestream: true})
	assert.Error(t, err, "statestream without bus")
}

func TestBridge_StartSubscribesAndAnnounces(t *testing.T) {
	f := newFixture(t, true, false)

	assert.True(t, f.client.subscribed(statesFilter))
	assert.True(t, f.client.subscribed(commandsFilter))

	status, ok := f.client.lastOn("home/status")
	require.True(t, ok)
	assert.Equal(t, "online", status.payload)
	assert.True(t, status.retained)

	f.bridge.Stop()
	assert.False(t, f.client.subscribed(statesFilter))
	status, _ = f.client.lastOn("home/status")
	assert.Equal(t, "offline", status.payload)
}

func TestBridge_StateTopics(t *testing.T) {
	f := newFixture(t, false, false)

	require.NoError(t, f.client.deliver(t, statesFilter, "home/sensor/kitchen_temp/state",
		`{"state": 21.5, "attributes": {"unit_of_measurement": "°C"}}`))
	st, err := f.store.Get("sensor.kitchen_temp")
	require.NoError(t, err)
	assert.Equal(t, "21.5", st.State)
	assert.Equal(t, "°C", st.Attributes["unit_of_measurement"])

	// Plain payloads keep the attributes.
	require.NoError(t, f.client.deliver(t, statesFilter, "home/sensor/kitchen_temp/state", "22"))
	st, err = f.store.Get("sensor.kitchen_temp")
	require.NoError(t, err)
	assert.Equal(t, "22", st.State)
	assert.Equal(t, "°C", st.Attributes["unit_of_measurement"])

	// JSON attributes replace them.
	require.NoError(t, f.client.deliver(t, statesFilter, "home/sensor/kitchen_temp/state",
		`{"state": "23", "attributes": {"friendly_name": "Kitchen"}}`))
	st, err = f.store.Get("sensor.kitchen_temp")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"friendly_name": "Kitchen"}, st.Attributes)

	assert.Equal(t, uint64(3), f.bridge.Stats().StatesReceived)
}

func TestBridge_InvalidStateMessagesCreateNothing(t *testing.T) {
	f := newFixture(t, false, false)

	tests := []struct {
		topic   string
		payload string
		want    error
	}{
		{"home/Light/Hall/state", "on", core.ErrInvalidEntityID},
		{"home/light/hall/extra/state", "on", ErrInvalidTopic},
		{"home/statestream/light/state", "on", ErrInvalidTopic},
		{"home/light/hall/set", "on", ErrInvalidTopic},
		{"home/light/hall/state", "", ErrInvalidPayload},
	}
	for _, tt := range tests {
		err := f.bridge.HandleState(tt.topic, []byte(tt.payload))
		assert.ErrorIs(t, err, tt.want, tt.topic)
	}

	assert.Equal(t, 0, f.store.Count())
	assert.Equal(t, uint64(len(tests)), f.bridge.Stats().Rejected)
}

func TestBridge_Commands(t *testing.T) {
	f := newFixture(t, true, false)
	ctx := context.Background()
	_, _, err := f.store.Set(ctx, "light.hall", "off", nil)
	require.NoError(t, err)

	require.NoError(t, f.client.deliver(t, commandsFilter, "home/light/hall/set", "ON"))
	st, _ := f.store.Get("light.hall")
	assert.Equal(t, "on", st.State)

	require.NoError(t, f.client.deliver(t, commandsFilter, "home/light/hall/set", "TOGGLE"))
	st, _ = f.store.Get("light.hall")
	assert.Equal(t, "off", st.State)

	require.NoError(t, f.client.deliver(t, commandsFilter, "home/light/hall/set",
		`{"service": "turn_on", "data": {"brightness": 120}}`))
	st, _ = f.store.Get("light.hall")
	assert.Equal(t, "on", st.State)
	assert.Equal(t, 120, st.Attributes["brightness"])

	err = f.client.deliver(t, commandsFilter, "home/light/hall/set", "DIM")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestBridge_CommandsOnMissingEntityCreateNothing(t *testing.T) {
	f := newFixture(t, true, false)

	require.NoError(t, f.client.deliver(t, commandsFilter, "home/switch/ghost/set", "ON"))
	assert.False(t, f.store.Has("switch.ghost"))
}

func TestBridge_CommandsDisabled(t *testing.T) {
	f := newFixture(t, false, false)

	assert.False(t, f.client.subscribed(commandsFilter))
	err := f.bridge.HandleCommand("home/light/hall/set", []byte("ON"))
	assert.ErrorIs(t, err, ErrCommandsDisabled)
}

func TestBridge_Statestream(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()
	topic := "home/statestream/light/hall/state"

	_, _, err := f.store.Set(ctx, "light.hall", "on", map[string]any{"brightness": 80})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := f.client.lastOn(topic)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	msg, _ := f.client.lastOn(topic)
	assert.True(t, msg.retained)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &body))
	assert.Equal(t, "light.hall", body["entity_id"])
	assert.Equal(t, "on", body["state"])

	f.store.Delete(ctx, "light.hall")
	require.Eventually(t, func() bool {
		msg, _ := f.client.lastOn(topic)
		return msg.payload == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_StatestreamNeverLoopsBack(t *testing.T) {
	f := newFixture(t, false, true)

	err := f.bridge.HandleState("home/statestream/light/hall/state", []byte("on"))
	assert.ErrorIs(t, err, ErrInvalidTopic)
	assert.False(t, f.store.Has("light.hall"))
}
