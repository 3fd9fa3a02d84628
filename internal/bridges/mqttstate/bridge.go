package mqttstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

const (
	// commandTimeout bounds one service call started from a command topic.
	commandTimeout = 10 * time.Second

	// statestreamQueue is the bus subscription buffer for republishing.
	statestreamQueue = 512

	statusOnline  = "online"
	statusOffline = "offline"
)

// MQTTClient is the part of the MQTT client the bridge uses.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// StateWriter writes entity states. *state.Store satisfies it.
type StateWriter interface {
	Update(ctx context.Context, entityID string, fn state.UpdateFunc) (*core.StateChange, error)
}

// ServiceCaller runs service calls. *service.Registry satisfies it.
type ServiceCaller interface {
	Call(ctx context.Context, domain, svc string, targets []string, data map[string]any) (service.Result, error)
}

// Subscriber provides bus subscriptions for statestream. *eventbus.Bus satisfies it.
type Subscriber interface {
	SubscribeSize(eventType string, queueSize int) *eventbus.Subscription
}

// Logger defines the logging interface used by the Bridge.
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

// Options holds what NewBridge needs.
type Options struct {
	Client   MQTTClient
	Topics   mqtt.Topics
	QoS      byte
	Store    StateWriter
	Services ServiceCaller

	// Bus is required when Statestream is set.
	Bus Subscriber

	Commands    bool
	Statestream bool
	Logger      Logger
}

// Stats counts bridge traffic.
type Stats struct {
	StatesReceived   uint64
	CommandsReceived uint64
	Rejected         uint64
	Published        uint64
}

// Bridge translates between MQTT topics and the hub.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	client   MQTTClient
	topics   mqtt.Topics
	qos      byte
	store    StateWriter
	services ServiceCaller
	bus      Subscriber
	logger   Logger

	commands    bool
	statestream bool

	statesReceived   atomic.Uint64
	commandsReceived atomic.Uint64
	rejected         atomic.Uint64
	published        atomic.Uint64

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *eventbus.Subscription
	wg       sync.WaitGroup
	subbed   []string
	stopOnce sync.Once
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Commands && opts.Services == nil {
		return nil, fmt.Errorf("service registry is required for commands")
	}
	if opts.Statestream && opts.Bus == nil {
		return nil, fmt.Errorf("event bus is required for statestream")
	}

	b := &Bridge{
		client:      opts.Client,
		topics:      opts.Topics,
		qos:         opts.QoS,
		store:       opts.Store,
		services:    opts.Services,
		bus:         opts.Bus,
		logger:      opts.Logger,
		commands:    opts.Commands,
		statestream: opts.Statestream,
	}
	if b.topics.Prefix() == "" {
		b.topics = mqtt.NewTopics("")
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

// Start subscribes to the state (and command) topics, starts statestream and
// announces the hub online.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.subscribe(b.topics.AllEntityStates(), b.HandleState); err != nil {
		b.cancel()
		return err
	}
	if b.commands {
		if err := b.subscribe(b.topics.AllEntityCommands(), b.HandleCommand); err != nil {
			b.unsubscribeAll()
			b.cancel()
			return err
		}
	}

	if b.statestream {
		b.sub = b.bus.SubscribeSize(core.EventStateChanged, statestreamQueue)
		b.wg.Add(1)
		go b.republish(b.sub)
	}

	if err := b.client.Publish(b.topics.Status(), []byte(statusOnline), b.qos, true); err != nil {
		b.logger.Warn("publishing online status failed", "error", err)
	}

	b.started = true
	b.logger.Info("mqtt bridge started",
		"prefix", b.topics.Prefix(),
		"commands", b.commands,
		"statestream", b.statestream)
	return nil
}

// Stop unsubscribes, stops statestream and announces the hub offline.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		started := b.started
		sub := b.sub
		b.mu.Unlock()
		if !started {
			return
		}

		b.cancel()
		if sub != nil {
			sub.Close()
		}
		b.wg.Wait()

		b.mu.Lock()
		b.unsubscribeAll()
		b.mu.Unlock()

		if err := b.client.Publish(b.topics.Status(), []byte(statusOffline), b.qos, true); err != nil {
			b.logger.Warn("publishing offline status failed", "error", err)
		}
		b.logger.Info("mqtt bridge stopped")
	})
}

// Stats returns traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		StatesReceived:   b.statesReceived.Load(),
		CommandsReceived: b.commandsReceived.Load(),
		Rejected:         b.rejected.Load(),
		Published:        b.published.Load(),
	}
}

// ─── Inbound ────────────────────────────────────────────────────────

// HandleState writes a state topic message to the store.
func (b *Bridge) HandleState(topic string, payload []byte) error {
	b.statesReceived.Add(1)

	entityID, err := b.entityFor(topic, "state")
	if err != nil {
		return b.reject(err)
	}
	msg, err := ParseState(payload)
	if err != nil {
		return b.reject(fmt.Errorf("%s: %w", entityID, err))
	}

	_, err = b.store.Update(b.context(), entityID, func(cur *core.EntityState) (string, map[string]any, bool) {
		if msg.Attributes != nil || cur == nil {
			return msg.State, msg.Attributes, true
		}
		return msg.State, cur.Attributes, true
	})
	if err != nil {
		return b.reject(fmt.Errorf("writing %s: %w", entityID, err))
	}

	b.logger.Debug("state received", "entity_id", entityID, "state", msg.State)
	return nil
}

// HandleCommand turns a command topic message into a service call.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	b.commandsReceived.Add(1)

	if !b.commands {
		return b.reject(ErrCommandsDisabled)
	}
	entityID, err := b.entityFor(topic, "set")
	if err != nil {
		return b.reject(err)
	}
	cmd, err := ParseCommand(core.Domain(entityID), payload)
	if err != nil {
		return b.reject(fmt.Errorf("%s: %w", entityID, err))
	}

	ctx, cancel := context.WithTimeout(b.context(), commandTimeout)
	defer cancel()

	result, err := b.services.Call(ctx, cmd.Domain, cmd.Service, []string{entityID}, cmd.Data)
	if err != nil {
		return fmt.Errorf("calling %s.%s for %s: %w", cmd.Domain, cmd.Service, entityID, err)
	}

	b.logger.Debug("command executed",
		"entity_id", entityID,
		"service", cmd.Domain+"."+cmd.Service,
		"changed", len(result.Changed),
		"missing", len(result.Missing))
	return nil
}

func (b *Bridge) entityFor(topic, kind string) (string, error) {
	et, ok := b.topics.ParseEntityTopic(topic)
	if !ok || et.Kind != kind {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	entityID := et.EntityID()
	if !core.ValidEntityID(entityID) {
		return "", fmt.Errorf("%w: %s", core.ErrInvalidEntityID, entityID)
	}
	return entityID, nil
}

func (b *Bridge) reject(err error) error {
	b.rejected.Add(1)
	return err
}

// context returns the bridge context tagged with a fresh hub context,
// or a background one when handlers run outside Start (tests, replays).
func (b *Bridge) context() context.Context {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return core.WithContext(ctx, core.Context{ID: core.NewContextID()})
}

// ─── Outbound ───────────────────────────────────────────────────────

func (b *Bridge) republish(sub *eventbus.Subscription) {
	defer b.wg.Done()

	for ev := range sub.Events() {
		change, ok := ev.StateChange()
		if !ok {
			continue
		}
		if err := b.PublishState(change); err != nil {
			b.logger.Warn("statestream publish failed", "entity_id", change.EntityID, "error", err)
		}
	}
	if n := sub.Dropped(); n > 0 {
		b.logger.Warn("statestream dropped state changes", "count", n)
	}
}

// PublishState republishes one change, retained. A removal clears the retained message.
func (b *Bridge) PublishState(change core.StateChange) error {
	domain, objectID, ok := core.SplitEntityID(change.EntityID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrInvalidEntityID, change.EntityID)
	}

	var payload []byte
	if change.New != nil {
		var err error
		if payload, err = json.Marshal(change.New); err != nil {
			return fmt.Errorf("encoding %s: %w", change.EntityID, err)
		}
	}

	if err := b.client.Publish(b.topics.Statestream(domain, objectID), payload, b.qos, true); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────

// subscribe must be called with b.mu held.
func (b *Bridge) subscribe(topic string, handler mqtt.MessageHandler) error {
	if err := b.client.Subscribe(topic, b.qos, handler); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	b.subbed = append(b.subbed, topic)
	b.logger.Info("subscribed", "topic", topic)
	return nil
}

// unsubscribeAll must be called with b.mu held.
func (b *Bridge) unsubscribeAll() {
	for _, topic := range b.subbed {
		if err := b.client.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			b.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	b.subbed = nil
}
