package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's goroutines and should not block for long.
// A returned error is logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// hooks are the caller-supplied callbacks, swapped as a unit.
type hooks struct {
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Client is the hub's broker connection. It is safe for concurrent use;
// subscriptions are re-issued after every reconnect.
type Client struct {
	paho   pahomqtt.Client
	qos    byte
	topics Topics

	maxAttempts int
	attempts    atomic.Int64
	reconnects  atomic.Uint64
	online      atomic.Bool
	everOnline  atomic.Bool

	subMu sync.RWMutex
	subs  map[string]subscription

	hookMu sync.RWMutex
	hooks  hooks
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		qos:         byte(cfg.QoS),
		topics:      NewTopics(cfg.Bridge.TopicPrefix),
		maxAttempts: cfg.Reconnect.MaxAttempts,
		subs:        make(map[string]subscription),
		hooks:       hooks{logger: noopLogger{}},
	}
}

// Connect dials the broker and publishes a retained "online" on the hub
// status topic. The first attempt is bounded by ctx and connectTimeout;
// after that paho reconnects on its own with backoff.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := newClientOptions(cfg, c.topics).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) { c.reconnecting() })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timer.C:
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no CONNACK after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously.
	c.online.Store(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// QoS returns the configured default QoS.
func (c *Client) QoS() byte { return c.qos }

// Reconnects counts successful connections after the first one.
func (c *Client) Reconnects() uint64 { return c.reconnects.Load() }

func (c *Client) connected() {
	c.online.Store(true)
	c.attempts.Store(0)
	if c.everOnline.Swap(true) {
		c.reconnects.Add(1)
	}

	c.resubscribe()
	c.paho.Publish(c.topics.Status(), c.qos, true, payloadOnline)

	if fn := c.currentHooks().onConnect; fn != nil {
		fn()
	}
}

func (c *Client) lost(err error) {
	c.online.Store(false)
	h := c.currentHooks()
	h.logger.Warn("MQTT connection lost", "error", err)
	if h.onDisconnect != nil {
		h.onDisconnect(err)
	}
}

// reconnecting gives up once maxAttempts consecutive attempts have failed.
func (c *Client) reconnecting() {
	n := c.attempts.Add(1)
	logger := c.currentHooks().logger
	if c.maxAttempts > 0 && n > int64(c.maxAttempts) {
		logger.Error("MQTT reconnect attempts exhausted", "attempts", n-1)
		go c.paho.Disconnect(0)
		return
	}
	logger.Info("MQTT reconnecting", "attempt", n)
}

func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, sub := range c.subs {
		c.paho.Subscribe(topic, sub.qos, c.wrap(sub.handler))
	}
}

// Close publishes a retained "offline" and disconnects. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.paho.Publish(c.topics.Status(), c.qos, true, payloadOffline).WaitTimeout(operationTimeout)
	}
	c.paho.Disconnect(disconnectQuiesce)
	c.online.Store(false)
	return nil
}

// HealthCheck reports whether the broker connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.online.Load() && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect sets a callback invoked on initial connect and on every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.hooks.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hookMu.Lock()
	c.hooks.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets the logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.hookMu.Lock()
	c.hooks.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) currentHooks() hooks {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.hooks
}

func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, logging a returned error or a recovered panic.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.currentHooks().logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		c.currentHooks().logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}

// await waits for token up to operationTimeout and wraps failures in sentinel.
func await(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
