package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// Measurement is the name of the points written for numeric entity states.
const Measurement = "entity_state"

const (
	startupPing  = 10 * time.Second
	healthPing   = 5 * time.Second
	batchDefault = 100
	flushDefault = 10 * time.Second
)

// Client exports numeric entity states through the non-blocking write API.
// Points are batched; failures arrive asynchronously and are counted.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed  atomic.Bool
	written atomic.Uint64
	failed  atomic.Uint64

	mu      sync.RWMutex
	onError func(error)
}

// Connect pings the server within ctx and starts the batching writer.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch, flush := batchSettings(cfg)
	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, startupPing)
	defer cancel()
	ok, err := client.Ping(pingCtx)
	if err != nil || !ok {
		client.Close()
		if err == nil {
			err = fmt.Errorf("ping reported unhealthy")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.drainErrors()
	return c, nil
}

// batchSettings applies defaults to non-positive batch size and flush interval (seconds).
func batchSettings(cfg config.InfluxDBConfig) (uint, time.Duration) {
	batch := uint(batchDefault)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := flushDefault
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return batch, flush
}

// drainErrors ends when Close closes the write API's error channel.
func (c *Client) drainErrors() {
	for err := range c.writeAPI.Errors() {
		c.failed.Add(1)
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers a callback for failed batch writes.
func (c *Client) SetOnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// EntityPoint is the point for one numeric state: tags entity_id, domain
// and unit (when known), field "value".
func EntityPoint(entityID, domain string, value float64, unit string, ts time.Time) *write.Point {
	tags := map[string]string{"entity_id": entityID, "domain": domain}
	if unit != "" {
		tags["unit"] = unit
	}
	return write.NewPoint(Measurement, tags, map[string]any{"value": value}, ts)
}

// WriteEntityState queues a point. It never blocks and is a no-op once closed.
func (c *Client) WriteEntityState(entityID, domain string, value float64, unit string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(EntityPoint(entityID, domain, value, unit, ts))
	c.written.Add(1)
}

// Written counts queued points; Failed counts failed batch writes.
func (c *Client) Written() uint64 {
	if c == nil {
		return 0
	}
	return c.written.Load()
}

func (c *Client) Failed() uint64 {
	if c == nil {
		return 0
	}
	return c.failed.Load()
}

// IsConnected is false for a nil or closed client.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// Flush writes buffered points now.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, healthPing)
	defer cancel()
	ok, err := c.client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb health check: server unhealthy")
	}
	return nil
}

// Close flushes and shuts down. Further calls do nothing.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
