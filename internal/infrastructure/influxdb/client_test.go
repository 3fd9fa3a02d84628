package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "grayhub-dev-token",
		Org:           "grayhub",
		Bucket:        "states",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the local InfluxDB or skips the test.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush time.Duration
	}{
		{name: "configured", batch: 50, flush: 2, wantBatch: 50, wantFlush: 2 * time.Second},
		{name: "zero defaults", wantBatch: batchDefault, wantFlush: flushDefault},
		{name: "negative defaults", batch: -1, flush: -5, wantBatch: batchDefault, wantFlush: flushDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, flush := batchSettings(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if batch != tt.wantBatch || flush != tt.wantFlush {
				t.Errorf("batchSettings() = (%d, %v), want (%d, %v)", batch, flush, tt.wantBatch, tt.wantFlush)
			}
		})
	}
}

func TestEntityPoint(t *testing.T) {
	ts := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	p := EntityPoint("sensor.temp", "sensor", 21.5, "°C", ts)

	if p.Name() != Measurement {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["entity_id"] != "sensor.temp" || tags["domain"] != "sensor" || tags["unit"] != "°C" {
		t.Errorf("tags = %v", tags)
	}
	if len(p.FieldList()) != 1 || p.FieldList()[0].Value != 21.5 {
		t.Errorf("fields = %v", p.FieldList())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", p.Time(), ts)
	}

	if noUnit := EntityPoint("sensor.count", "sensor", 1, "", ts); len(noUnit.TagList()) != 2 {
		t.Errorf("unit tag should be omitted when empty, got %v", noUnit.TagList())
	}
}

func TestWrite_Disconnected(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Fatal("nil client must report disconnected")
	}
	c.WriteEntityState("sensor.x", "sensor", 1, "", time.Now())
	c.Flush()
	if c.Written() != 0 || c.Failed() != 0 {
		t.Error("nil client must report zero counters")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() on nil client = %v, want ErrNotConnected", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("closed client reports connected")
	}
	client.WriteEntityState("sensor.late", "sensor", 1, "", time.Now())
	if client.Written() != 0 {
		t.Errorf("Written() = %d after close, want 0", client.Written())
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteEntityState(t *testing.T) {
	client := connectOrSkip(t)

	var (
		mu       sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteEntityState("sensor.integration", "sensor", 42, "W", time.Now())
	client.Flush()
	if client.Written() != 1 {
		t.Errorf("Written() = %d, want 1", client.Written())
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}
