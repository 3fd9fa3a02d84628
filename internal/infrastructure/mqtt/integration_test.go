//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndHealth(t *testing.T) {
	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_EntityStateRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "grayhub-int-sub"
	sub, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	cfg.Broker.ClientID = "grayhub-int-pub"
	pub, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	received := make(chan string, 1)
	err = sub.Subscribe(sub.Topics().AllEntityStates(), 1, func(topic string, payload []byte) error {
		received <- topic + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(sub.Topics().AllEntityStates()) {
		t.Error("subscription should be tracked for reconnect")
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(pub.Topics().EntityState("sensor", "int"), []byte("21.5"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "home/sensor/int/state=21.5" {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := Connect(ctx, cfg); err == nil {
		t.Fatal("Connect() expected error for refused broker")
	}
}
