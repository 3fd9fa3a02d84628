package mqtt

import (
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 30 * time.Second
	maxQoS            = 2

	minReconnectDelay = time.Second
	maxReconnectDelay = 10 * time.Minute
)

// Availability payloads on the hub status topic, matching HA birth/will messages.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// brokerURL renders the broker address as a paho server URL.
func brokerURL(b config.MQTTBrokerConfig) *url.URL {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
}

// reconnectDelays converts the configured seconds into paho's backoff bounds.
// Zero or negative values fall back to the minimum; max never drops below initial.
func reconnectDelays(r config.MQTTReconnectConfig) (initial, maxDelay time.Duration) {
	initial = max(time.Duration(r.InitialDelay)*time.Second, minReconnectDelay)
	maxDelay = min(max(time.Duration(r.MaxDelay)*time.Second, initial), maxReconnectDelay)
	return initial, maxDelay
}

// newClientOptions builds paho options for cfg. The will marks the hub
// offline on topics.Status() if the connection drops without Close.
func newClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	initial, maxDelay := reconnectDelays(cfg.Reconnect)

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker).String()).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectRetryInterval(initial).
		SetMaxReconnectInterval(maxDelay).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(topics.Status(), payloadOffline, byte(cfg.QoS), true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Broker.Host,
		})
	}
	return opts
}
