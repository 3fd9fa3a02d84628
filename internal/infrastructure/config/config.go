package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic Hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Automation AutomationConfig `yaml:"automation"`
	Scenes     ScenesConfig     `yaml:"scenes"`
	Recorder   RecorderConfig   `yaml:"recorder"`
}

// SiteConfig contains site-specific information reported by /api/config.
type SiteConfig struct {
	Name       string         `yaml:"name"`
	Timezone   string         `yaml:"timezone"`
	UnitSystem string         `yaml:"unit_system"`
	Location   LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates for sun calculations.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Elevation int     `yaml:"elevation"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Bridge    MQTTBridgeConfig    `yaml:"bridge"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTBridgeConfig controls the topic-to-entity bridge.
type MQTTBridgeConfig struct {
	// TopicPrefix is the first topic level, e.g. "home" for home/{domain}/{id}/state.
	TopicPrefix string `yaml:"topic_prefix"`

	// Commands enables {prefix}/{domain}/{id}/set command topics.
	Commands bool `yaml:"commands"`

	// Statestream republishes every state change to {prefix}/statestream/{domain}/{id}/state.
	Statestream bool `yaml:"statestream"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// FrontendDir, when set, is served at / with index.html fallback.
	FrontendDir string `yaml:"frontend_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains bearer token settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// Tokens are static long-lived access tokens accepted verbatim.
	Tokens []string `yaml:"tokens"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the default lifetime in minutes for minted tokens.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// EventBusConfig contains event fan-out settings.
type EventBusConfig struct {
	// QueueSize is the per-subscription delivery buffer.
	QueueSize int `yaml:"queue_size"`
}

// AutomationConfig contains automation engine settings.
type AutomationConfig struct {
	// File is the automations YAML file (HA automations.yaml format).
	File string `yaml:"file"`

	// QueueSize is the engine's event subscription buffer.
	QueueSize int `yaml:"queue_size"`
}

// ScenesConfig contains scene engine settings.
type ScenesConfig struct {
	// File is an optional read-only scenes YAML file.
	File string `yaml:"file"`
}

// RecorderConfig contains state history settings.
type RecorderConfig struct {
	Enabled   bool `yaml:"enabled"`
	QueueSize int  `yaml:"queue_size"`
	KeepDays  int  `yaml:"keep_days"`
}

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file at path (skipped when path is empty), then GRAYHUB_*
// environment variables. ${VAR} references inside the file are expanded
// before parsing so secrets can stay out of it.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(expandEnvRefs(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// envRef matches ${VAR} only; bare $words are left alone because argon2
// token hashes in security.tokens are full of them.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvRefs(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Name:       "Home",
			Timezone:   "UTC",
			UnitSystem: "metric",
		},
		Database: DatabaseConfig{
			Path:        "./data/grayhub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grayhub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Bridge: MQTTBridgeConfig{
				TopicPrefix: "home",
				Commands:    true,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8123,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/websocket",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60 * 24 * 365 * 10,
			},
		},
		EventBus: EventBusConfig{
			QueueSize: 512,
		},
		Automation: AutomationConfig{
			File:      "./automations.yaml",
			QueueSize: 4096,
		},
		Recorder: RecorderConfig{
			Enabled:   true,
			QueueSize: 1024,
			KeepDays:  10,
		},
	}
}

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setFloat(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

var envBindings = []envBinding{
	{"GRAYHUB_SITE_TIMEZONE", setString(func(c *Config) *string { return &c.Site.Timezone })},
	{"GRAYHUB_SITE_LATITUDE", setFloat(func(c *Config) *float64 { return &c.Site.Location.Latitude })},
	{"GRAYHUB_SITE_LONGITUDE", setFloat(func(c *Config) *float64 { return &c.Site.Location.Longitude })},

	{"GRAYHUB_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},

	{"GRAYHUB_MQTT_ENABLED", setBool(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"GRAYHUB_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"GRAYHUB_MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"GRAYHUB_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"GRAYHUB_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},

	{"GRAYHUB_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"GRAYHUB_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},

	{"GRAYHUB_INFLUXDB_ENABLED", setBool(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"GRAYHUB_INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"GRAYHUB_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},

	{"GRAYHUB_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},

	{"GRAYHUB_AUTOMATION_FILE", setString(func(c *Config) *string { return &c.Automation.File })},
	{"GRAYHUB_SCENES_FILE", setString(func(c *Config) *string { return &c.Scenes.File })},
	{"GRAYHUB_RECORDER_ENABLED", setBool(func(c *Config) *bool { return &c.Recorder.Enabled })},

	{"GRAYHUB_JWT_SECRET", setString(func(c *Config) *string { return &c.Security.JWT.Secret })},
	{"GRAYHUB_TOKENS", func(c *Config, v string) error {
		for tok := range strings.SplitSeq(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				c.Security.Tokens = append(c.Security.Tokens, tok)
			}
		}
		return nil
	}},
}

// applyEnvOverrides applies every set GRAYHUB_* variable. A value that does
// not parse for its field is an error naming the variable.
func applyEnvOverrides(cfg *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return fmt.Errorf("environment %s=%q: %w", b.name, v, err)
		}
	}
	return nil
}

// minJWTSecretLength keeps HS256 keys at 256 bits or more.
const minJWTSecretLength = 32

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	var errs []string
	for _, check := range []func() []string{
		c.validateSite,
		c.validateStorage,
		c.validateMQTT,
		c.validateAPI,
		c.validateSecurity,
	} {
		errs = append(errs, check()...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSite() []string {
	var errs []string
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a valid IANA zone", c.Site.Timezone))
	}
	if lat := c.Site.Location.Latitude; lat < -90 || lat > 90 {
		errs = append(errs, "site.location.latitude must be within [-90, 90]")
	}
	if lon := c.Site.Location.Longitude; lon < -180 || lon > 180 {
		errs = append(errs, "site.location.longitude must be within [-180, 180]")
	}
	return errs
}

func (c *Config) validateStorage() []string {
	var errs []string
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.EventBus.QueueSize < 1 {
		errs = append(errs, "eventbus.queue_size must be positive")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Bridge.TopicPrefix == "" {
		errs = append(errs, "mqtt.bridge.topic_prefix is required when mqtt is enabled")
	}
	return errs
}

func (c *Config) validateAPI() []string {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return []string{"api.port must be between 1 and 65535"}
	}
	return nil
}

// validateSecurity refuses a hub nobody can authenticate against.
func (c *Config) validateSecurity() []string {
	switch {
	case c.Security.JWT.Secret == "" && len(c.Security.Tokens) == 0:
		return []string{"security.jwt.secret or security.tokens is required (set GRAYHUB_JWT_SECRET or GRAYHUB_TOKENS)"}
	case c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength:
		return []string{fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength)}
	}
	return nil
}

// ReadTimeout is the HTTP read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return time.Duration(t.Read) * time.Second }

// WriteTimeout is the HTTP write timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return time.Duration(t.Write) * time.Second }

// IdleTimeout is the keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return time.Duration(t.Idle) * time.Second }
