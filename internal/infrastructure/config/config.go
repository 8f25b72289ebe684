package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/json"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
// Nested keys are separated by a double underscore:
// TOPICBRIDGE_MQTT__BROKER__HOST overrides mqtt.broker.host.
const EnvPrefix = "TOPICBRIDGE_"

// Config is the root configuration structure for topicbridge.
// All configuration is loaded from YAML or JSON and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings and the topic
// subscription/publication tables driven by the bridge.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	TLS    MQTTTLSConfig    `yaml:"tls"`

	// Timing, all in seconds.
	//
	// ReconnectPeriod is accepted but not applied: the MQTT client starts
	// its reconnect backoff at a fixed 1s. Only MaxReconnect bounds it.
	KeepAlive        int `yaml:"keep_alive"`
	ReconnectPeriod  int `yaml:"reconnect_period"`
	MaxReconnect     int `yaml:"max_reconnect_interval"`
	ConnectTimeout   int `yaml:"connect_timeout"`
	OperationTimeout int `yaml:"operation_timeout"`

	// CleanSession defaults to true when unset.
	CleanSession *bool `yaml:"clean_session"`

	LastWill MessageConfig `yaml:"last_will"`
	Birth    MessageConfig `yaml:"birth"`

	Subscriptions []Subscription `yaml:"subscriptions"`
	Mappings      []TopicMapping `yaml:"mappings"`

	AutoDiscovery   bool   `yaml:"auto_discovery"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
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

// MQTTTLSConfig holds certificate material for secure broker connections.
// It is only consulted when Broker.TLS is true.
type MQTTTLSConfig struct {
	RejectUnauthorized *bool  `yaml:"reject_unauthorized"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
}

// MessageConfig describes a fixed message such as the last will or the birth
// announcement. An empty Topic disables it.
type MessageConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// Subscription is a configured topic filter the bridge listens to.
type Subscription struct {
	Topic   string `yaml:"topic"`
	QoS     int    `yaml:"qos"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the subscription is active. Unset means enabled.
func (s Subscription) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Output formats for TopicMapping.
const (
	FormatRaw  = "raw"
	FormatJSON = "json"
)

// TopicMapping routes changes of a store state to an MQTT topic.
type TopicMapping struct {
	StateID   string `yaml:"state_id"`
	Topic     string `yaml:"topic"`
	Transform string `yaml:"transform"`
	Format    string `yaml:"format"`
	QoS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`
	Enabled   *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the mapping is active. Unset means enabled.
func (m TopicMapping) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	WS       WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML or JSON file and applies environment overrides.
//
// The file format is chosen by extension (.yaml, .yml or .json). Environment
// variables prefixed with TOPICBRIDGE_ are layered on top, using "__" as the
// nesting separator. For example: TOPICBRIDGE_MQTT__AUTH__PASSWORD.
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = koanfyaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// envKey maps TOPICBRIDGE_MQTT__BROKER__HOST to mqtt.broker.host.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			KeepAlive:        60,
			ReconnectPeriod:  1,
			MaxReconnect:     60,
			ConnectTimeout:   30,
			OperationTimeout: 10,
			LastWill: MessageConfig{
				Payload: "offline",
				QoS:     1,
				Retain:  true,
			},
			Birth: MessageConfig{
				Payload: "online",
				QoS:     1,
				Retain:  true,
			},
			DiscoveryPrefix: "homeassistant",
		},
		Database: DatabaseConfig{
			Path:        "./data/topicbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WS: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// clientIDSuffixLen is the number of uuid characters appended to generated client IDs.
const clientIDSuffixLen = 8

// applyDerivedDefaults fills values that depend on other settings.
func (c *Config) applyDerivedDefaults() {
	if c.MQTT.Broker.ClientID == "" {
		c.MQTT.Broker.ClientID = "topicbridge-" + uuid.NewString()[:clientIDSuffixLen]
	}
	if c.MQTT.CleanSession == nil {
		c.MQTT.CleanSession = boolPtr(true)
	}
	if c.MQTT.TLS.RejectUnauthorized == nil {
		c.MQTT.TLS.RejectUnauthorized = boolPtr(true)
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Broker
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keep_alive must be positive")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.OperationTimeout <= 0 {
		errs = append(errs, "mqtt.operation_timeout must be positive")
	}
	if !validQoS(c.MQTT.LastWill.QoS) {
		errs = append(errs, "mqtt.last_will.qos must be 0, 1, or 2")
	}
	if !validQoS(c.MQTT.Birth.QoS) {
		errs = append(errs, "mqtt.birth.qos must be 0, 1, or 2")
	}

	for i, s := range c.MQTT.Subscriptions {
		if s.Topic == "" {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].topic is required", i))
		}
		if !validQoS(s.QoS) {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	for i, m := range c.MQTT.Mappings {
		if m.StateID == "" {
			errs = append(errs, fmt.Sprintf("mqtt.mappings[%d].state_id is required", i))
		}
		if m.Topic == "" {
			errs = append(errs, fmt.Sprintf("mqtt.mappings[%d].topic is required", i))
		}
		if !validQoS(m.QoS) {
			errs = append(errs, fmt.Sprintf("mqtt.mappings[%d].qos must be 0, 1, or 2", i))
		}
		switch m.Format {
		case "", FormatRaw, FormatJSON:
		default:
			errs = append(errs, fmt.Sprintf("mqtt.mappings[%d].format must be raw or json", i))
		}
	}

	if c.MQTT.AutoDiscovery && c.MQTT.DiscoveryPrefix == "" {
		errs = append(errs, "mqtt.discovery_prefix is required when auto_discovery is enabled")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Marshal renders the effective configuration as YAML with secrets redacted.
func (c *Config) Marshal() ([]byte, error) {
	redacted := *c
	if redacted.MQTT.Auth.Password != "" {
		redacted.MQTT.Auth.Password = redactedValue
	}
	if redacted.InfluxDB.Token != "" {
		redacted.InfluxDB.Token = redactedValue
	}
	return yaml.Marshal(&redacted)
}

const redactedValue = "********"

// GetKeepAlive returns the MQTT keep-alive as a Duration.
func (m MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(m.KeepAlive) * time.Second
}

// GetMaxReconnectInterval returns the upper bound for reconnect backoff.
func (m MQTTConfig) GetMaxReconnectInterval() time.Duration {
	return time.Duration(m.MaxReconnect) * time.Second
}

// GetConnectTimeout returns the connect timeout as a Duration.
func (m MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}

// GetOperationTimeout returns the subscribe/publish acknowledgement timeout.
func (m MQTTConfig) GetOperationTimeout() time.Duration {
	return time.Duration(m.OperationTimeout) * time.Second
}

// IsCleanSession reports the clean-session flag. Unset means true.
func (m MQTTConfig) IsCleanSession() bool {
	return m.CleanSession == nil || *m.CleanSession
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

func validQoS(q int) bool {
	return q >= 0 && q <= 2
}

func boolPtr(b bool) *bool {
	return &b
}
