package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    tls: true
    client_id: "bridge-1"
  auth:
    username: "user"
    password: "secret"
  subscriptions:
    - topic: "device/+/+"
      qos: 1
    - topic: "sensors/#"
      enabled: false
  mappings:
    - state_id: "devices.relay1.power"
      topic: "cmnd/relay1/power"
      transform: "boolean_to_onoff"
      format: "raw"
      qos: 1
      retain: true
  auto_discovery: true
database:
  path: "/tmp/test.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "broker.local", cfg.MQTT.Broker.Host)
	assert.Equal(t, 8883, cfg.MQTT.Broker.Port)
	assert.True(t, cfg.MQTT.Broker.TLS)
	assert.Equal(t, "bridge-1", cfg.MQTT.Broker.ClientID)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)

	require.Len(t, cfg.MQTT.Subscriptions, 2)
	assert.True(t, cfg.MQTT.Subscriptions[0].IsEnabled())
	assert.False(t, cfg.MQTT.Subscriptions[1].IsEnabled())

	require.Len(t, cfg.MQTT.Mappings, 1)
	m := cfg.MQTT.Mappings[0]
	assert.Equal(t, "cmnd/relay1/power", m.Topic)
	assert.Equal(t, "boolean_to_onoff", m.Transform)
	assert.True(t, m.Retain)
	assert.True(t, m.IsEnabled())

	// Defaults survive partial files.
	assert.Equal(t, "offline", cfg.MQTT.LastWill.Payload)
	assert.Equal(t, "online", cfg.MQTT.Birth.Payload)
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, 30*time.Second, cfg.MQTT.GetConnectTimeout())
	assert.True(t, cfg.MQTT.IsCleanSession())
	require.NotNil(t, cfg.MQTT.TLS.RejectUnauthorized)
	assert.True(t, *cfg.MQTT.TLS.RejectUnauthorized)
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"mqtt":{"broker":{"host":"localhost"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.MQTT.Broker.Host)
	assert.Equal(t, 1883, cfg.MQTT.Broker.Port)
}

func TestLoad_GeneratesClientID(t *testing.T) {
	path := writeConfig(t, "config.yaml", "mqtt:\n  broker:\n    host: localhost\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg.MQTT.Broker.ClientID, "topicbridge-"))
	assert.Len(t, cfg.MQTT.Broker.ClientID, len("topicbridge-")+clientIDSuffixLen)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", "mqtt:\n  broker:\n    host: localhost\n")

	t.Setenv("TOPICBRIDGE_MQTT__BROKER__HOST", "override.local")
	t.Setenv("TOPICBRIDGE_MQTT__AUTH__PASSWORD", "from-env")
	t.Setenv("TOPICBRIDGE_DATABASE__PATH", "/var/lib/topicbridge.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override.local", cfg.MQTT.Broker.Host)
	assert.Equal(t, "from-env", cfg.MQTT.Auth.Password)
	assert.Equal(t, "/var/lib/topicbridge.db", cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "config.toml", "")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "invalid: [yaml: content")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.MQTT.Broker.Host = "localhost"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: "mqtt.broker.host is required",
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: "mqtt.broker.port must be between 1 and 65535",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: "mqtt.broker.port must be between 1 and 65535",
		},
		{
			name:    "bad will qos",
			mutate:  func(c *Config) { c.MQTT.LastWill.QoS = 3 },
			wantErr: "mqtt.last_will.qos",
		},
		{
			name: "subscription without topic",
			mutate: func(c *Config) {
				c.MQTT.Subscriptions = []Subscription{{QoS: 0}}
			},
			wantErr: "mqtt.subscriptions[0].topic is required",
		},
		{
			name: "mapping with bad format",
			mutate: func(c *Config) {
				c.MQTT.Mappings = []TopicMapping{{StateID: "a.b", Topic: "a/b", Format: "xml"}}
			},
			wantErr: "mqtt.mappings[0].format must be raw or json",
		},
		{
			name: "mapping without state id",
			mutate: func(c *Config) {
				c.MQTT.Mappings = []TopicMapping{{Topic: "a/b"}}
			},
			wantErr: "mqtt.mappings[0].state_id is required",
		},
		{
			name:    "influx without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url is required",
		},
		{
			name: "api port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Broker.Port = 0
	cfg.Database.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker.host is required")
	assert.Contains(t, err.Error(), "mqtt.broker.port")
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestMarshal_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Broker.Host = "localhost"
	cfg.MQTT.Auth.Password = "hunter2"
	cfg.InfluxDB.Token = "tok"

	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "tok\n")
	assert.Contains(t, string(out), redactedValue)
	assert.Contains(t, string(out), "host: localhost")

	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.MQTT.Auth.Password)
}

func TestLoad_ShippedExample(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.MQTT.Broker.Host)
	assert.True(t, cfg.MQTT.AutoDiscovery)
	require.Len(t, cfg.MQTT.Subscriptions, 3)
	assert.False(t, cfg.MQTT.Subscriptions[2].IsEnabled())
	require.Len(t, cfg.MQTT.Mappings, 2)
	assert.Equal(t, FormatJSON, cfg.MQTT.Mappings[1].Format)
	assert.True(t, strings.HasPrefix(cfg.MQTT.Broker.ClientID, "topicbridge-"))
}
