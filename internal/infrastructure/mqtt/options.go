package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// disconnectQuiesce is the time paho may spend flushing work on disconnect.
	disconnectQuiesce = 250 // milliseconds

	// farewellTimeout bounds the graceful offline publish in Close.
	farewellTimeout = time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// BrokerURL returns the paho broker URL for cfg (tcp:// or ssl://).
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho MQTT options from the broker config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID, credentials and clean session
//   - Auto-reconnect bounded by the max reconnect interval
//   - Connect timeout and keep-alive
//   - TLS material when enabled
//   - Last will when a will topic is configured
func buildClientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(cfg.IsCleanSession())

	// Paho owns the reconnect cadence: its backoff starts at a fixed 1s and
	// doubles up to the max interval. The initial connect is not retried, a
	// failed first attempt is reported to the caller.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(cfg.GetMaxReconnectInterval())

	opts.SetConnectTimeout(cfg.GetConnectTimeout())
	opts.SetKeepAlive(cfg.GetKeepAlive())
	opts.SetWriteTimeout(cfg.GetOperationTimeout())

	// Deliver messages in receipt order from a single paho goroutine.
	opts.SetOrderMatters(true)

	if cfg.Broker.TLS {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	configureLWT(opts, cfg.LastWill)

	return opts, nil
}

// buildTLSConfig loads CA and client certificates for secure connections.
func buildTLSConfig(cfg config.MQTTTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
	}

	if cfg.RejectUnauthorized != nil && !*cfg.RejectUnauthorized {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicitly requested by configuration
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// configureLWT sets up the Last Will and Testament.
//
// The broker publishes the will if the bridge disconnects unexpectedly, so
// other clients can tell the bridge is gone. No topic means no will.
func configureLWT(opts *pahomqtt.ClientOptions, will config.MessageConfig) {
	if will.Topic == "" {
		return
	}
	opts.SetWill(will.Topic, will.Payload, byte(will.QoS), will.Retain) //nolint:gosec // qos validated by config
}
