// Package logging provides structured logging for topicbridge.
//
// It wraps rs/zerolog behind a small key/value API so every package logs
// the same way without importing zerolog directly.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, console
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to broker", "host", cfg.MQTT.Broker.Host)
//	logger.Error("publish failed", "topic", topic, "error", err)
//
// Never log broker passwords or InfluxDB tokens.
package logging
