// Package config handles loading and validating topicbridge configuration.
//
// This package manages:
//   - Loading configuration from YAML or JSON files (koanf)
//   - Overriding with TOPICBRIDGE_ environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - Marshal redacts secrets before the effective config is printed
//
// Usage:
//
//	cfg, err := config.Load("configs/topicbridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
