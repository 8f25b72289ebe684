// Package metrics exposes bridge activity as Prometheus metrics.
//
// A Collector observes the MQTT session (state, received messages,
// publish results) and the bridge engine (discovery and unmapped
// messages). The HTTP API serves the registry on the configured path.
package metrics
