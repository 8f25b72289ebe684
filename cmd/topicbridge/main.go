// topicbridge connects an MQTT broker to a hierarchical device/state store.
//
// Incoming messages become devices and states, discovery announcements
// create devices, and unacknowledged state changes are published back to
// the broker. See internal/bridge for the translation rules.
package main

import (
	"fmt"
	"os"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
