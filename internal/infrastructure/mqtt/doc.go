// Package mqtt manages the broker session for topicbridge.
//
// This package manages:
//   - Connecting to the broker with paho's automatic reconnect
//   - The session state machine (disconnected, connecting, connected,
//     reconnecting, offline, errored)
//   - Subscription bookkeeping, restored after every reconnect
//   - Fire-and-forget publishing with acknowledgements reported as events
//   - Last will, birth and graceful offline messages
//
// # Event flow
//
// The paho client calls back on its own goroutines. Manager turns every
// callback into an Event on a single buffered channel, and one consumer
// (the bridge engine) applies them in order with HandleEvent. Publish and
// subscribe acknowledgements travel the same channel, so a publish callback
// never runs concurrently with message handling, and the consumer never
// waits on the broker while paho is blocked delivering messages.
//
//	paho callbacks → Events() → consumer → HandleEvent
//
// # Usage
//
//	m, err := mqtt.NewManager(cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	if err := m.Connect(ctx); err != nil {
//	    return err
//	}
//	for ev := range m.Events() {
//	    m.HandleEvent(ev)
//	}
//
// Integration tests against a real Mosquitto broker run with
// `-tags integration` and DOCKER_AVAILABLE=1.
package mqtt
