// Package device provides the hierarchical object/state store.
//
// The store holds three kinds of objects (device, channel, state) keyed by
// dot-delimited IDs such as "devices.livingroom.power", plus the current
// value of every state. The MQTT bridge writes to it on every inbound
// message and listens to it for outbound requests.
//
// # Architecture
//
//	Registry (registry.go)      Repository (repository.go)
//	  - create-if-absent  ───▶    - SQLite queries
//	  - in-memory cache           - JSON columns
//	  - change notification
//
// # Acknowledgement
//
// Every state write carries an ack flag. Values confirmed by the bridge are
// written with ack=true. Requests from the API are written with ack=false
// and picked up by the bridge, which publishes them and re-writes the value
// with ack=true once the broker acknowledged.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Subscribers are invoked
// synchronously on the writer's goroutine and must not block.
package device
