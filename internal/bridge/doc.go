// Package bridge translates between MQTT topics and the device/state store.
//
// Inbound, each message is routed in a fixed order:
//   - discovery config topics (<prefix>/<component>/<objectId>/config)
//     create or remove devices under discovered.*
//   - topics matching a ShapeRule update devices.<deviceId>.<property>
//   - topics announced by a discovered device update its state or
//     availability
//   - anything else is kept verbatim under raw.<sanitized topic>
//
// Outbound, unacknowledged store writes are published: ids under publish.
// go to the topic spelled by the id, other ids through their configured
// TopicMapping, transform and format. A state is acknowledged only after
// the broker confirms the publish.
//
// Engine.Run is the single processing path. Session events and outbound
// requests are handled one at a time on it, so the store sees inbound and
// outbound writes in a well-defined order.
package bridge
