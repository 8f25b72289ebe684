package bridge

import (
	"fmt"
	"strings"
)

// DefaultDiscoveryPrefix is the discovery namespace used when none is configured.
const DefaultDiscoveryPrefix = "homeassistant"

// Store roots for the objects the bridge creates.
const (
	devicesRoot    = "devices"
	discoveredRoot = "discovered"
	rawRoot        = "raw"
)

// Descriptor describes a device object to create in the store.
//
// Component, ObjectID, DiscoveryTopic and Config are only set for devices
// announced through discovery.
type Descriptor struct {
	ID                string
	Name              string
	Room              string
	AvailabilityTopic string
	StateTopic        string

	Component      string
	ObjectID       string
	DiscoveryTopic string
	Config         map[string]any
}

// DiscoveryAction is the outcome of processing a discovery message:
// CreateDevice or RemoveDevice.
type DiscoveryAction interface {
	discoveryAction()
}

// CreateDevice asks for a device to be created and topics subscribed.
type CreateDevice struct {
	Descriptor    Descriptor
	Subscriptions []string
}

// RemoveDevice asks the store to delete a discovered device.
type RemoveDevice struct {
	Component string
	ObjectID  string
}

func (CreateDevice) discoveryAction() {}
func (RemoveDevice) discoveryAction() {}

// Discovery parses device announcements published under a discovery prefix,
// i.e. <prefix>/<component>/<objectId>/config.
type Discovery struct {
	prefix string
}

// NewDiscovery returns a processor for prefix, or for DefaultDiscoveryPrefix
// when prefix is empty.
func NewDiscovery(prefix string) *Discovery {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return &Discovery{prefix: prefix}
}

// Prefix returns the discovery namespace.
func (d *Discovery) Prefix() string {
	return d.prefix
}

// IsDiscoveryTopic reports whether topic is a config topic under the prefix.
// Other topics under the prefix are not discovery messages.
func (d *Discovery) IsDiscoveryTopic(topic string) bool {
	_, _, ok := d.split(topic)
	return ok
}

func (d *Discovery) split(topic string) (component, objectID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != d.prefix || parts[3] != "config" {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Process turns a discovery message into an action.
//
// An empty or null payload removes the device. A JSON object creates it,
// with its state and availability topics as subscriptions. Anything else
// returns ErrDiscovery.
func (d *Discovery) Process(topic string, p Payload) (DiscoveryAction, error) {
	component, objectID, ok := d.split(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a discovery topic", ErrDiscovery, topic)
	}

	if p.IsEmpty() {
		return RemoveDevice{Component: component, ObjectID: objectID}, nil
	}

	cfg, ok := p.Value.(map[string]any)
	if p.Kind != PayloadParsed || !ok {
		return nil, fmt.Errorf("%w: %s: payload is not a JSON object", ErrDiscovery, topic)
	}

	desc := Descriptor{
		ID:                discoveredID(component, objectID),
		Name:              stringField(cfg, "name"),
		AvailabilityTopic: stringField(cfg, "availability_topic", "avty_t"),
		StateTopic:        stringField(cfg, "state_topic", "stat_t"),
		Component:         component,
		ObjectID:          objectID,
		DiscoveryTopic:    topic,
		Config:            cfg,
	}
	if desc.Name == "" {
		desc.Name = objectID
	}

	var subs []string
	if desc.StateTopic != "" {
		subs = append(subs, desc.StateTopic)
	}
	if desc.AvailabilityTopic != "" && desc.AvailabilityTopic != desc.StateTopic {
		subs = append(subs, desc.AvailabilityTopic)
	}

	return CreateDevice{Descriptor: desc, Subscriptions: subs}, nil
}

func discoveredID(component, objectID string) string {
	return discoveredRoot + "." + component + "." + objectID
}

// stringField returns the first non-empty string among keys.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
