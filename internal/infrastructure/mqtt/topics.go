package mqtt

import (
	"fmt"
	"strings"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// maxQoS is the maximum QoS level supported.
const maxQoS = 2

// DiscoveryWildcards returns the filters subscribed when auto-discovery is on:
// every discovery config topic under prefix, and device availability topics.
func DiscoveryWildcards(prefix string) []string {
	return []string{
		prefix + "/+/+/config",
		"+/+/available",
	}
}

// ValidatePublishTopic rejects empty topics and topics containing wildcards.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter: "#" only as the last level
// and "+" only as a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: %q has # before the last level", ErrInvalidTopic, filter)
		case level != "#" && strings.Contains(level, "#"):
			return fmt.Errorf("%w: %q has # inside a level", ErrInvalidTopic, filter)
		case level != "+" && strings.Contains(level, "+"):
			return fmt.Errorf("%w: %q has + inside a level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validQoS(qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
