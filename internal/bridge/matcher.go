package bridge

import (
	"strings"
)

// Match is the device identity extracted from a topic.
type Match struct {
	DeviceID string
	Property string
	Room     string
	Device   string
}

// ShapeRule recognises one topic shape.
//
// Predicate receives the topic split on "/". Extract is only called when
// Predicate returned true.
type ShapeRule struct {
	Name      string
	Predicate func(levels []string) bool
	Extract   func(levels []string) Match
}

// DeviceRule matches device/<id>/<property...>.
var DeviceRule = ShapeRule{
	Name: "device",
	Predicate: func(l []string) bool {
		return len(l) >= 3 && l[0] == "device" && l[1] != "" && nonEmptyTail(l[2:])
	},
	Extract: func(l []string) Match {
		return Match{DeviceID: l[1], Property: strings.Join(l[2:], "/")}
	},
}

// SensorRule matches sensors/<room>/<device>/<property...>.
var SensorRule = ShapeRule{
	Name: "sensors",
	Predicate: func(l []string) bool {
		return len(l) >= 4 && l[0] == "sensors" && l[1] != "" && l[2] != "" && nonEmptyTail(l[3:])
	},
	Extract: func(l []string) Match {
		return Match{
			DeviceID: l[1] + "_" + l[2],
			Property: strings.Join(l[3:], "/"),
			Room:     l[1],
			Device:   l[2],
		}
	},
}

// nonEmptyTail reports whether the joined levels form a non-empty property.
func nonEmptyTail(l []string) bool {
	return strings.Join(l, "/") != ""
}

// Matcher maps topics to devices with an ordered list of shape rules.
// The first rule that matches wins. Matcher is immutable and safe for
// concurrent use.
type Matcher struct {
	rules []ShapeRule
}

// NewMatcher returns a matcher with the built-in rules (DeviceRule, then
// SensorRule) followed by extra, in order.
func NewMatcher(extra ...ShapeRule) *Matcher {
	rules := make([]ShapeRule, 0, 2+len(extra))
	rules = append(rules, DeviceRule, SensorRule)
	rules = append(rules, extra...)
	return &Matcher{rules: rules}
}

// Match returns the device identity for topic, or false when no rule matches.
func (m *Matcher) Match(topic string) (Match, bool) {
	levels := strings.Split(topic, "/")
	for _, r := range m.rules {
		if r.Predicate(levels) {
			return r.Extract(levels), true
		}
	}
	return Match{}, false
}

// Rules returns the rule names in evaluation order.
func (m *Matcher) Rules() []string {
	names := make([]string, len(m.rules))
	for i, r := range m.rules {
		names[i] = r.Name
	}
	return names
}

// SanitizeTopic replaces every character outside [A-Za-z0-9] with "_".
func SanitizeTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, topic)
}

// idSegment turns one topic level into an id segment. An empty level
// becomes "_".
func idSegment(level string) string {
	if level == "" {
		return "_"
	}
	return SanitizeTopic(level)
}

// Descriptor returns the store descriptor of the matched device. The id is
// sanitized; name and room keep the topic's spelling.
func (m Match) Descriptor() Descriptor {
	name := m.Device
	if name == "" {
		name = m.DeviceID
	}
	return Descriptor{
		ID:   devicesRoot + "." + idSegment(m.DeviceID),
		Name: name,
		Room: m.Room,
	}
}

// StateID returns the store id of the matched property, one sanitized
// segment per property level.
func (m Match) StateID() string {
	levels := strings.Split(m.Property, "/")
	for i, l := range levels {
		levels[i] = idSegment(l)
	}
	return devicesRoot + "." + idSegment(m.DeviceID) + "." + strings.Join(levels, ".")
}
