package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_Match(t *testing.T) {
	m := NewMatcher()

	tests := []struct {
		topic string
		want  Match
		ok    bool
	}{
		{"device/livingroom/power", Match{DeviceID: "livingroom", Property: "power"}, true},
		{"device/abc/temp/inside", Match{DeviceID: "abc", Property: "temp/inside"}, true},
		{"sensors/kitchen/thermo1/temperature", Match{DeviceID: "kitchen_thermo1", Property: "temperature", Room: "kitchen", Device: "thermo1"}, true},
		{"sensors/kitchen/thermo1/a/b", Match{DeviceID: "kitchen_thermo1", Property: "a/b", Room: "kitchen", Device: "thermo1"}, true},
		{"device/abc", Match{}, false},
		{"device//power", Match{}, false},
		{"sensors/kitchen/thermo1", Match{}, false},
		{"stat/plug/POWER", Match{}, false},
		{"", Match{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := m.Match(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_FirstRuleWins(t *testing.T) {
	catchAll := ShapeRule{
		Name:      "catch-all",
		Predicate: func(l []string) bool { return len(l) >= 2 },
		Extract:   func(l []string) Match { return Match{DeviceID: "any", Property: l[len(l)-1]} },
	}
	m := NewMatcher(catchAll)

	got, ok := m.Match("device/abc/power")
	assert.True(t, ok)
	assert.Equal(t, "abc", got.DeviceID, "built-in rules run before extra rules")

	got, ok = m.Match("stat/plug/POWER")
	assert.True(t, ok)
	assert.Equal(t, Match{DeviceID: "any", Property: "POWER"}, got)

	assert.Equal(t, []string{"device", "sensors", "catch-all"}, m.Rules())
}

func TestMatch_IDs(t *testing.T) {
	m := Match{DeviceID: "kitchen_thermo1", Property: "temp/inside", Room: "kitchen", Device: "thermo1"}
	assert.Equal(t, "devices.kitchen_thermo1.temp.inside", m.StateID())

	d := m.Descriptor()
	assert.Equal(t, "devices.kitchen_thermo1", d.ID)
	assert.Equal(t, "thermo1", d.Name)
	assert.Equal(t, "kitchen", d.Room)

	assert.Equal(t, "abc", Match{DeviceID: "abc", Property: "x"}.Descriptor().Name)
}

func TestMatch_IDsSanitized(t *testing.T) {
	tests := []struct {
		topic   string
		device  string
		stateID string
	}{
		{"device/living room/power", "devices.living_room", "devices.living_room.power"},
		{"sensors/living room/th1/temperature", "devices.living_room_th1", "devices.living_room_th1.temperature"},
		{"device/x//", "devices.x", "devices.x._._"},
		{"device/a.b/c-d/é", "devices.a_b", "devices.a_b.c_d._"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			m, ok := NewMatcher().Match(tt.topic)
			assert.True(t, ok)
			assert.Equal(t, tt.device, m.Descriptor().ID)
			assert.Equal(t, tt.stateID, m.StateID())
		})
	}

	d, _ := NewMatcher().Match("sensors/living room/th1/temperature")
	assert.Equal(t, "living room", d.Descriptor().Room)
}

func TestSanitizeTopic(t *testing.T) {
	assert.Equal(t, "stat_plug_POWER", SanitizeTopic("stat/plug/POWER"))
	assert.Equal(t, "a_b_c_1", SanitizeTopic("a.b-c 1"))
	assert.Equal(t, "caf_", SanitizeTopic("café"))
}
