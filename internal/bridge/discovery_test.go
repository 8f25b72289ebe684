package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscovery_IsDiscoveryTopic(t *testing.T) {
	d := NewDiscovery("")

	assert.True(t, d.IsDiscoveryTopic("homeassistant/switch/plug1/config"))
	assert.False(t, d.IsDiscoveryTopic("homeassistant/switch/plug1/state"))
	assert.False(t, d.IsDiscoveryTopic("homeassistant/switch/config"))
	assert.False(t, d.IsDiscoveryTopic("homeassistant/switch/node/plug1/config"))
	assert.False(t, d.IsDiscoveryTopic("other/switch/plug1/config"))

	custom := NewDiscovery("disco")
	assert.True(t, custom.IsDiscoveryTopic("disco/light/lamp/config"))
	assert.False(t, custom.IsDiscoveryTopic("homeassistant/light/lamp/config"))
}

func TestDiscovery_RemoveOnEmptyPayload(t *testing.T) {
	d := NewDiscovery("")

	for _, in := range []string{"", "null"} {
		action, err := d.Process("homeassistant/switch/plug1/config", ParsePayload([]byte(in)))
		require.NoError(t, err)
		assert.Equal(t, RemoveDevice{Component: "switch", ObjectID: "plug1"}, action)
	}
}

func TestDiscovery_Create(t *testing.T) {
	d := NewDiscovery("")
	payload := ParsePayload([]byte(`{
		"name": "Desk Plug",
		"state_topic": "stat/plug1/POWER",
		"availability_topic": "tele/plug1/LWT"
	}`))

	action, err := d.Process("homeassistant/switch/plug1/config", payload)
	require.NoError(t, err)

	create, ok := action.(CreateDevice)
	require.True(t, ok)
	assert.Equal(t, "discovered.switch.plug1", create.Descriptor.ID)
	assert.Equal(t, "Desk Plug", create.Descriptor.Name)
	assert.Equal(t, "switch", create.Descriptor.Component)
	assert.Equal(t, "plug1", create.Descriptor.ObjectID)
	assert.Equal(t, "homeassistant/switch/plug1/config", create.Descriptor.DiscoveryTopic)
	assert.Equal(t, []string{"stat/plug1/POWER", "tele/plug1/LWT"}, create.Subscriptions)
}

func TestDiscovery_AbbreviatedKeysAndDefaultName(t *testing.T) {
	d := NewDiscovery("")
	payload := ParsePayload([]byte(`{"stat_t":"s/t","avty_t":"a/t"}`))

	action, err := d.Process("homeassistant/sensor/temp1/config", payload)
	require.NoError(t, err)

	create := action.(CreateDevice)
	assert.Equal(t, "temp1", create.Descriptor.Name)
	assert.Equal(t, "s/t", create.Descriptor.StateTopic)
	assert.Equal(t, "a/t", create.Descriptor.AvailabilityTopic)
}

func TestDiscovery_NoTopicsNoSubscriptions(t *testing.T) {
	d := NewDiscovery("")
	action, err := d.Process("homeassistant/button/b1/config", ParsePayload([]byte(`{"name":"B"}`)))
	require.NoError(t, err)
	assert.Empty(t, action.(CreateDevice).Subscriptions)
}

func TestDiscovery_Malformed(t *testing.T) {
	d := NewDiscovery("")

	for _, in := range []string{"garbage", "42", `["a"]`, `{"name":`} {
		_, err := d.Process("homeassistant/switch/plug1/config", ParsePayload([]byte(in)))
		assert.ErrorIs(t, err, ErrDiscovery, in)
	}

	_, err := d.Process("device/abc/power", ParsePayload([]byte("{}")))
	assert.ErrorIs(t, err, ErrDiscovery)
}
