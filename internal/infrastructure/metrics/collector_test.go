package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/topicbridge/internal/infrastructure/mqtt"
)

func TestCollector_Traffic(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.MessageReceived("device/abc/power")
	}
	c.PublishCompleted("a/b", nil)
	c.PublishCompleted("a/b", nil)
	c.PublishCompleted("a/b", errors.New("timeout"))

	assert.Equal(t, 5.0, testutil.ToFloat64(c.received))

	expected := `
# HELP topicbridge_messages_published_total Total number of completed MQTT publishes by result
# TYPE topicbridge_messages_published_total counter
topicbridge_messages_published_total{result="error"} 1
topicbridge_messages_published_total{result="ok"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(c.published, strings.NewReader(expected)))
}

func TestCollector_BridgeEvents(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.DiscoveryEvent("create")
	c.DiscoveryEvent("create")
	c.DiscoveryEvent("remove")
	c.UnmappedMessage()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.discovery.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.discovery.WithLabelValues("remove")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.unmapped))
}

func TestCollector_ConnectionState(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.StateChanged(mqtt.StateConnected)
	assert.Equal(t, float64(mqtt.StateConnected), testutil.ToFloat64(c.connection))

	c.StateChanged(mqtt.StateOffline)
	assert.Equal(t, float64(mqtt.StateOffline), testutil.ToFloat64(c.connection))
}

func TestNewCollector_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	first.UnmappedMessage()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.unmapped))
}
