package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/topicbridge/internal/infrastructure/mqtt"
)

// Publish results used as the "result" label.
const (
	resultOK    = "ok"
	resultError = "error"
)

// Collector records bridge activity in Prometheus metrics.
//
// It implements mqtt.Observer for session traffic and state, and the
// bridge's Metrics interface for discovery and unmapped messages.
type Collector struct {
	received   prometheus.Counter
	published  *prometheus.CounterVec
	discovery  *prometheus.CounterVec
	unmapped   prometheus.Counter
	connection prometheus.Gauge
}

// NewCollector registers the bridge metrics on reg. If reg is nil, the
// default registerer is used. Collectors that are already registered are
// reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	received := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "topicbridge_messages_received_total",
		Help: "Total number of MQTT messages received",
	})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topicbridge_messages_published_total",
		Help: "Total number of completed MQTT publishes by result",
	}, []string{"result"})
	discovery := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topicbridge_discovery_events_total",
		Help: "Total number of discovery messages by action",
	}, []string{"action"})
	unmapped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "topicbridge_unmapped_messages_total",
		Help: "Total number of messages stored under the raw container",
	})
	connection := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topicbridge_connection_state",
		Help: "Current MQTT session state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 offline, 5 errored)",
	})

	var err error
	if received, err = register(reg, received); err != nil {
		return nil, err
	}
	if published, err = register(reg, published); err != nil {
		return nil, err
	}
	if discovery, err = register(reg, discovery); err != nil {
		return nil, err
	}
	if unmapped, err = register(reg, unmapped); err != nil {
		return nil, err
	}
	if connection, err = register(reg, connection); err != nil {
		return nil, err
	}

	return &Collector{
		received:   received,
		published:  published,
		discovery:  discovery,
		unmapped:   unmapped,
		connection: connection,
	}, nil
}

// register registers c, returning the existing collector when one with the
// same descriptor is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// StateChanged implements mqtt.Observer.
func (c *Collector) StateChanged(s mqtt.State) {
	c.connection.Set(float64(s))
}

// MessageReceived implements mqtt.Observer.
func (c *Collector) MessageReceived(string) {
	c.received.Inc()
}

// PublishCompleted implements mqtt.Observer.
func (c *Collector) PublishCompleted(_ string, err error) {
	if err != nil {
		c.published.WithLabelValues(resultError).Inc()
		return
	}
	c.published.WithLabelValues(resultOK).Inc()
}

// DiscoveryEvent counts a processed discovery message.
func (c *Collector) DiscoveryEvent(action string) {
	c.discovery.WithLabelValues(action).Inc()
}

// UnmappedMessage counts a message stored without interpretation.
func (c *Collector) UnmappedMessage() {
	c.unmapped.Inc()
}
