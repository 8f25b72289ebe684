package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// stateMeasurement is the measurement state changes are written to.
const stateMeasurement = "state"

// WriteStateChange records a confirmed state value.
//
// The point has measurement "state", tag "id" and a single "value" field.
// Numbers, booleans and strings are written with their own field type;
// nil values are skipped. The write is non-blocking.
//
// Parameters:
//   - id: Store identifier, e.g. "devices.kitchen_thermo1.temperature"
//   - value: The confirmed value
//   - at: Time the value was observed
func (c *Client) WriteStateChange(id string, value any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point, ok := statePoint(id, value, at)
	if !ok {
		return
	}
	c.writeAPI.WritePoint(point)
}

// statePoint builds the point for a state value, or false when the value
// has no field representation.
func statePoint(id string, value any, at time.Time) (*write.Point, bool) {
	field, ok := fieldValue(value)
	if !ok {
		return nil, false
	}
	return write.NewPoint(
		stateMeasurement,
		map[string]string{"id": id},
		map[string]any{"value": field},
		at,
	), true
}

func fieldValue(v any) (any, bool) {
	switch val := v.(type) {
	case float64, bool, string:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return int64(val), true
	case int64, uint64:
		return val, true
	default:
		return nil, false
	}
}
