package bridge

import (
	"math"
	"strconv"
	"strings"
)

// Transform kinds for outbound topic mappings.
const (
	TransformBoolToOnOff  = "boolean_to_onoff"
	TransformBoolToNumber = "boolean_to_number"
	TransformInvertBool   = "invert_boolean"
	TransformMultiply10   = "multiply_10"
	TransformDivide10     = "divide_10"
)

// Transform applies kind to value. Unknown or empty kinds return value
// unchanged. Numeric kinds accept numbers and numeric strings such as "5";
// any other value is returned unchanged.
func Transform(value any, kind string) any {
	switch kind {
	case TransformBoolToOnOff:
		if truthy(value) {
			return "ON"
		}
		return "OFF"
	case TransformBoolToNumber:
		if truthy(value) {
			return float64(1)
		}
		return float64(0)
	case TransformInvertBool:
		return !truthy(value)
	case TransformMultiply10:
		if f, ok := toNumber(value); ok {
			return f * 10
		}
		return value
	case TransformDivide10:
		if f, ok := toNumber(value); ok {
			return f / 10
		}
		return value
	default:
		return value
	}
}

// truthy follows the usual loose boolean rules: false, 0, NaN, "" and nil
// are false, everything else is true.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	default:
		if f, ok := toFloat(v); ok {
			return f != 0 && !math.IsNaN(f)
		}
		return true
	}
}

// toNumber is toFloat that also parses numeric strings.
func toNumber(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
