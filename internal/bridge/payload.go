package bridge

import (
	"encoding/json"
	"strconv"
)

// PayloadKind tags how an inbound payload was interpreted.
type PayloadKind int

const (
	// PayloadRaw is an opaque string that did not parse as JSON.
	PayloadRaw PayloadKind = iota

	// PayloadParsed is a JSON document; Value holds the decoded form.
	PayloadParsed
)

// Payload is an inbound message body.
//
// Raw always holds the original text. For PayloadParsed, Value is one of
// nil, bool, float64, string, map[string]any or []any.
type Payload struct {
	Kind  PayloadKind
	Raw   string
	Value any
}

// ParsePayload interprets b as JSON when possible and as a plain string
// otherwise. It never fails.
func ParsePayload(b []byte) Payload {
	raw := string(b)
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return Payload{Kind: PayloadRaw, Raw: raw}
	}
	return Payload{Kind: PayloadParsed, Raw: raw, Value: v}
}

// IsEmpty reports whether the payload is empty or JSON null.
func (p Payload) IsEmpty() bool {
	if p.Kind == PayloadRaw {
		return p.Raw == ""
	}
	return p.Value == nil
}

// StateValue returns the value written to the store.
// Objects and arrays are kept as their JSON text.
func (p Payload) StateValue() any {
	if p.Kind == PayloadRaw {
		return p.Raw
	}
	switch p.Value.(type) {
	case map[string]any, []any:
		return p.Raw
	default:
		return p.Value
	}
}

// valueType names the store value type of v.
func valueType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		return "number"
	case string:
		return "string"
	default:
		return "mixed"
	}
}

// formatRaw renders v as an outbound raw payload.
func formatRaw(v any) []byte {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []byte(val)
	case bool:
		return []byte(strconv.FormatBool(val))
	case float64:
		return []byte(strconv.FormatFloat(val, 'f', -1, 64))
	case []byte:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return b
	}
}

// jsonEnvelope is the json output format of a topic mapping.
type jsonEnvelope struct {
	Value     any   `json:"value"`
	Timestamp int64 `json:"timestamp"`
}
