package device

import (
	"maps"
	"strings"
	"time"
)

// ObjectType classifies a node in the object tree.
type ObjectType string

// Object types.
const (
	TypeDevice  ObjectType = "device"
	TypeChannel ObjectType = "channel"
	TypeState   ObjectType = "state"
)

// Value types recorded on state objects.
const (
	ValueBoolean = "boolean"
	ValueNumber  = "number"
	ValueString  = "string"
	ValueMixed   = "mixed"
)

// Object is a node of the hierarchical store. IDs are dot-delimited,
// e.g. "devices.livingroom.power".
type Object struct {
	ID        string         `json:"id"`
	Type      ObjectType     `json:"type"`
	Name      string         `json:"name"`
	Role      string         `json:"role,omitempty"`
	ValueType string         `json:"value_type,omitempty"`
	Read      bool           `json:"read"`
	Write     bool           `json:"write"`
	Native    map[string]any `json:"native,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DeepCopy returns a copy that shares no maps with the original.
func (o *Object) DeepCopy() *Object {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Native != nil {
		cp.Native = maps.Clone(o.Native)
	}
	return &cp
}

// State is the current value of a state object.
//
// Ack distinguishes confirmed values (written by the bridge after the broker
// side agreed) from requests (written by a user or API and awaiting action).
type State struct {
	ID        string    `json:"id"`
	Value     any       `json:"value"`
	Ack       bool      `json:"ack"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InTree reports whether id equals root or sits below it.
// An empty root matches every id.
func InTree(id, root string) bool {
	return root == "" || id == root || strings.HasPrefix(id, root+".")
}
