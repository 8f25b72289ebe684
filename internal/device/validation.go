package device

import (
	"fmt"
	"strings"
	"unicode"
)

// Limits enforced by ValidateID and ValidateObject, in bytes.
const (
	MaxIDLength   = 255
	MaxNameLength = 200
)

// ValidateID checks a hierarchical identifier.
// Segments are separated by "." and must be non-empty without whitespace.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidID, MaxIDLength)
	}
	for _, seg := range strings.Split(id, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidID, id)
		}
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidID, id)
	}
	return nil
}

// ValidateObject performs validation on an object before it is stored.
func ValidateObject(o *Object) error {
	if o == nil {
		return ErrInvalidObject
	}
	if err := ValidateID(o.ID); err != nil {
		return err
	}
	switch o.Type {
	case TypeDevice, TypeChannel, TypeState:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidObject, o.Type)
	}
	if len(o.Name) > MaxNameLength {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidObject, MaxNameLength)
	}
	return nil
}
