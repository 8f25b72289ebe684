package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrObjectNotFound) {
//	    // handle not found case
//	}
var (
	// ErrObjectNotFound is returned when an object ID does not exist.
	ErrObjectNotFound = errors.New("device: object not found")

	// ErrObjectExists is returned when creating an object with an ID that already exists.
	ErrObjectExists = errors.New("device: object already exists")

	// ErrStateNotFound is returned when no value has been written for a state ID.
	ErrStateNotFound = errors.New("device: state not found")

	// ErrInvalidObject is returned when object validation fails.
	ErrInvalidObject = errors.New("device: invalid object")

	// ErrInvalidID is returned when an identifier is empty or malformed.
	ErrInvalidID = errors.New("device: invalid id")
)
