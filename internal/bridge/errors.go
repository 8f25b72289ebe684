package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrDiscovery is returned for a discovery message that cannot be used.
	// The message is dropped; later messages are unaffected.
	ErrDiscovery = errors.New("bridge: malformed discovery message")

	// ErrStopped is returned by requests made after Run has returned.
	ErrStopped = errors.New("bridge: engine stopped")

	// ErrInvalidOptions is returned by NewEngine when a required collaborator is missing.
	ErrInvalidOptions = errors.New("bridge: invalid options")
)
