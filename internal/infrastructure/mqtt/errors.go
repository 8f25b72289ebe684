package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing while the session is not Connected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrAlreadyConnected is returned when Connect is called outside the Disconnected state.
	ErrAlreadyConnected = errors.New("mqtt: connect called while not disconnected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish is rejected or not acknowledged in time.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe is rejected or not acknowledged in time.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when an acknowledgement does not arrive in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrClosed is returned by operations on a manager that has been closed.
	ErrClosed = errors.New("mqtt: manager closed")
)
