package mqtt

import "time"

// State is the broker session state. Exactly one is current per Manager.
type State int32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateOffline
	StateErrored
)

// String returns the lower-case state name used in logs and the status API.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// EventKind enumerates what the transport reported.
type EventKind int

// Event kinds.
const (
	EventConnected EventKind = iota + 1
	EventMessage
	EventError
	EventClosed
	EventReconnecting
	EventOffline
	EventPublished
	EventSubscribed
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	case EventReconnecting:
		return "reconnecting"
	case EventOffline:
		return "offline"
	case EventPublished:
		return "published"
	case EventSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Event is one transport occurrence, delivered in order on Manager.Events.
//
// Topic is set for EventMessage, EventPublished and EventSubscribed; Payload
// only for EventMessage and QoS only for EventSubscribed. Err is set for
// EventError, optionally for EventOffline, and for a failed EventPublished
// or EventSubscribed.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	QoS     byte
	Err     error
	At      time.Time

	done    func(error)
	session uint64
}

// Stats is a snapshot of the traffic counters.
type Stats struct {
	MessagesReceived uint64    `json:"messages_received"`
	MessagesSent     uint64    `json:"messages_sent"`
	LastMessage      time.Time `json:"last_message,omitempty"`
}
