package live

import "time"

// EventType names a session lifecycle event.
type EventType string

// Lifecycle event types.
const (
	EventConnected    EventType = "connected"
	EventReconnecting EventType = "reconnecting"
	EventReconnected  EventType = "reconnected"
	EventClosed       EventType = "closed"
)

// Event describes a session lifecycle transition.
type Event struct {
	Type      EventType `json:"type" msgpack:"type"`
	Dataset   string    `json:"dataset" msgpack:"dataset"`
	SessionID string    `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	// Attempt is the reconnection attempt number, starting at 1.
	Attempt int `json:"attempt,omitempty" msgpack:"attempt,omitempty"`
	// Err is the failure that triggered the event, if any.
	Err  error     `json:"-" msgpack:"-"`
	Time time.Time `json:"time" msgpack:"time"`
}

// ErrString returns Err's message, or "" when Err is nil.
func (e Event) ErrString() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
