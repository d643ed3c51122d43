package live

import "fmt"

// State is the session's position in its lifecycle.
type State int32

// Session states. A started session that has lost its connection returns to
// StateUnstarted until it is re-established.
const (
	StateUnstarted State = iota
	StateConnected
	StateAuthenticating
	StateReady
	StateStreaming
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
