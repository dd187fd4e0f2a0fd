package session

// State is the lifecycle state of a session.
type State int

const (
	// StateConnecting indicates the transport connection is being
	// established.
	StateConnecting State = iota

	// StateAuthenticating indicates the session is waiting for the
	// bearer token.
	StateAuthenticating

	// StateActive indicates the session is authenticated and processing
	// commands.
	StateActive

	// StateClosing indicates a close frame is being delivered.
	StateClosing

	// StateClosed indicates the session is finished.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
