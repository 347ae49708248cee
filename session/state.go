package session

// ID identifies a session. Zero means "no session".
type ID uint32

// State is the lifecycle stage of a session. The record stores it but does
// not validate transitions; the transport layer drives them.
type State int

const (
	// StateInit is assigned at creation.
	StateInit State = iota

	// StateAuthenticating means the handshake is in progress.
	StateAuthenticating

	// StateEstablished means the peer authenticated and sits in the lobby.
	StateEstablished

	// StateGame means the peer joined a game.
	StateGame

	// StateClosed is set when the record is destroyed.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAuthenticating:
		return "Authenticating"
	case StateEstablished:
		return "Established"
	case StateGame:
		return "Game"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Authenticated reports whether the state is past the handshake and not closed.
func (s State) Authenticated() bool {
	return s == StateEstablished || s == StateGame
}
