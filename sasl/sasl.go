// Package sasl wraps challenge-response authentication mechanisms behind a
// small start/step/finish interface used by the session record.
package sasl

// Mechanism names understood by Context.
const (
	MechSCRAMSHA1   = "SCRAM-SHA-1"
	MechSCRAMSHA256 = "SCRAM-SHA-256"
)

// Mechanism starts authentication conversations for a named mechanism in
// either the client or the server role.
type Mechanism interface {
	// ClientStart begins a conversation that proves knowledge of password
	// for authID.
	ClientStart(name, authID, password string) (Conversation, error)

	// ServerStart begins a conversation that verifies a client claiming
	// authID against password.
	ServerStart(name, authID, password string) (Conversation, error)
}

// Conversation is one in-progress authentication exchange.
type Conversation interface {
	// Step feeds the peer's last message and returns the message to send
	// back. done reports that this side has nothing more to receive.
	Step(in []byte) (out []byte, done bool, err error)

	// Finish releases the conversation. It is safe to call more than once.
	Finish()
}
