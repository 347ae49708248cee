package handshake

import "errors"

// Errors returned by the frame codec and both handshake roles.
var (
	// ErrShortFrame is a frame or length prefix below HeaderSize.
	ErrShortFrame = errors.New("handshake: frame shorter than its header")

	// ErrFrameTooLarge is a frame above MaxFrameSize.
	ErrFrameTooLarge = errors.New("handshake: frame too large")

	// ErrFrameLength is a length prefix that disagrees with the data.
	ErrFrameLength = errors.New("handshake: frame length mismatch")

	// ErrUnknownFrame is a type byte no FrameType names.
	ErrUnknownFrame = errors.New("handshake: unknown frame type")

	// ErrUnexpectedFrame is a valid frame arriving in the wrong state.
	ErrUnexpectedFrame = errors.New("handshake: unexpected frame")

	// ErrEmptyName is a Hello without a player name.
	ErrEmptyName = errors.New("handshake: empty player name")

	// ErrLoginRejected means the server refused the player before the exchange.
	ErrLoginRejected = errors.New("handshake: login rejected")

	// ErrAuthRejected means the server refused the credentials.
	ErrAuthRejected = errors.New("handshake: authentication rejected")

	// ErrServerUnproven means the server reported success before the client
	// verified its final message.
	ErrServerUnproven = errors.New("handshake: server accepted before proving itself")

	// ErrDisconnected means the connection closed mid-handshake.
	ErrDisconnected = errors.New("handshake: connection lost")
)
