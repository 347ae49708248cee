package sessionmanager

import "errors"

// Session manager errors.
var (
	// ErrSessionNotFound is returned when a session id is not registered.
	ErrSessionNotFound = errors.New("sessionmanager: session not found")

	// ErrGameNotFound is returned when a game id is not registered.
	ErrGameNotFound = errors.New("sessionmanager: game not found")

	// ErrNotEstablished is returned when a session has not finished the
	// handshake yet.
	ErrNotEstablished = errors.New("sessionmanager: session not established")

	// ErrPlayerLoggedIn is returned when a player id is already bound to
	// another live session.
	ErrPlayerLoggedIn = errors.New("sessionmanager: player already logged in")

	// ErrNoDatabase is returned for operations that need a database when
	// the manager was built without one.
	ErrNoDatabase = errors.New("sessionmanager: no database")

	// ErrGameCreateFailed is passed to the game-created hook when the
	// database rejects a game.
	ErrGameCreateFailed = errors.New("sessionmanager: game creation failed")
)
