package serverdb

import "errors"

var (
	ErrNoEncryptionKey = errors.New("serverdb: encryption key not set")
	ErrUnknownCache    = errors.New("serverdb: unknown cache backend")
	ErrNotInitialized  = errors.New("serverdb: not initialized")
	ErrAlreadyStarted  = errors.New("serverdb: already started")
	ErrStopped         = errors.New("serverdb: stopped")
	ErrInvalidName     = errors.New("serverdb: invalid player name")
	ErrEmptyPassword   = errors.New("serverdb: empty password")
	ErrPlayerExists    = errors.New("serverdb: player already exists")
	ErrPlayerNotFound  = errors.New("serverdb: player not found")
	ErrCorruptRecord   = errors.New("serverdb: corrupt player record")
)
