// Package serverdb is the lobby's persistence collaborator. Logins and game
// creation are requested asynchronously and answered through callbacks;
// bookkeeping writes are queued behind them in order.
package serverdb

import (
	"context"
	"time"
)

// LoginCallback receives the outcome of AsyncPlayerLogin.
type LoginCallback interface {
	// PlayerLoginSuccess reports the player's id and stored password so the
	// caller can start the server side of the authentication exchange.
	PlayerLoginSuccess(requestID uint32, playerID uint32, password string)

	// PlayerLoginFailed reports an unknown player or a storage error.
	PlayerLoginFailed(requestID uint32)
}

// GameCallback receives the outcome of AsyncCreateGame.
type GameCallback interface {
	CreateGameSuccess(requestID uint32, gameID uint32)
	CreateGameFailed(requestID uint32)
}

// ServerDB is the interface the lobby uses to talk to its database.
type ServerDB interface {
	// Init applies configuration. It must be called before Start.
	Init(cfg Config) error

	// Start launches the request worker. It returns once the worker runs.
	Start(ctx context.Context) error

	// Stop drains the worker. Requests still queued are failed.
	Stop() error

	// SetCallbacks registers the outcome receivers. Call it before Start.
	SetCallbacks(login LoginCallback, game GameCallback)

	AsyncPlayerLogin(requestID uint32, playerName string)
	PlayerLogout(playerID uint32)
	AsyncCreateGame(requestID uint32, gameName string)
	SetGamePlayerPlace(gameID, playerID uint32, place uint)
	EndGame(gameID uint32)
}

// Cache backends for player lookups.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config configures a RedisDB.
type Config struct {
	// Addr is the Redis address, used when no client is injected.
	Addr     string
	Username string
	Password string
	DB       int

	// EncryptionKey protects the stored credential blobs. Required.
	EncryptionKey string

	// KeyPrefix namespaces every key the database writes.
	// Default: "lobby"
	KeyPrefix string

	// CacheBackend selects where decoded player records are cached:
	// CacheMemory or CacheRedis.
	// Default: CacheMemory
	CacheBackend string

	// CacheTTL bounds how long a player record stays cached.
	// Default: 5 minutes
	CacheTTL time.Duration

	// QueueSize is the capacity of the request queue.
	// Default: 256
	QueueSize int
}

// DefaultConfig returns a Config with defaults for everything except the
// encryption key.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		KeyPrefix:    "lobby",
		CacheBackend: CacheMemory,
		CacheTTL:     5 * time.Minute,
		QueueSize:    256,
	}
}
