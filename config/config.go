// Package config loads the lobby server configuration from a JSON file.
// Lines starting with // are comments.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cyberinferno/go-lobby/sasl"
	"github.com/cyberinferno/go-lobby/serverdb"
	"github.com/cyberinferno/go-lobby/sessionmanager"
	"github.com/sauerbraten/jsonfile"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
	Database DatabaseConfig `json:"database"`
	Timeouts TimeoutConfig  `json:"timeouts"`
	Auth     AuthConfig     `json:"auth"`
}

// ServerConfig names the lobby and its listen address.
type ServerConfig struct {
	Name          string `json:"name"`
	ListenAddress string `json:"listen_address"`
}

// LogConfig selects the log level and optional file output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
	// Dir enables daily log files in addition to stdout when set.
	Dir string `json:"dir"`
}

// DatabaseConfig is the redis connection and the player cache in front of it.
// CacheBackend is "memory" or "redis".
type DatabaseConfig struct {
	Address       string   `json:"address"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	DB            int      `json:"db"`
	EncryptionKey string   `json:"encryption_key"`
	KeyPrefix     string   `json:"key_prefix"`
	CacheBackend  string   `json:"cache_backend"`
	CacheTTL      Duration `json:"cache_ttl"`
	QueueSize     int      `json:"queue_size"`
}

// TimeoutConfig holds the session manager timeouts.
type TimeoutConfig struct {
	Init            Duration `json:"init"`
	ActivityWarning Duration `json:"activity_warning"`
	ActivityKick    Duration `json:"activity_kick"`
	SweepInterval   Duration `json:"sweep_interval"`
}

// AuthConfig picks the SCRAM mechanism and its PBKDF2 iteration count.
type AuthConfig struct {
	Mechanism  string `json:"mechanism"`
	Iterations int    `json:"iterations"`
}

// Default returns a complete configuration. Only the database encryption
// key has no usable default.
func Default() *Config {
	db := serverdb.DefaultConfig()
	sm := sessionmanager.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Name:          "lobby",
			ListenAddress: ":7234",
		},
		Log: LogConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Address:      db.Addr,
			KeyPrefix:    db.KeyPrefix,
			CacheBackend: db.CacheBackend,
			CacheTTL:     Duration(db.CacheTTL),
			QueueSize:    db.QueueSize,
		},
		Timeouts: TimeoutConfig{
			Init:            Duration(sm.InitTimeout),
			ActivityWarning: Duration(sm.ActivityWarning),
			ActivityKick:    Duration(sm.ActivityKick),
			SweepInterval:   Duration(sm.SweepInterval),
		},
		Auth: AuthConfig{
			Mechanism:  sasl.MechSCRAMSHA1,
			Iterations: sasl.DefaultIterations,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
//
// Parameters:
//   - path: Path of the JSON config file
//
// Returns:
//   - The merged configuration
//   - A parse error or an ErrInvalid wrap
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := jsonfile.ParseFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	switch {
	case c.Server.ListenAddress == "":
		return fmt.Errorf("%w: server.listen_address is empty", ErrInvalid)
	case c.Database.Address == "":
		return fmt.Errorf("%w: database.address is empty", ErrInvalid)
	case c.Database.EncryptionKey == "":
		return fmt.Errorf("%w: database.encryption_key is empty", ErrInvalid)
	case c.Database.CacheBackend != serverdb.CacheMemory && c.Database.CacheBackend != serverdb.CacheRedis:
		return fmt.Errorf("%w: database.cache_backend %q", ErrInvalid, c.Database.CacheBackend)
	case c.Database.QueueSize <= 0:
		return fmt.Errorf("%w: database.queue_size must be positive", ErrInvalid)
	case c.Timeouts.Init <= 0, c.Timeouts.ActivityWarning <= 0, c.Timeouts.ActivityKick <= 0, c.Timeouts.SweepInterval <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	case c.Timeouts.ActivityWarning >= c.Timeouts.ActivityKick:
		return fmt.Errorf("%w: timeouts.activity_warning must be below timeouts.activity_kick", ErrInvalid)
	case !slices.Contains(sasl.NewContext().Mechanisms(), c.Auth.Mechanism):
		return fmt.Errorf("%w: auth.mechanism %q", ErrInvalid, c.Auth.Mechanism)
	case c.Auth.Iterations < sasl.DefaultIterations:
		return fmt.Errorf("%w: auth.iterations below %d", ErrInvalid, sasl.DefaultIterations)
	}

	return nil
}

// ServerDB returns the database settings.
func (c *Config) ServerDB() serverdb.Config {
	return serverdb.Config{
		Addr:          c.Database.Address,
		Username:      c.Database.Username,
		Password:      c.Database.Password,
		DB:            c.Database.DB,
		EncryptionKey: c.Database.EncryptionKey,
		KeyPrefix:     c.Database.KeyPrefix,
		CacheBackend:  c.Database.CacheBackend,
		CacheTTL:      time.Duration(c.Database.CacheTTL),
		QueueSize:     c.Database.QueueSize,
	}
}

// Sessions returns the session manager settings.
func (c *Config) Sessions() sessionmanager.Config {
	return sessionmanager.Config{
		InitTimeout:     time.Duration(c.Timeouts.Init),
		ActivityWarning: time.Duration(c.Timeouts.ActivityWarning),
		ActivityKick:    time.Duration(c.Timeouts.ActivityKick),
		SweepInterval:   time.Duration(c.Timeouts.SweepInterval),
	}
}

// Mechanism returns the SCRAM context configured by the auth section.
func (c *Config) Mechanism() *sasl.Context {
	return sasl.NewContext(sasl.WithIterations(c.Auth.Iterations))
}
