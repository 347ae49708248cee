package sessionmanager

import "time"

// Config controls the timeout sweep.
type Config struct {
	// InitTimeout disconnects sessions that have not authenticated after
	// this long.
	InitTimeout time.Duration

	// ActivityWarning is the idle time after which an authenticated session
	// gets one warning.
	ActivityWarning time.Duration

	// ActivityKick is the idle time after which an authenticated session is
	// disconnected.
	ActivityKick time.Duration

	// SweepInterval is how often Run calls Sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		InitTimeout:     60 * time.Second,
		ActivityWarning: 29 * time.Minute,
		ActivityKick:    30 * time.Minute,
		SweepInterval:   time.Second,
	}
}
