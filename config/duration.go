package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads either a Go duration string
// ("90s", "30m") or a plain number of seconds from JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("config: duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("config: duration must be a string or a number, got %s", b)
	}

	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// String formats d like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}
