package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines the runtime configuration of the session store.
type Config struct {
	// Dir is the root directory holding one subdirectory per live session.
	Dir string

	// Timeout is the session lifetime measured from the last rotation.
	Timeout time.Duration

	// TokenBytes is the number of random bytes behind a token.
	TokenBytes int
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Dir:        "sessions",
		Timeout:    20 * time.Minute,
		TokenBytes: 32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - WEBUI_SESSION_DIR
//   - WEBUI_SESSION_TIMEOUT (Go duration, or whole seconds)
//   - WEBUI_SESSION_TOKEN_BYTES (16..64)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("WEBUI_SESSION_DIR"); v != "" {
		cfg.Dir = v
	}

	if v := os.Getenv("WEBUI_SESSION_TIMEOUT"); v != "" {
		d, err := parseTimeout(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.Timeout = d
	}

	if v := os.Getenv("WEBUI_SESSION_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}

	return cfg, nil
}

// parseTimeout accepts "20m" as well as the bare seconds count "1200".
func parseTimeout(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
