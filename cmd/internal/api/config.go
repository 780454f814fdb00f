package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config controls request limits, cookie transport, the status watch and
// login throttling.
type Config struct {
	// UploadSizeMax caps request bodies; larger bodies get 413.
	UploadSizeMax int64 `env:"WEBUI_UPLOAD_SIZE_MAX,default=4194304"`
	// SecureCookie sets Secure on the session cookie and names it with the
	// __Host- prefix.
	SecureCookie bool `env:"WEBUI_SECURE_COOKIE,default=true"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `env:"WEBUI_TRUST_PROXY,default=false"`

	WatchInterval     time.Duration `env:"WEBUI_WATCH_INTERVAL,default=5s"`
	WatchWriteTimeout time.Duration `env:"WEBUI_WATCH_WRITE_TIMEOUT,default=10s"`

	// Login throttling, applied when a failure source is configured.
	LoginIPMax    int           `env:"WEBUI_LOGIN_IP_MAX,default=20"`
	LoginIPWindow time.Duration `env:"WEBUI_LOGIN_IP_WINDOW,default=5m"`

	LoginUserWindow        time.Duration `env:"WEBUI_LOGIN_USER_WINDOW,default=2h"`
	LockoutShortThreshold  int           `env:"WEBUI_LOGIN_LOCKOUT_SHORT_THRESHOLD,default=5"`
	LockoutShortDuration   time.Duration `env:"WEBUI_LOGIN_LOCKOUT_SHORT_DURATION,default=5m"`
	LockoutLongThreshold   int           `env:"WEBUI_LOGIN_LOCKOUT_LONG_THRESHOLD,default=10"`
	LockoutLongDuration    time.Duration `env:"WEBUI_LOGIN_LOCKOUT_LONG_DURATION,default=30m"`
	LockoutSevereThreshold int           `env:"WEBUI_LOGIN_LOCKOUT_SEVERE_THRESHOLD,default=20"`
	LockoutSevereDuration  time.Duration `env:"WEBUI_LOGIN_LOCKOUT_SEVERE_DURATION,default=2h"`
}

// DefaultConfig mirrors the struct tag defaults.
func DefaultConfig() Config {
	return Config{
		UploadSizeMax:     4 << 20,
		SecureCookie:      true,
		WatchInterval:     5 * time.Second,
		WatchWriteTimeout: 10 * time.Second,

		LoginIPMax:    20,
		LoginIPWindow: 5 * time.Minute,

		LoginUserWindow:        2 * time.Hour,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv decodes Config from the WEBUI_* environment. Sizes,
// intervals and throttle settings must be positive.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		if !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return Config{}, fmt.Errorf("api: config: %w", err)
		}
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("api: config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, n := range map[string]int64{
		"WEBUI_UPLOAD_SIZE_MAX":                c.UploadSizeMax,
		"WEBUI_LOGIN_IP_MAX":                   int64(c.LoginIPMax),
		"WEBUI_LOGIN_LOCKOUT_SHORT_THRESHOLD":  int64(c.LockoutShortThreshold),
		"WEBUI_LOGIN_LOCKOUT_LONG_THRESHOLD":   int64(c.LockoutLongThreshold),
		"WEBUI_LOGIN_LOCKOUT_SEVERE_THRESHOLD": int64(c.LockoutSevereThreshold),
	} {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}
	for name, d := range map[string]time.Duration{
		"WEBUI_WATCH_INTERVAL":                c.WatchInterval,
		"WEBUI_WATCH_WRITE_TIMEOUT":           c.WatchWriteTimeout,
		"WEBUI_LOGIN_IP_WINDOW":               c.LoginIPWindow,
		"WEBUI_LOGIN_USER_WINDOW":             c.LoginUserWindow,
		"WEBUI_LOGIN_LOCKOUT_SHORT_DURATION":  c.LockoutShortDuration,
		"WEBUI_LOGIN_LOCKOUT_LONG_DURATION":   c.LockoutLongDuration,
		"WEBUI_LOGIN_LOCKOUT_SEVERE_DURATION": c.LockoutSevereDuration,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
