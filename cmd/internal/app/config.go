package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	MetricsEnabled bool

	// AuthFile is the credentials file; empty rejects every login.
	AuthFile string
	// PkgIndex selects the package index: "apt" or "none".
	PkgIndex string

	CommitName  string
	CommitEmail string

	// Scheduler periods. Zero picks the randomized defaults.
	ReapInterval  time.Duration
	IndexInterval time.Duration

	// InvalidEnv lists the keys whose values did not parse and were
	// replaced by defaults.
	InvalidEnv []string

	// If true, WEBUI_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so session
	// fingerprints in logs cannot be brute-forced back to tokens.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	e := &envReader{}
	cfg := Config{
		HTTPAddr:  e.String("WEBUI_HTTP_ADDR", "localhost:8080"),
		LogLevel:  e.String("WEBUI_LOG_LEVEL", "info"),
		LogFormat: e.String("WEBUI_LOG_FORMAT", "json"),

		ReadHeaderTimeout: e.Duration("WEBUI_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       e.Duration("WEBUI_HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      e.Duration("WEBUI_HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       e.Duration("WEBUI_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: e.Int("WEBUI_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: e.String("WEBUI_DATABASE_URL", ""),
		DBMaxConns:  e.Int32("WEBUI_DB_MAX_CONNS", 4),
		DBMinConns:  e.Int32("WEBUI_DB_MIN_CONNS", 0),

		ReadinessRequireDB: e.Bool("WEBUI_READINESS_REQUIRE_DB", false),

		MetricsEnabled: e.Bool("WEBUI_METRICS_ENABLED", true),

		AuthFile: e.String("WEBUI_AUTH_FILE", ""),
		PkgIndex: e.String("WEBUI_PKGINDEX", "apt"),

		CommitName:  e.String("WEBUI_COMMIT_NAME", "webui"),
		CommitEmail: e.String("WEBUI_COMMIT_EMAIL", "webui@cluster.local"),

		ReapInterval:  e.Duration("WEBUI_REAP_INTERVAL", 0),
		IndexInterval: e.Duration("WEBUI_INDEX_REFRESH_INTERVAL", 0),

		RequireTokenHMAC: e.Bool("WEBUI_REQUIRE_TOKEN_HMAC", false),
	}
	cfg.InvalidEnv = e.invalid
	return cfg
}
