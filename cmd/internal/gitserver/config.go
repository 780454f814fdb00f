package gitserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config locates the git host and controls how it is reached.
type Config struct {
	// Server is the git host name. ENV: WEBUI_GIT_SERVER
	Server string `env:"WEBUI_GIT_SERVER,default=localhost"`
	// User is the ssh account on the host. ENV: WEBUI_GIT_USER
	User string `env:"WEBUI_GIT_USER,default=git"`
	// SSHCommand is split with shell quoting rules. ENV: WEBUI_SSH_COMMAND
	SSHCommand string `env:"WEBUI_SSH_COMMAND,default=ssh -o BatchMode=yes"`
	// URLPrefix, when set, replaces "<user>@<server>:" in clone URLs
	// (e.g. "file:///srv/git/"). ENV: WEBUI_GIT_URL_PREFIX
	URLPrefix string `env:"WEBUI_GIT_URL_PREFIX"`
	// Timeout bounds every host command. ENV: WEBUI_COMMAND_TIMEOUT
	Timeout time.Duration `env:"WEBUI_COMMAND_TIMEOUT,default=10s"`
}

// DefaultConfig mirrors the struct tag defaults.
func DefaultConfig() Config {
	return Config{
		Server:     "localhost",
		User:       "git",
		SSHCommand: "ssh -o BatchMode=yes",
		Timeout:    10 * time.Second,
	}
}

// LoadConfigFromEnv decodes Config from the environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		if !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return Config{}, fmt.Errorf("gitserver: config: %w", err)
		}
		cfg = DefaultConfig()
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("gitserver: config: timeout must be positive")
	}
	return cfg, nil
}
