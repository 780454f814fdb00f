package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"webui/cmd/internal/session"
)

// Run serves until SIGINT or SIGTERM.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// ReapOnce removes every expired session and returns how many were removed.
func ReapOnce() (int, error) {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return 0, err
	}
	store, err := session.NewStore(sessCfg, log)
	if err != nil {
		return 0, err
	}
	return store.Reap(time.Now())
}
