// Package app wires the webui server runtime: config, logging, HTTP routes,
// background jobs, and the services behind the API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"webui/cmd/identity"
	"webui/cmd/internal/api"
	"webui/cmd/internal/audit"
	"webui/cmd/internal/execute"
	"webui/cmd/internal/gitrepo"
	"webui/cmd/internal/gitserver"
	"webui/cmd/internal/metrics"
	"webui/cmd/internal/pkgindex"
	"webui/cmd/internal/session"
	"webui/cmd/internal/workspace"
)

// Default scheduler windows. Reaping runs every 10 to 100 session
// lifetimes; the package database is refreshed every 3 to 14 days.
const (
	reapMinFactor   = 10
	reapMaxFactor   = 100
	indexRefreshMin = 3 * 24 * time.Hour
	indexRefreshMax = 14 * 24 * time.Hour
)

// App is the webui server runtime: it owns the HTTP server, the scheduler
// and every long-lived dependency.
type App struct {
	cfg Config
	log *slog.Logger

	pool     *pgxpool.Pool
	registry *prometheus.Registry

	sessions *session.Store
	creds    *identity.FileAuthenticator
	apt      *pkgindex.AptIndex

	api       *api.Handler
	scheduler *Scheduler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	for _, key := range cfg.InvalidEnv {
		log.Warn("config.env.invalid", "key", key, "action", "default_used")
	}

	a := &App{cfg: cfg, log: log}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	a.sessions, err = session.NewStore(sessCfg, log)
	if err != nil {
		return nil, err
	}

	hostCfg, err := gitserver.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	run := execute.NewExec(log, hostCfg.Timeout)
	host, err := gitserver.New(hostCfg, run, log)
	if err != nil {
		return nil, err
	}

	apiCfg, err := api.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	wsCfg := workspace.DefaultConfig()
	wsCfg.MaxFileSize = apiCfg.UploadSizeMax
	wsCfg.Committer = gitrepo.Identity{Name: cfg.CommitName, Email: cfg.CommitEmail}
	ctrl := workspace.New(wsCfg, host, run, log)

	auth, err := a.newAuthenticator()
	if err != nil {
		return nil, err
	}

	index, err := a.newIndex(run)
	if err != nil {
		return nil, err
	}

	// Without a database, failed logins are still kept in memory for the
	// login throttle.
	var (
		rec      audit.Recorder
		failures audit.FailureSource
	)
	if cfg.DatabaseURL != "" {
		pg, err := a.newAuditRecorder(ctx)
		if err != nil {
			return nil, err
		}
		rec, failures = pg, pg
	} else {
		mem := audit.NewMemory(max(apiCfg.LoginUserWindow, apiCfg.LoginIPWindow))
		rec, failures = mem, mem
		log.Info("db.disabled.audit_memory")
	}

	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if err := metrics.Register(a.registry); err != nil {
			a.close()
			return nil, err
		}
	}

	a.api, err = api.NewHandler(log, apiCfg, api.Deps{
		Sessions:  a.sessions,
		Auth:      auth,
		Host:      host,
		Workspace: ctrl,
		Packages:  index,
		Audit:     rec,
		Failures:  failures,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.scheduler = NewScheduler(log, a.jobs(index)...)
	return a, nil
}

func (a *App) newAuthenticator() (identity.Authenticator, error) {
	if a.cfg.AuthFile == "" {
		a.log.Warn("auth.disabled", "reason", "WEBUI_AUTH_FILE not set")
		return identity.DenyAll{}, nil
	}
	creds, err := identity.NewFileAuthenticator(a.cfg.AuthFile, a.log)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	a.creds = creds
	return creds, nil
}

func (a *App) newIndex(run execute.Runner) (pkgindex.Index, error) {
	switch a.cfg.PkgIndex {
	case "apt":
		a.apt = pkgindex.NewApt(run, a.log, pkgindex.DefaultRefreshTimeout)
		return a.apt, nil
	case "none", "":
		return pkgindex.Empty{}, nil
	default:
		return nil, fmt.Errorf("pkgindex: unknown backend %q", a.cfg.PkgIndex)
	}
}

func (a *App) newAuditRecorder(ctx context.Context) (*audit.PostgresRecorder, error) {
	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	rec, err := audit.NewPostgresRecorder(pool, a.log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := rec.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	a.pool = pool
	a.log.Info("db.enabled.audit_postgres")
	return rec, nil
}

func (a *App) jobs(index pkgindex.Index) []Job {
	timeout := a.sessions.Timeout()
	jobs := []Job{{
		Name: "session.reap",
		Next: fixedOrRandom(a.cfg.ReapInterval, reapMinFactor*timeout, reapMaxFactor*timeout),
		Run: func(context.Context) error {
			n, err := a.sessions.Reap(time.Now())
			a.log.Info("session.reap.done", "removed", n)
			return err
		},
	}}
	if a.apt != nil {
		jobs = append(jobs, Job{
			Name: "pkgindex.refresh",
			Next: fixedOrRandom(a.cfg.IndexInterval, indexRefreshMin, indexRefreshMax),
			Run:  index.Refresh,
		})
	}
	return jobs
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run serves HTTP and runs background work until ctx is done or any part
// fails fatally.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	a.scheduler.Start(gctx)
	defer a.scheduler.Stop()

	if a.apt != nil {
		g.Go(func() error {
			if err := a.apt.Load(gctx); err != nil {
				a.log.Warn("pkgindex.load.fail", "err", err)
			}
			return nil
		})
	}

	if a.creds != nil {
		g.Go(func() error {
			if err := a.creds.Watch(gctx); err != nil {
				a.log.Warn("identity.watch.unavailable", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
