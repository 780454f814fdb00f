package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("WEBUI_HTTP_ADDR", "")
	t.Setenv("WEBUI_PKGINDEX", "")
	t.Setenv("WEBUI_REAP_INTERVAL", "")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "localhost:8080" || cfg.PkgIndex != "apt" || cfg.ReapInterval != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CommitName != "webui" || cfg.CommitEmail != "webui@cluster.local" {
		t.Fatalf("unexpected committer: %q <%q>", cfg.CommitName, cfg.CommitEmail)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("WEBUI_HTTP_ADDR", ":9000")
	t.Setenv("WEBUI_LOG_FORMAT", "pretty")
	t.Setenv("WEBUI_REAP_INTERVAL", "90s")
	t.Setenv("WEBUI_DB_MAX_CONNS", "-1")

	cfg := LoadConfig()
	if cfg.HTTPAddr != ":9000" || cfg.LogFormat != "pretty" || cfg.ReapInterval != 90*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.DBMaxConns != 4 {
		t.Fatalf("negative conns must fall back to default, got %d", cfg.DBMaxConns)
	}
	if diff := cmp.Diff([]string{"WEBUI_DB_MAX_CONNS"}, cfg.InvalidEnv); diff != "" {
		t.Fatalf("invalid keys (-want +got):\n%s", diff)
	}
}

func TestEnvReader_Duration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		invalid bool
	}{
		{"", time.Minute, false},
		{"90", 90 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"0", time.Minute, false},
		{"0s", time.Minute, false},
		{"-5s", time.Minute, true},
		{"soon", time.Minute, true},
	}
	for _, tc := range cases {
		t.Setenv("WEBUI_TEST_DURATION", tc.in)
		e := &envReader{}
		if got := e.Duration("WEBUI_TEST_DURATION", time.Minute); got != tc.want {
			t.Fatalf("Duration(%q)=%v want %v", tc.in, got, tc.want)
		}
		if (len(e.invalid) == 1) != tc.invalid {
			t.Fatalf("Duration(%q): invalid=%v", tc.in, e.invalid)
		}
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		require bool
		key     string
		wantErr bool
	}{
		{"not required", false, "", false},
		{"missing", true, "", true},
		{"too short", true, "short", true},
		{"ok", true, strings.Repeat("k", 32), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("WEBUI_TOKEN_HMAC_KEY", tc.key)
			err := ValidateSecurityConfig(Config{RequireTokenHMAC: tc.require})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestScheduler(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(nil, Job{
		Name: "tick",
		Next: func() time.Duration { return time.Millisecond },
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("job ran %d times", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("job ran after Stop")
	}
	s.Stop()
}

func TestRandomPeriod(t *testing.T) {
	next := randomPeriod(10*time.Minute, 100*time.Minute)
	for i := 0; i < 1000; i++ {
		d := next()
		if d < 10*time.Minute || d >= 100*time.Minute {
			t.Fatalf("period %v outside [10m, 100m)", d)
		}
	}
	if got := fixedOrRandom(time.Second, time.Hour, 2*time.Hour)(); got != time.Second {
		t.Fatalf("fixed period ignored: %v", got)
	}
	if got := randomPeriod(time.Hour, time.Hour)(); got != time.Hour {
		t.Fatalf("empty window: %v", got)
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("WEBUI_SESSION_DIR", filepath.Join(t.TempDir(), "sessions"))
	t.Setenv("WEBUI_PKGINDEX", "none")
	t.Setenv("WEBUI_AUTH_FILE", "")
	t.Setenv("WEBUI_DATABASE_URL", "")
	t.Setenv("WEBUI_SECURE_COOKIE", "false")

	cfg := LoadConfig()
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestApp_Handler(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	cases := []struct {
		method, target string
		status         int
		contains       string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, "ok"},
		{http.MethodGet, "/readyz", http.StatusOK, "ready"},
		{http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
		{http.MethodGet, "/api/unknown", http.StatusNotFound, "not_found"},
		{http.MethodGet, "/api/search?0&10&vim", http.StatusOK, "[]"},
		{http.MethodGet, "/api/repo", http.StatusForbidden, "session_closed"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status || !strings.Contains(rr.Body.String(), tc.contains) {
			t.Fatalf("%s %s: status=%d body=%q", tc.method, tc.target, rr.Code, rr.Body.String())
		}
		if len(rr.Header().Get(requestIDHeader)) != 26 {
			t.Fatalf("%s: missing request id", tc.target)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: missing security headers", tc.target)
		}
	}

	// Without a credentials file every login is refused.
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"user":"alice","pass":"x"}`))
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden || !strings.Contains(rr.Body.String(), "auth_failed") {
		t.Fatalf("login: status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestApp_UnknownIndexBackend(t *testing.T) {
	t.Setenv("WEBUI_SESSION_DIR", filepath.Join(t.TempDir(), "sessions"))
	t.Setenv("WEBUI_AUTH_FILE", "")
	t.Setenv("WEBUI_DATABASE_URL", "")
	cfg := LoadConfig()
	cfg.PkgIndex = "yum"
	if _, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("expected error for unknown index backend")
	}
}
