package audit

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"webui/cmd/identity/ids"
)

// testPool connects to WEBUI_DATABASE_URL, skipping when it is unset or
// unreachable. The pool is closed by t.Cleanup.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("WEBUI_DATABASE_URL"))
	if dsn == "" {
		t.Skip("WEBUI_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("postgres unreachable: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRecorder_Record(t *testing.T) {
	pool := testPool(t)

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "webui_audit_it_" + strings.ToLower(id)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	rec, err := NewPostgresRecorder(pool, nil, WithSchema(schema))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	if err := rec.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := rec.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema (again): %v", err)
	}

	rec.Record(ctx, Event{
		Action: ActionPull,
		User:   "alice",
		Repo:   "flavor/x",
		IP:     net.ParseIP("198.51.100.1"),
		Meta:   map[string]any{"flags": "c"},
	})
	rec.Record(ctx, Event{Action: ""})

	var (
		n     int
		user  string
		flags string
	)
	err = pool.QueryRow(ctx,
		`SELECT count(*) OVER (), username, meta->>'flags' FROM `+rec.table()+` WHERE action = $1`,
		ActionPull,
	).Scan(&n, &user, &flags)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 || user != "alice" || flags != "c" {
		t.Fatalf("n=%d user=%q flags=%q", n, user, flags)
	}

	var total int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM `+rec.table()).Scan(&total); err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("total=%d want 1", total)
	}
}

func TestPostgresRecorder_Failures(t *testing.T) {
	pool := testPool(t)

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "webui_audit_it_" + strings.ToLower(id)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	rec, err := NewPostgresRecorder(pool, nil, WithSchema(schema))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	if err := rec.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	ip := net.ParseIP("203.0.113.9")
	for i := range 3 {
		rec.Record(ctx, Event{Action: ActionLoginFailed, User: "alice", IP: ip, At: now.Add(-time.Duration(i) * time.Minute)})
	}
	rec.Record(ctx, Event{Action: ActionLoginFailed, User: "bob", At: now})
	rec.Record(ctx, Event{Action: ActionLogin, User: "alice", IP: ip, At: now})

	byIP, err := rec.FailuresByIP(ctx, ip, now.Add(-90*time.Second), 10)
	if err != nil {
		t.Fatalf("FailuresByIP: %v", err)
	}
	if len(byIP) != 2 || !byIP[0].Equal(now) {
		t.Fatalf("byIP=%v", byIP)
	}

	byUser, err := rec.FailuresByUser(ctx, "alice", now.Add(-time.Hour), 1)
	if err != nil {
		t.Fatalf("FailuresByUser: %v", err)
	}
	if len(byUser) != 1 || !byUser[0].Equal(now) {
		t.Fatalf("byUser=%v", byUser)
	}
}
