package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"webui/cmd/identity/ids"
)

// ErrInvalidInput is returned for a nil pool or a blank schema.
var ErrInvalidInput = errors.New("audit: invalid input")

// PostgresRecorder appends events to <schema>.audit_log.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	schema string
	log    *slog.Logger
	now    func() time.Time
}

// Option configures PostgresRecorder.
type Option func(*PostgresRecorder) error

// WithSchema sets the schema holding audit_log (default "webui").
func WithSchema(schema string) Option {
	return func(r *PostgresRecorder) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		r.schema = schema
		return nil
	}
}

// NewPostgresRecorder constructs a recorder on pool.
func NewPostgresRecorder(pool *pgxpool.Pool, log *slog.Logger, opts ...Option) (*PostgresRecorder, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &PostgresRecorder{pool: pool, schema: "webui", log: log, now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, ErrInvalidInput
	}
	return r, nil
}

func (r *PostgresRecorder) table() string {
	return pgx.Identifier{r.schema, "audit_log"}.Sanitize()
}

// EnsureSchema creates the schema and table if they do not exist.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  action TEXT NOT NULL,
  username TEXT NULL,
  repo TEXT NULL,
  ip INET NULL,
  user_agent TEXT NULL,
  meta JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
);`, pgx.Identifier{r.schema}.Sanitize(), r.table())

	_, err := r.pool.Exec(ctx, stmt)
	return err
}

// Record implements Recorder.
func (r *PostgresRecorder) Record(ctx context.Context, ev Event) {
	row, ok := toRow(ev, r.now().UTC())
	if !ok {
		return
	}
	id, err := ids.NewULID(row.at)
	if err != nil {
		r.log.Error("audit.id.fail", "err", err)
		return
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO `+r.table()+` (
			id, action, username, repo, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`, id, row.action, row.user, row.repo, row.ip, row.userAgent, row.meta, row.at)
	if err != nil {
		r.log.Error("audit.insert.fail", "err", err, "action", row.action)
	}
}

// FailuresByIP implements FailureSource.
func (r *PostgresRecorder) FailuresByIP(ctx context.Context, ip net.IP, since time.Time, limit int) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	return r.failures(ctx, "ip = $2::inet", ip.String(), since, limit)
}

// FailuresByUser implements FailureSource.
func (r *PostgresRecorder) FailuresByUser(ctx context.Context, user string, since time.Time, limit int) ([]time.Time, error) {
	if strings.TrimSpace(user) == "" {
		return nil, nil
	}
	return r.failures(ctx, "username = $2", user, since, limit)
}

func (r *PostgresRecorder) failures(ctx context.Context, cond string, key any, since time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT created_at
		FROM `+r.table()+`
		WHERE action = $1
		  AND `+cond+`
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT $4
	`, ActionLoginFailed, key, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}
