// Package audit records security-relevant events: logins, logouts, token
// rotations, pulls and publishes.
package audit

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"
)

// Actions.
const (
	ActionLogin         = "session.login"
	ActionLoginFailed   = "session.login.failed"
	ActionLoginThrottle = "session.login.throttled"
	ActionLogout        = "session.logout"
	ActionRefresh       = "session.refresh"
	ActionPull          = "workspace.pull"
	ActionPublish       = "workspace.publish"
	ActionPublishDenied = "workspace.publish.denied"
)

// Event is one audit record.
type Event struct {
	Action    string
	User      string
	Repo      string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Recorder stores events. Record never fails the caller's request; storage
// errors are logged by the implementation.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// FailureSource lists the times of recent failed logins, newest first, at
// most limit of them.
type FailureSource interface {
	FailuresByIP(ctx context.Context, ip net.IP, since time.Time, limit int) ([]time.Time, error)
	FailuresByUser(ctx context.Context, user string, since time.Time, limit int) ([]time.Time, error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// row holds the column values for ev; empty strings become NULL.
type row struct {
	action    string
	user      any
	repo      any
	ip        any
	userAgent any
	meta      any
	at        time.Time
}

func toRow(ev Event, now time.Time) (row, bool) {
	r := row{action: strings.TrimSpace(ev.Action), at: ev.At}
	if r.action == "" {
		return row{}, false
	}
	if r.at.IsZero() {
		r.at = now
	}
	r.user = nullIfEmpty(ev.User)
	r.repo = nullIfEmpty(ev.Repo)
	r.userAgent = nullIfEmpty(ev.UserAgent)
	if ev.IP != nil {
		r.ip = ev.IP.String()
	}
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			r.meta = string(b)
		}
	}
	return r, true
}

func nullIfEmpty(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
