package audit

import (
	"context"
	"net"
	"slices"
	"sync"
	"time"
)

// Memory keeps failed logins in process so logins can be throttled without
// a database. Every other event is discarded.
type Memory struct {
	keep time.Duration
	now  func() time.Time

	mu       sync.Mutex
	failures []failure // oldest first
}

type failure struct {
	ip   string
	user string
	at   time.Time
}

// NewMemory returns a Memory that forgets failures older than keep.
func NewMemory(keep time.Duration) *Memory {
	if keep <= 0 {
		keep = 2 * time.Hour
	}
	return &Memory{keep: keep, now: time.Now}
}

// Record implements Recorder.
func (m *Memory) Record(_ context.Context, ev Event) {
	if ev.Action != ActionLoginFailed {
		return
	}
	f := failure{user: ev.User, at: ev.At}
	if ev.IP != nil {
		f.ip = ev.IP.String()
	}
	if f.at.IsZero() {
		f.at = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cut := m.now().Add(-m.keep)
	i := 0
	for i < len(m.failures) && m.failures[i].at.Before(cut) {
		i++
	}
	m.failures = append(m.failures[i:], f)
}

// FailuresByIP implements FailureSource.
func (m *Memory) FailuresByIP(_ context.Context, ip net.IP, since time.Time, limit int) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	key := ip.String()
	return m.collect(since, limit, func(f failure) bool { return f.ip == key }), nil
}

// FailuresByUser implements FailureSource.
func (m *Memory) FailuresByUser(_ context.Context, user string, since time.Time, limit int) ([]time.Time, error) {
	if user == "" {
		return nil, nil
	}
	return m.collect(since, limit, func(f failure) bool { return f.user == user }), nil
}

func (m *Memory) collect(since time.Time, limit int, match func(failure) bool) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []time.Time
	for _, f := range slices.Backward(m.failures) {
		if limit > 0 && len(out) == limit {
			break
		}
		if f.at.Before(since) {
			continue
		}
		if match(f) {
			out = append(out, f.at)
		}
	}
	return out
}
