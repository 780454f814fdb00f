package session

import (
	"path/filepath"
	"time"

	"webui/cmd/internal/jsonstore"
)

// Session is an open handle on one live session. It holds the shared lock on
// the session document until Close, or the exclusive lock after Lock.
//
// A Session is used by a single request and is not safe for concurrent use.
type Session struct {
	// Token is the current token; Refresh replaces it.
	Token string

	store  *Store
	doc    *jsonstore.Document
	start  float64
	locked bool
}

// Dir is the session's storage directory.
func (s *Session) Dir() string {
	return filepath.Join(s.store.cfg.Dir, s.Token)
}

// User returns the authenticated user name.
func (s *Session) User() string {
	return s.doc.String("user")
}

// Expires returns when the session stops being valid.
func (s *Session) Expires() time.Time {
	return s.store.expiry(s.start)
}

// Lock upgrades to the exclusive lock. It fails with ErrSessionClosed if the
// session was rotated or removed while the shared lock was being converted.
func (s *Session) Lock() error {
	if s.locked {
		return nil
	}
	if err := s.doc.Lock(); err != nil {
		return err
	}
	if err := s.doc.Reload(); err != nil {
		return err
	}
	if cur, ok := s.doc.Float("start"); !ok || cur != s.start || !stillAt(s.doc) {
		return ErrSessionClosed
	}
	s.locked = true
	return nil
}

// Close releases the session document and its lock. Safe to call twice.
func (s *Session) Close() error {
	return s.doc.Close()
}
