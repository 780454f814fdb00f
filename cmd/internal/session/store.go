package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"webui/cmd/internal/jsonstore"
	"webui/cmd/internal/metrics"
	"webui/cmd/security/token"
)

const (
	dataFile = "data.json"

	// stagingPrefix marks a session directory still being populated by
	// Create. Tokens never start with '.', so staging names cannot collide.
	stagingPrefix = ".new-"
)

// Store issues, validates, rotates and reaps sessions under Config.Dir.
type Store struct {
	cfg Config
	log *slog.Logger
}

// Issued is the client-visible result of a login or a rotation.
type Issued struct {
	Token   string
	User    string
	Expires time.Time
}

// NewStore constructs a Store, creating the session root if needed.
func NewStore(cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.Dir == "" || cfg.Timeout <= 0 || cfg.TokenBytes <= 0 {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create root: %w", err)
	}
	return &Store{cfg: cfg, log: log}, nil
}

// Timeout returns the configured session lifetime.
func (s *Store) Timeout() time.Duration { return s.cfg.Timeout }

// Create starts a new session for user.
//
// The directory is populated under a staging name and renamed into place, so
// a concurrent Reap never sees a half-created session.
func (s *Store) Create(now time.Time, user string) (Issued, error) {
	tok, err := newToken(s.cfg.TokenBytes)
	if err != nil {
		return Issued{}, err
	}

	staging := filepath.Join(s.cfg.Dir, stagingPrefix+tok)
	if err := os.Mkdir(staging, 0o700); err != nil {
		return Issued{}, fmt.Errorf("session: create: %w", err)
	}

	start := unixSeconds(now)
	if err := s.initDocument(staging, user, start); err != nil {
		_ = os.RemoveAll(staging)
		return Issued{}, err
	}
	if err := renameNoReplace(staging, filepath.Join(s.cfg.Dir, tok)); err != nil {
		_ = os.RemoveAll(staging)
		return Issued{}, fmt.Errorf("session: create: %w", err)
	}

	metrics.SessionEvents.WithLabelValues("created").Inc()
	s.log.Info("session.create", "user", user, "sid", token.Fingerprint(tok))

	return Issued{Token: tok, User: user, Expires: s.expiry(start)}, nil
}

func (s *Store) initDocument(dir, user string, start float64) error {
	doc, err := jsonstore.Open(filepath.Join(dir, dataFile), true)
	if err != nil {
		return err
	}
	doc.Set("user", user)
	doc.Set("start", start)
	return doc.Close()
}

// Open validates tok and returns a handle holding the session's shared lock.
//
// An expired session, or one whose document has no start, is deleted as a
// side effect. Every failure is ErrSessionClosed.
func (s *Store) Open(now time.Time, tok string) (*Session, error) {
	if !ValidToken(tok) {
		return nil, ErrSessionClosed
	}

	dir := filepath.Join(s.cfg.Dir, tok)
	doc, err := jsonstore.Open(filepath.Join(dir, dataFile), false)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("session.open.fail", "sid", token.Fingerprint(tok), "err", err)
		}
		return nil, ErrSessionClosed
	}

	// Rotated or removed while we waited for the shared lock.
	if !stillAt(doc) {
		_ = doc.Close()
		return nil, ErrSessionClosed
	}

	start, ok := doc.Float("start")
	if !ok || s.expired(start, now) {
		_ = os.RemoveAll(dir)
		_ = doc.Close()
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		s.log.Info("session.expired", "sid", token.Fingerprint(tok))
		return nil, ErrSessionClosed
	}

	return &Session{Token: tok, store: s, doc: doc, start: start}, nil
}

// Refresh rotates sess to a freshly generated token.
//
// The handle is upgraded to the exclusive lock and reloaded. If start moved
// in the meantime another request already rotated this token, and this one
// is a replay. On success sess carries the new token and keeps the lock.
func (s *Store) Refresh(now time.Time, sess *Session) (Issued, error) {
	start := sess.start

	if err := sess.doc.Lock(); err != nil {
		return Issued{}, err
	}
	if err := sess.doc.Reload(); err != nil {
		return Issued{}, err
	}
	if cur, ok := sess.doc.Float("start"); !ok || cur != start {
		metrics.SessionEvents.WithLabelValues("replay").Inc()
		s.log.Warn("session.refresh.replay", "sid", token.Fingerprint(sess.Token))
		return Issued{}, ErrSessionClosed
	}
	if !stillAt(sess.doc) {
		return Issued{}, ErrSessionClosed
	}

	tok, err := newToken(s.cfg.TokenBytes)
	if err != nil {
		return Issued{}, err
	}

	// One rename(2) moves the whole directory; the new name is never
	// visible before it holds the session.
	newDir := filepath.Join(s.cfg.Dir, tok)
	if err := renameNoReplace(sess.Dir(), newDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Issued{}, ErrSessionClosed
		}
		return Issued{}, fmt.Errorf("session: rotate: %w", err)
	}

	next := unixSeconds(now)
	if next <= start {
		next = math.Nextafter(start, math.Inf(1))
	}

	oldTok := sess.Token
	sess.Token = tok
	sess.start = next
	sess.locked = true
	sess.doc.Moved(filepath.Join(newDir, dataFile))
	sess.doc.Set("start", next)
	if err := sess.doc.Flush(); err != nil {
		return Issued{}, err
	}

	metrics.SessionEvents.WithLabelValues("rotated").Inc()
	s.log.Info("session.refresh", "user", sess.User(),
		"sid_old", token.Fingerprint(oldTok), "sid", token.Fingerprint(tok))

	return Issued{Token: tok, User: sess.User(), Expires: s.expiry(next)}, nil
}

// Logout deletes the session. It fails with ErrSessionClosed when sess was
// rotated or removed since it was opened.
func (s *Store) Logout(sess *Session) error {
	if err := sess.Lock(); err != nil {
		return err
	}
	if err := os.RemoveAll(sess.Dir()); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	metrics.SessionEvents.WithLabelValues("logout").Inc()
	s.log.Info("session.logout", "user", sess.User(), "sid", token.Fingerprint(sess.Token))
	return nil
}

// Reap deletes every session that has expired at now and returns how many
// directories were removed. Entries whose document cannot be opened are
// removed unconditionally; abandoned staging directories once they are older
// than the timeout.
func (s *Store) Reap(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(s.cfg.Dir, name)

		if strings.HasPrefix(name, stagingPrefix) {
			if fi, err := e.Info(); err == nil && fi.ModTime().Add(s.cfg.Timeout).Before(now) {
				if os.RemoveAll(path) == nil {
					removed++
				}
			}
			continue
		}

		if s.reapOne(now, path) {
			removed++
		}
	}

	if removed > 0 {
		metrics.SessionEvents.WithLabelValues("reaped").Add(float64(removed))
	}
	s.log.Info("session.reap.done", "removed", removed, "scanned", len(entries))
	return removed, nil
}

func (s *Store) reapOne(now time.Time, path string) bool {
	doc, err := jsonstore.Open(filepath.Join(path, dataFile), false)
	if err != nil {
		if _, serr := os.Lstat(path); errors.Is(serr, fs.ErrNotExist) {
			// Rotated or logged out since ReadDir.
			return false
		}
		s.log.Warn("session.reap.unreadable", "path", path, "err", err)
		return os.RemoveAll(path) == nil
	}
	defer func() { _ = doc.Close() }()

	if err := doc.Lock(); err != nil {
		return false
	}
	if err := doc.Reload(); err != nil {
		return false
	}
	if !stillAt(doc) {
		return false
	}

	start, ok := doc.Float("start")
	if ok && !s.expired(start, now) {
		return false
	}
	return os.RemoveAll(path) == nil
}

func (s *Store) expired(start float64, now time.Time) bool {
	return start+s.cfg.Timeout.Seconds() < unixSeconds(now)
}

func (s *Store) expiry(start float64) time.Time {
	return FromUnixSeconds(start).Add(s.cfg.Timeout)
}

// stillAt reports whether the document's path still names the open file.
func stillAt(doc *jsonstore.Document) bool {
	held, err := doc.Stat()
	if err != nil {
		return false
	}
	cur, err := os.Stat(doc.Path())
	if err != nil {
		return false
	}
	return os.SameFile(held, cur)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnixSeconds converts fractional Unix seconds, as persisted in the
// session document, back to a time.
func FromUnixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// UnixSeconds converts t to fractional Unix seconds.
func UnixSeconds(t time.Time) float64 { return unixSeconds(t) }
