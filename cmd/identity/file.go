package identity

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"webui/cmd/security/password"
)

// FileAuthenticator checks passwords against a credentials file of
// "user:<argon2id PHC>" lines. Blank lines and lines starting with '#' are
// ignored.
type FileAuthenticator struct {
	path string
	cfg  password.Config
	log  *slog.Logger

	// dummy is verified for unknown users so both paths cost the same.
	dummy string

	mu    sync.RWMutex
	creds map[string]string
}

// NewFileAuthenticator loads path. Hash parameters and verification bounds
// come from the WEBUI_ARGON2_* environment.
func NewFileAuthenticator(path string, log *slog.Logger) (*FileAuthenticator, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	cfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	dummy, err := cfg.Hash(rand.Text())
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	a := &FileAuthenticator{path: abs, cfg: cfg, log: log, dummy: dummy}
	if err := a.Load(); err != nil {
		return nil, err
	}
	return a, nil
}

// Load re-reads the credentials file. On error the previous credentials stay
// in effect.
func (a *FileAuthenticator) Load() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return err
	}
	creds, err := ParseCredentials(data)
	if err != nil {
		return err
	}
	for user, hash := range creds {
		if a.cfg.NeedsRehash(hash) {
			a.log.Debug("identity.credentials.weak_params", "user", user)
		}
	}

	a.mu.Lock()
	a.creds = creds
	a.mu.Unlock()

	a.log.Info("identity.credentials.load", "path", a.path, "users", len(creds))
	return nil
}

// Authenticate implements Authenticator.
func (a *FileAuthenticator) Authenticate(ctx context.Context, user, pass string) bool {
	if ctx.Err() != nil {
		return false
	}
	a.mu.RLock()
	hash, ok := a.creds[user]
	a.mu.RUnlock()

	if !ok {
		_, _ = a.cfg.Verify(a.dummy, pass)
		return false
	}
	match, err := a.cfg.Verify(hash, pass)
	if err != nil {
		a.log.Warn("identity.verify.fail", "user", user, "err", err)
		return false
	}
	return match
}

// Watch reloads the credentials file whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are noticed.
func (a *FileAuthenticator) Watch(ctx context.Context) error {
	w, err := a.watcher()
	if err != nil {
		return err
	}
	a.watchLoop(ctx, w)
	return nil
}

func (a *FileAuthenticator) watcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(a.path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (a *FileAuthenticator) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer func() { _ = w.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != a.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := a.Load(); err != nil {
				a.log.Warn("identity.credentials.reload.fail", "path", a.path, "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			a.log.Debug("identity.watch.error", "err", err)
		}
	}
}

// ParseCredentials parses credentials file content into user -> PHC hash.
func ParseCredentials(data []byte) (map[string]string, error) {
	creds := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		switch {
		case !ok:
			return nil, &CredentialError{Line: n, Reason: "missing ':'"}
		case !ValidUsername(user):
			return nil, &CredentialError{Line: n, Reason: "bad user name"}
		case !strings.HasPrefix(hash, "$argon2id$"):
			return nil, &CredentialError{Line: n, Reason: "not an argon2id hash"}
		}
		if _, dup := creds[user]; dup {
			return nil, &CredentialError{Line: n, Reason: "duplicate user " + user}
		}
		creds[user] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return creds, nil
}

// CredentialLine returns the credentials file line for user. The password
// must pass the policy and must not contain the user name.
func CredentialLine(cfg password.Config, user, pass string) (string, error) {
	if !ValidUsername(user) {
		return "", &CredentialError{Reason: "bad user name"}
	}
	if err := cfg.ValidateFor(user, pass); err != nil {
		return "", err
	}
	hash, err := cfg.Hash(pass)
	if err != nil {
		return "", err
	}
	return user + ":" + hash, nil
}
