package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"webui/cmd/security/password"
)

func cheapArgon(t *testing.T) password.Config {
	t.Helper()
	t.Setenv(password.EnvArgonMemory, "8192")
	t.Setenv(password.EnvArgonTime, "1")
	t.Setenv(password.EnvArgonParallel, "1")
	t.Setenv(password.EnvMinLen, "8")
	cfg, err := password.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	return cfg
}

func writeCreds(t *testing.T, path string, lines ...string) {
	t.Helper()
	var data []byte
	for _, l := range lines {
		data = append(data, l+"\n"...)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func line(t *testing.T, cfg password.Config, user, pass string) string {
	t.Helper()
	l, err := CredentialLine(cfg, user, pass)
	if err != nil {
		t.Fatalf("CredentialLine: %v", err)
	}
	return l
}

func TestFileAuthenticator(t *testing.T) {
	cfg := cheapArgon(t)
	path := filepath.Join(t.TempDir(), "credentials")
	writeCreds(t, path,
		"# flavor editors",
		"",
		line(t, cfg, "alice", "tulip-secret-pw"),
		line(t, cfg, "bob", "harbor-secret-pw1"),
	)

	a, err := NewFileAuthenticator(path, nil)
	if err != nil {
		t.Fatalf("NewFileAuthenticator: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		user, pass string
		want       bool
	}{
		{"alice", "tulip-secret-pw", true},
		{"bob", "harbor-secret-pw1", true},
		{"alice", "harbor-secret-pw1", false},
		{"carol", "tulip-secret-pw", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := a.Authenticate(ctx, tc.user, tc.pass); got != tc.want {
			t.Fatalf("Authenticate(%q,%q)=%v want %v", tc.user, tc.pass, got, tc.want)
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if a.Authenticate(cctx, "alice", "tulip-secret-pw") {
		t.Fatalf("canceled context must not authenticate")
	}
}

func TestFileAuthenticator_LoadKeepsOldOnError(t *testing.T) {
	cfg := cheapArgon(t)
	path := filepath.Join(t.TempDir(), "credentials")
	writeCreds(t, path, line(t, cfg, "alice", "tulip-secret-pw"))

	a, err := NewFileAuthenticator(path, nil)
	if err != nil {
		t.Fatalf("NewFileAuthenticator: %v", err)
	}

	writeCreds(t, path, "alice-without-hash")
	if err := a.Load(); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !a.Authenticate(context.Background(), "alice", "tulip-secret-pw") {
		t.Fatalf("previous credentials lost after failed reload")
	}
}

func TestFileAuthenticator_Watch(t *testing.T) {
	cfg := cheapArgon(t)
	path := filepath.Join(t.TempDir(), "credentials")
	writeCreds(t, path, line(t, cfg, "alice", "tulip-secret-pw"))

	a, err := NewFileAuthenticator(path, nil)
	if err != nil {
		t.Fatalf("NewFileAuthenticator: %v", err)
	}
	w, err := a.watcher()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.watchLoop(ctx, w)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	writeCreds(t, path, line(t, cfg, "bob", "harbor-secret-pw1"))

	deadline := time.Now().Add(5 * time.Second)
	for !a.Authenticate(context.Background(), "bob", "harbor-secret-pw1") {
		if time.Now().After(deadline) {
			t.Fatalf("credentials not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if a.Authenticate(context.Background(), "alice", "tulip-secret-pw") {
		t.Fatalf("removed user still authenticates")
	}
}

func TestParseCredentials(t *testing.T) {
	bad := []string{
		"alice",
		"alice:plaintext",
		":$argon2id$v=19$m=8,t=1,p=1$c2FsdA$a2V5",
		"al ice:$argon2id$v=19$m=8,t=1,p=1$c2FsdA$a2V5",
		"alice:$argon2id$x\nalice:$argon2id$y",
	}
	for _, in := range bad {
		if _, err := ParseCredentials([]byte(in)); !IsInvalidInput(err) {
			t.Fatalf("ParseCredentials(%q): expected invalid input, got %v", in, err)
		}
	}

	_, err := ParseCredentials([]byte("# header\nalice:plaintext\n"))
	var ce *CredentialError
	if !errors.As(err, &ce) || ce.Line != 2 {
		t.Fatalf("expected CredentialError on line 2, got %v", err)
	}

	got, err := ParseCredentials([]byte("  # comment\n\nalice:$argon2id$x\n"))
	if err != nil {
		t.Fatalf("ParseCredentials: %v", err)
	}
	if len(got) != 1 || got["alice"] != "$argon2id$x" {
		t.Fatalf("got %v", got)
	}
}

func TestDenyAll(t *testing.T) {
	var a Authenticator = DenyAll{}
	if a.Authenticate(context.Background(), "alice", "anything") {
		t.Fatalf("DenyAll accepted a login")
	}
}

func TestValidUsername(t *testing.T) {
	for s, want := range map[string]bool{
		"alice":        true,
		"a.b-c_d@corp": true,
		"":             false,
		"-alice":       false,
		"alice:x":      false,
		"with space":   false,
		"über":         false,
	} {
		if got := ValidUsername(s); got != want {
			t.Fatalf("ValidUsername(%q)=%v want %v", s, got, want)
		}
	}
}
