// Package gittest provides helpers for tests that drive a real git binary
// against a local bare remote.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// MinMajor and MinMinor are the oldest git supporting ls-files --format.
const (
	MinMajor = 2
	MinMinor = 38
)

// Require skips t unless a recent enough git is installed, and isolates git
// from the user's global and system configuration.
func Require(t testing.TB) {
	t.Helper()

	out, err := exec.Command("git", "version").Output()
	if err != nil {
		t.Skip("git not available")
	}
	major, minor, ok := parseVersion(string(out))
	if !ok || major < MinMajor || (major == MinMajor && minor < MinMinor) {
		t.Skipf("git too old: %s", strings.TrimSpace(string(out)))
	}

	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_TERMINAL_PROMPT", "0")
}

func parseVersion(s string) (major, minor int, ok bool) {
	f := strings.Fields(s)
	if len(f) < 3 {
		return 0, 0, false
	}
	parts := strings.SplitN(f[2], ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	var err error
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, false
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// Git runs git in dir and fails t on error. It returns trimmed stdout.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, stderr)
	}
	return strings.TrimSpace(string(out))
}

// NewRemote creates an empty bare repository under root/<name>.git and
// returns its directory.
func NewRemote(t testing.TB, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(name)+".git")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir remote: %v", err)
	}
	Git(t, dir, "init", "-q", "--bare", "-b", "main")
	return dir
}

// Seed commits files (path -> content) to the bare remote at dir through a
// scratch clone.
func Seed(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	work := t.TempDir()
	Git(t, work, "clone", "-q", "file://"+dir, "w")
	w := filepath.Join(work, "w")
	for p, content := range files {
		full := filepath.Join(w, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	Git(t, w, "add", "-A")
	Git(t, w, "commit", "-q", "-m", "seed")
	Git(t, w, "push", "-q", "origin", "HEAD:main")
}

// CommitCount returns the number of commits reachable from any ref of the
// repository at dir, zero when it has none.
func CommitCount(t testing.TB, dir string) int {
	t.Helper()
	cmd := exec.Command("git", "rev-list", "--count", "--all")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(string(out)))
	return n
}
