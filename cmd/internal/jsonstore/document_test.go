package jsonstore

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDocument_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")

	d, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open(create): %v", err)
	}
	d.Set("user", "alice")
	d.Set("start", 1700000000.25)
	d.Set("tags", []any{"a", "b"})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d, err = Open(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = d.Close() }()

	if d.Dirty() {
		t.Fatalf("freshly loaded document must not be dirty")
	}
	if got := d.String("user"); got != "alice" {
		t.Fatalf("user=%q want alice", got)
	}
	start, ok := d.Float("start")
	if !ok || start != 1700000000.25 {
		t.Fatalf("start=%v ok=%v", start, ok)
	}
	tags, _ := d.Get("tags")
	if diff := cmp.Diff([]any{"a", "b"}, tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestDocument_UnmodifiedKeepsBytes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")
	original := []byte("{ \"user\" : \"bob\",\n  \"start\": 1 }\n")
	if err := os.WriteFile(path, original, 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	d, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	_ = d.String("user")
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("bytes changed: %q", got)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !fi.ModTime().Equal(old) {
		t.Fatalf("mtime changed: %v want %v", fi.ModTime(), old)
	}
}

func TestDocument_CorruptBecomesEmpty(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{name: "garbage", content: "{not json"},
		{name: "empty", content: ""},
		{name: "array", content: "[1,2,3]"},
		{name: "null", content: "null"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "data.json")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("seed: %v", err)
			}

			d, err := Open(path, false)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !d.Dirty() {
				t.Fatalf("corrupt content must mark the document dirty")
			}
			if _, ok := d.Get("start"); ok {
				t.Fatalf("expected empty object")
			}
			if err := d.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			got, _ := os.ReadFile(path)
			if string(got) != "{}" {
				t.Fatalf("rewritten content=%q want {}", got)
			}
		})
	}
}

func TestDocument_OpenMissingWithoutCreate(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "nope.json"), false)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestDocument_ReloadSeesConcurrentWriter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`{"start":1}`), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reader, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open reader: %v", err)
	}
	defer func() { _ = reader.Close() }()

	done := make(chan error, 1)
	go func() {
		w, err := Open(path, false)
		if err != nil {
			done <- err
			return
		}
		w.Set("start", 2.0)
		done <- w.Close()
	}()

	// The writer's flush needs the exclusive lock, which our shared lock
	// blocks. Upgrading here lets the writer finish first or after us;
	// either way Reload must observe a consistent value.
	if err := reader.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := reader.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	first, _ := reader.Float("start")
	if err := reader.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("writer: %v", err)
	}
	if first != 1 && first != 2 {
		t.Fatalf("unexpected start=%v", first)
	}

	final, err := Open(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = final.Close() }()
	if v, _ := final.Float("start"); v != 2 {
		t.Fatalf("final start=%v want 2", v)
	}
}

func TestDocument_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	d, err := Open(filepath.Join(t.TempDir(), "data.json"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := d.Lock(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Lock after Close: %v", err)
	}
}

func TestDocument_FlushKeepsOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")
	d, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = d.Close() }()

	d.Set("start", 12345.0)
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if d.Dirty() {
		t.Fatalf("Flush must clear dirty")
	}
	got, _ := os.ReadFile(path)
	if string(got) != `{"start":12345}` {
		t.Fatalf("content=%q", got)
	}

	// Shrinking content must truncate the tail.
	d.Set("start", 1.0)
	if err := d.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	got, _ = os.ReadFile(path)
	if string(got) != `{"start":1}` {
		t.Fatalf("content=%q", got)
	}
}
