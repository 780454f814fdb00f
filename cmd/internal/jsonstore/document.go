// Package jsonstore persists a single JSON object in a file guarded by
// advisory locks.
//
// A Document is opened under a shared lock. Writers upgrade to an exclusive
// lock with Lock and then call Reload to observe whatever a concurrent writer
// committed while the lock was being converted (flock conversion is not
// atomic). Pending changes are written by Flush or Close.
//
// Corrupt or unreadable content is not fatal: it is coerced to an empty
// object and marked dirty so the next Close rewrites it.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when a Document is used after Close.
var ErrClosed = errors.New("jsonstore: document closed")

// Document is an open, locked JSON object file.
// It is not safe for concurrent use by multiple goroutines.
type Document struct {
	path  string
	f     *os.File
	data  map[string]any
	dirty bool
}

// Open opens path, takes a shared lock and loads its content.
// With create set, a missing file is created empty (and thus dirty).
func Open(path string, create bool) (*Document, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, err
	}

	d := &Document{path: path, f: f}
	if err := d.flock(unix.LOCK_SH); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := d.Reload(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return d, nil
}

// Path returns the file path the document was opened with.
func (d *Document) Path() string { return d.path }

// Moved records that the file was renamed to path while open.
func (d *Document) Moved(path string) { d.path = path }

// Stat returns the FileInfo of the open handle. Comparing it with a fresh
// os.Stat of Path tells whether the path still names the same file.
func (d *Document) Stat() (fs.FileInfo, error) {
	if d.f == nil {
		return nil, ErrClosed
	}
	return d.f.Stat()
}

// Lock upgrades to an exclusive lock, blocking until it is granted.
func (d *Document) Lock() error {
	return d.flock(unix.LOCK_EX)
}

// Reload re-reads the file. Unparseable or non-object content yields an
// empty, dirty document.
func (d *Document) Reload() error {
	if d.f == nil {
		return ErrClosed
	}
	if _, err := d.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	b, err := io.ReadAll(d.f)
	if err != nil {
		return err
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		d.data = map[string]any{}
		d.dirty = true
		return nil
	}
	d.data = m
	d.dirty = false
	return nil
}

// Get returns the raw value stored under key.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.data[key]
	return v, ok
}

// String returns key as a string, or "" when missing or not a string.
func (d *Document) String(key string) string {
	s, _ := d.data[key].(string)
	return s
}

// Float returns key as a number. JSON numbers decode as float64.
func (d *Document) Float(key string) (float64, bool) {
	f, ok := d.data[key].(float64)
	return f, ok
}

// Set stores value under key and marks the document dirty.
func (d *Document) Set(key string, value any) {
	if d.data == nil {
		d.data = map[string]any{}
	}
	d.data[key] = value
	d.dirty = true
}

// Dirty reports whether Close will rewrite the file.
func (d *Document) Dirty() bool { return d.dirty }

// Close flushes pending changes under an exclusive lock and releases the
// file. The handle is released even when the flush fails.
func (d *Document) Close() (err error) {
	if d.f == nil {
		return nil
	}
	defer func() {
		if cerr := d.f.Close(); err == nil {
			err = cerr
		}
		d.f = nil
		d.data = nil
		d.dirty = false
	}()

	return d.Flush()
}

// Flush rewrites the file under an exclusive lock if there are pending
// changes, keeping the document open. The lock stays exclusive afterwards.
func (d *Document) Flush() error {
	if d.f == nil {
		return ErrClosed
	}
	if !d.dirty {
		return nil
	}
	b, err := json.Marshal(d.data)
	if err != nil {
		return fmt.Errorf("jsonstore: encode %s: %w", d.path, err)
	}
	if err := d.flock(unix.LOCK_EX); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(b, 0); err != nil {
		return err
	}
	if err := d.f.Truncate(int64(len(b))); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

func (d *Document) flock(how int) error {
	if d.f == nil {
		return ErrClosed
	}
	for {
		err := unix.Flock(int(d.f.Fd()), how)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("jsonstore: flock %s: %w", d.path, err)
		}
		return nil
	}
}
