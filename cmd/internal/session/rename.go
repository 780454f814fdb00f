package session

import (
	"errors"
	"io/fs"
	"os"
)

// renameChecked refuses an existing newpath, then renames. The check and the
// rename are not atomic; it only serves filesystems lacking a no-replace
// rename, where a fresh random token makes a collision negligible.
func renameChecked(oldpath, newpath string) error {
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(oldpath, newpath)
}
