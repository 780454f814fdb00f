//go:build !linux

package session

func renameNoReplace(oldpath, newpath string) error {
	return renameChecked(oldpath, newpath)
}
