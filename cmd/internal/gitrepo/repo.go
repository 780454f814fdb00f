// Package gitrepo drives one local sparse, shallow, blobless git clone.
//
// Only the repository root and the src/ subtree are ever materialized.
// Commands run through an execute.Runner; file writes go through an os.Root
// so a client-supplied path cannot leave the clone.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"webui/cmd/internal/execute"
)

// Unborn is the revision reported for a clone without commits.
const Unborn = "0000000000000000000000000000000000000000"

// checkoutMarker is created inside .git once src/ has been materialized.
const checkoutMarker = "webui-checkout"

var (
	// ErrNoClone is returned when the working copy does not exist.
	ErrNoClone = errors.New("gitrepo: no clone")

	// ErrTooLarge is returned by ReadWorkingFile for files above the cap.
	ErrTooLarge = errors.New("gitrepo: file too large")
)

// Identity is the author and committer of a commit.
type Identity struct {
	Name  string
	Email string
}

// Files maps a path to its permission bits.
type Files map[string]fs.FileMode

// Repo is a handle on a clone directory. It holds no open resources.
type Repo struct {
	dir string
	run execute.Runner
}

// Open returns a handle on the clone at dir. It does not touch the disk.
func Open(dir string, run execute.Runner) *Repo {
	return &Repo{dir: dir, run: run}
}

// Dir returns the clone directory.
func (r *Repo) Dir() string { return r.dir }

// Exists reports whether the clone directory holds a git repository.
func (r *Repo) Exists() bool {
	fi, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil && fi.IsDir()
}

// Remove deletes the clone. Missing clones are not an error.
func (r *Repo) Remove() error {
	return os.RemoveAll(r.dir)
}

func (r *Repo) git(ctx context.Context, env []string, args ...string) ([]byte, error) {
	return r.run.Run(ctx, execute.Command{
		Args: append([]string{"git"}, args...),
		Dir:  r.dir,
		Env:  env,
	})
}

// Revision returns the HEAD commit id, or Unborn when there are no commits.
func (r *Repo) Revision(ctx context.Context) (string, error) {
	if !r.Exists() {
		return "", ErrNoClone
	}
	out, err := r.git(ctx, nil, "rev-parse", "-q", "--verify", "HEAD^{commit}")
	if err != nil {
		if st, ok := execute.ExitStatus(err); ok && st == 1 {
			return Unborn, nil
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ReadCommitted returns the content of path as of HEAD.
func (r *Repo) ReadCommitted(ctx context.Context, path string) ([]byte, error) {
	return r.git(ctx, nil, "cat-file", "-p", "HEAD:"+path)
}

// ListTree lists the files under dir as of HEAD, relative to dir.
func (r *Repo) ListTree(ctx context.Context, dir string) (Files, error) {
	out, err := r.git(ctx, nil, "ls-tree", "-r", "-z", "--format=%(objectmode) %(path)", "HEAD", dir)
	if err != nil {
		return nil, err
	}
	return parseFileList(out, dir)
}

// ListWorkingFiles lists the files under dir in the index, relative to dir.
func (r *Repo) ListWorkingFiles(ctx context.Context, dir string) (Files, error) {
	out, err := r.git(ctx, nil, "ls-files", "-z", "--format=%(objectmode) %(path)", "--", dir)
	if err != nil {
		return nil, err
	}
	return parseFileList(out, dir)
}

// EnsureCheckedOut extends the sparse cone to src and materializes it from
// HEAD. It is a no-op for unborn clones and after the first success.
func (r *Repo) EnsureCheckedOut(ctx context.Context) error {
	marker := filepath.Join(r.dir, ".git", checkoutMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	rev, err := r.Revision(ctx)
	if err != nil {
		return err
	}
	if rev == Unborn {
		return nil
	}

	if _, err := r.git(ctx, nil, "sparse-checkout", "add", "src"); err != nil {
		return err
	}
	if _, err := r.git(ctx, nil, "checkout", "-q"); err != nil {
		return err
	}
	return os.WriteFile(marker, nil, 0o600)
}

// WriteFile writes data to path with the given permission bits and stages
// it. Parent directories are created as needed.
func (r *Repo) WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	root, err := os.OpenRoot(r.dir)
	if err != nil {
		return err
	}
	defer func() { _ = root.Close() }()

	if dir := filepath.Dir(path); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := root.WriteFile(path, data, perm.Perm()); err != nil {
		return err
	}
	// WriteFile only applies perm on creation.
	if err := root.Chmod(path, perm.Perm()); err != nil {
		return err
	}

	_, err = r.git(ctx, nil, "add", "--sparse", "--", path)
	return err
}

// RemoveFile deletes path from the working tree and stages the removal.
func (r *Repo) RemoveFile(ctx context.Context, path string) error {
	root, err := os.OpenRoot(r.dir)
	if err != nil {
		return err
	}
	defer func() { _ = root.Close() }()

	if err := root.Remove(path); err != nil {
		return err
	}
	_, err = r.git(ctx, nil, "add", "--sparse", "--", path)
	return err
}

// ReadWorkingFile reads path from the working tree. Files larger than limit
// bytes fail with ErrTooLarge.
func (r *Repo) ReadWorkingFile(path string, limit int64) ([]byte, error) {
	root, err := os.OpenRoot(r.dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = root.Close() }()

	fi, err := root.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("gitrepo: %s: not a regular file", path)
	}
	if fi.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, fi.Size())
	}
	return root.ReadFile(path)
}

// IsDirty reports whether the index differs from HEAD.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	_, err := r.git(ctx, nil, "diff", "--quiet", "--cached")
	if err == nil {
		return false, nil
	}
	if st, ok := execute.ExitStatus(err); ok && st == 1 {
		return true, nil
	}
	return false, err
}

// Commit records the index with id as both author and committer.
func (r *Repo) Commit(ctx context.Context, message string, id Identity) error {
	_, err := r.git(ctx, []string{
		"GIT_AUTHOR_NAME=" + id.Name,
		"GIT_AUTHOR_EMAIL=" + id.Email,
		"GIT_COMMITTER_NAME=" + id.Name,
		"GIT_COMMITTER_EMAIL=" + id.Email,
	}, "commit", "-q", "--no-verify", "-m", message)
	return err
}

// Publish pushes HEAD to the remote. A rejected push is returned as is.
func (r *Repo) Publish(ctx context.Context) error {
	_, err := r.git(ctx, nil, "push", "-q", "origin", "HEAD")
	return err
}

// parseFileList parses NUL-terminated "<objectmode> <path>" records and
// strips dir from each path.
func parseFileList(out []byte, dir string) (Files, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	files := Files{}
	for _, rec := range bytes.Split(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		mode, path, ok := strings.Cut(string(rec), " ")
		if !ok || len(mode) != 6 {
			return nil, fmt.Errorf("gitrepo: malformed listing record %q", rec)
		}
		perm, err := strconv.ParseUint(mode[3:6], 8, 32)
		if err != nil {
			return nil, fmt.Errorf("gitrepo: malformed mode %q", mode)
		}
		if dir != "" {
			path = strings.TrimPrefix(path, prefix)
		}
		files[path] = fs.FileMode(perm)
	}
	return files, nil
}
