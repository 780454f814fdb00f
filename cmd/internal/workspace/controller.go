// Package workspace implements the per-session edit cycle on a flavor
// repository: pull a sparse clone, read and stage files under src/, then
// publish a manifest together with the staged changes.
//
// A session owns at most one workspace, stored as <session dir>/repo. Pull
// replaces it and Publish consumes it. Every mutating operation runs under
// the session's exclusive lock.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"webui/cmd/internal/execute"
	"webui/cmd/internal/gitrepo"
	"webui/cmd/internal/metrics"
)

const (
	repoDir      = "repo"
	srcDir       = "src"
	manifestFile = "manifest.json"
)

// Pull flags.
const (
	// FlagExisting fails unless the repository already exists on the host.
	FlagExisting = 'e'
	// FlagCreate fails if the repository has commits, and grants the
	// caller the writers role otherwise.
	FlagCreate = 'c'
)

var (
	// RepoPattern matches flavor repository names.
	RepoPattern = regexp.MustCompile(`^flavor(?:/[0-9A-Za-z][0-9A-Za-z_-]*)*$`)
	// PathPattern matches file paths relative to src/.
	PathPattern = regexp.MustCompile(`^[^/]+(?:/[^/]+)*$`)
	// FlagsPattern matches a single pull flag.
	FlagsPattern = regexp.MustCompile(`^[ec]$`)
)

// Host is the part of the git host the controller needs.
type Host interface {
	Repositories(ctx context.Context) ([]string, error)
	GrantRole(ctx context.Context, repo, role, principal string) error
	Clone(ctx context.Context, repo, dest string) (*gitrepo.Repo, error)
}

// Session is the part of a session the controller borrows for one request.
type Session interface {
	Dir() string
	User() string
	Lock() error
}

// Config controls workspace limits and the identity of published commits.
type Config struct {
	// MaxFileSize caps files returned by Read.
	MaxFileSize int64
	// Committer authors and commits every publish.
	Committer gitrepo.Identity
	// WritersRole is granted on repository creation.
	WritersRole string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileSize: 4 << 20,
		Committer:   gitrepo.Identity{Name: "webui", Email: "webui@cluster.local"},
		WritersRole: "WRITERS",
	}
}

// Controller runs workspace operations for sessions.
type Controller struct {
	cfg  Config
	host Host
	run  execute.Runner
	log  *slog.Logger
}

// Info describes the committed state of a workspace.
type Info struct {
	// Rev is nil for a repository without commits.
	Rev *string `json:"rev"`
	// Manifest is the committed manifest object, or null.
	Manifest json.RawMessage `json:"manifest"`
	// Files lists src/ as of HEAD.
	Files gitrepo.Files `json:"files"`
}

// New constructs a Controller. run executes git in existing workspaces.
func New(cfg Config, host Host, run execute.Runner, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{cfg: cfg, host: host, run: run, log: log}
}

func (c *Controller) repo(sess Session) *gitrepo.Repo {
	return gitrepo.Open(filepath.Join(sess.Dir(), repoDir), c.run)
}

// ready returns the session's workspace, or ErrNotReady if there is none.
func (c *Controller) ready(sess Session) (*gitrepo.Repo, error) {
	r := c.repo(sess)
	if !r.Exists() {
		return nil, deny(ErrNotReady, "", nil)
	}
	return r, nil
}

func (c *Controller) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "denied"
		var de *DeniedError
		if !errors.As(err, &de) {
			outcome = "error"
		}
	}
	metrics.WorkspaceOps.WithLabelValues(op, outcome).Inc()
}

// Pull discards any existing workspace and clones repo in its place.
// flags is "e" (existing only) or "c" (create).
func (c *Controller) Pull(ctx context.Context, sess Session, flags, repo string) (err error) {
	defer func() { c.observe("pull", err) }()

	if !FlagsPattern.MatchString(flags) || !RepoPattern.MatchString(repo) {
		return fmt.Errorf("workspace: pull %q %q: %w", flags, repo, ErrInvalidArgument)
	}
	if err := sess.Lock(); err != nil {
		return err
	}

	r := c.repo(sess)
	if err := r.Remove(); err != nil {
		return err
	}

	if strings.ContainsRune(flags, FlagExisting) {
		repos, err := c.host.Repositories(ctx)
		if err != nil {
			return deny(ErrRemote, "list repositories", err)
		}
		if !slices.Contains(repos, repo) {
			return deny(ErrNotFound, repo, nil)
		}
	}

	r, err = c.host.Clone(ctx, repo, r.Dir())
	if err != nil {
		return deny(ErrRemote, "clone "+repo, err)
	}

	if strings.ContainsRune(flags, FlagCreate) {
		rev, err := r.Revision(ctx)
		if err != nil {
			_ = r.Remove()
			return err
		}
		if rev != gitrepo.Unborn {
			_ = r.Remove()
			return deny(ErrExists, repo, nil)
		}
		if err := c.host.GrantRole(ctx, repo, c.cfg.WritersRole, sess.User()); err != nil {
			_ = r.Remove()
			return deny(ErrRemote, "grant "+c.cfg.WritersRole, err)
		}
	}

	c.log.Info("workspace.pull", "user", sess.User(), "repo", repo, "flags", flags)
	return nil
}

// Info reports the committed revision, manifest and src/ listing.
func (c *Controller) Info(ctx context.Context, sess Session) (Info, error) {
	r, err := c.ready(sess)
	if err != nil {
		return Info{}, err
	}

	info := Info{Manifest: json.RawMessage("null"), Files: gitrepo.Files{}}

	rev, err := r.Revision(ctx)
	if err == nil && rev != gitrepo.Unborn {
		info.Rev = &rev
	}
	if m, ok := committedManifest(ctx, r); ok {
		info.Manifest = m
	}
	if files, err := r.ListTree(ctx, srcDir); err == nil {
		info.Files = files
	}
	return info, nil
}

// Read returns src/<path> from the working tree.
func (c *Controller) Read(ctx context.Context, sess Session, path string) (data []byte, err error) {
	defer func() { c.observe("read", err) }()

	if !ValidPath(path) {
		return nil, ErrInvalidArgument
	}
	r, err := c.lockedWorkspace(ctx, sess)
	if err != nil {
		return nil, err
	}

	data, err = r.ReadWorkingFile(srcDir+"/"+path, c.cfg.MaxFileSize)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, gitrepo.ErrTooLarge):
		return nil, deny(ErrTooLarge, path, err)
	case errors.Is(err, fs.ErrNotExist):
		return nil, deny(ErrNotFound, path, err)
	default:
		return nil, deny(ErrPermissionDenied, path, err)
	}
}

// Write stores data as src/<path> with perm and stages it. It returns the
// staged src/ listing.
func (c *Controller) Write(ctx context.Context, sess Session, path string, data []byte, perm fs.FileMode) (files gitrepo.Files, err error) {
	defer func() { c.observe("write", err) }()

	if !ValidPath(path) {
		return nil, ErrInvalidArgument
	}
	r, err := c.lockedWorkspace(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := r.WriteFile(ctx, srcDir+"/"+path, data, perm.Perm()); err != nil {
		return nil, fileError(path, err)
	}
	return r.ListWorkingFiles(ctx, srcDir)
}

// Delete removes src/<path> and stages the removal. It returns the staged
// src/ listing.
func (c *Controller) Delete(ctx context.Context, sess Session, path string) (files gitrepo.Files, err error) {
	defer func() { c.observe("delete", err) }()

	if !ValidPath(path) {
		return nil, ErrInvalidArgument
	}
	r, err := c.lockedWorkspace(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := r.RemoveFile(ctx, srcDir+"/"+path); err != nil {
		return nil, fileError(path, err)
	}
	return r.ListWorkingFiles(ctx, srcDir)
}

// Publish writes manifest, commits staged changes as the service identity
// and pushes them.
//
// If the committed manifest names owners and the session user is not one of
// them, Publish fails with ErrPermissionDenied and changes nothing. Past that
// check the workspace is consumed whatever the outcome.
func (c *Controller) Publish(ctx context.Context, sess Session, manifest []byte) (err error) {
	defer func() { c.observe("publish", err) }()

	if !gjson.ValidBytes(manifest) || !gjson.ParseBytes(manifest).IsObject() {
		return ErrInvalidManifest
	}
	r, err := c.lockedWorkspace(ctx, sess)
	if err != nil {
		return err
	}

	user := sess.User()
	if err := checkOwner(ctx, r, user); err != nil {
		c.log.Warn("workspace.publish.denied", "user", user, "reason", "not_owner")
		return err
	}

	defer func() {
		if rerr := r.Remove(); rerr != nil {
			c.log.Error("workspace.discard.fail", "user", user, "err", rerr)
		}
	}()

	rev, err := r.Revision(ctx)
	if err != nil {
		return err
	}

	canon, err := canonicalManifest(manifest)
	if err != nil {
		return err
	}
	if err := r.WriteFile(ctx, manifestFile, canon, 0o644); err != nil {
		return err
	}

	dirty, err := r.IsDirty(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		c.log.Info("workspace.publish.noop", "user", user)
		return nil
	}

	verb := "updated"
	if rev == gitrepo.Unborn {
		verb = "created"
	}
	if err := r.Commit(ctx, verb+" by "+user, c.cfg.Committer); err != nil {
		return err
	}
	if err := r.Publish(ctx); err != nil {
		c.log.Warn("workspace.publish.fail", "user", user, "err", err)
		return deny(ErrRemote, "push", err)
	}

	c.log.Info("workspace.publish", "user", user, "verb", verb)
	return nil
}

// lockedWorkspace takes the session's exclusive lock and materializes src/.
func (c *Controller) lockedWorkspace(ctx context.Context, sess Session) (*gitrepo.Repo, error) {
	if err := sess.Lock(); err != nil {
		return nil, err
	}
	r, err := c.ready(sess)
	if err != nil {
		return nil, err
	}
	if err := r.EnsureCheckedOut(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// checkOwner denies user unless the committed manifest's owners list,
// when present, contains them.
func checkOwner(ctx context.Context, r *gitrepo.Repo, user string) error {
	m, ok := committedManifest(ctx, r)
	if !ok {
		return nil
	}
	owners := gjson.GetBytes(m, "owners")
	if !owners.IsArray() {
		return nil
	}
	for _, o := range owners.Array() {
		if o.Type == gjson.String && o.Str == user {
			return nil
		}
	}
	return deny(ErrPermissionDenied, "not an owner", nil)
}

// committedManifest returns the manifest at HEAD if it is a JSON object.
func committedManifest(ctx context.Context, r *gitrepo.Repo) (json.RawMessage, bool) {
	content, err := r.ReadCommitted(ctx, manifestFile)
	if err != nil || !gjson.ValidBytes(content) {
		return nil, false
	}
	if !gjson.ParseBytes(content).IsObject() {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, content); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func fileError(path string, err error) error {
	var ee *execute.Error
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return deny(ErrNotFound, path, err)
	}
	return deny(ErrPermissionDenied, path, err)
}

// ValidPath reports whether p is a relative path without empty, "." or
// ".." components.
func ValidPath(p string) bool {
	if !PathPattern.MatchString(p) {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "." || part == ".." {
			return false
		}
	}
	return true
}
