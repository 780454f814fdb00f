// Package gitserver is the control-plane client for the git host.
//
// Every operation is one ssh invocation of the host's command interface:
//
//	<ssh command> <user>@<server> <subcommand> [args...]
//
// Output grammars differ per subcommand (JSON, NDJSON, key:value lines);
// each has its own parser here. Failures are *execute.Error values.
package gitserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/tidwall/gjson"

	"webui/cmd/internal/execute"
	"webui/cmd/internal/gitrepo"
)

// ErrMalformed is returned when host output cannot be parsed.
var ErrMalformed = errors.New("gitserver: malformed host output")

// Flavor is one catalog entry. Raw is passed through to clients untouched.
type Flavor struct {
	ID  string
	Raw json.RawMessage
}

// MarshalJSON emits the entry exactly as the host reported it.
func (f Flavor) MarshalJSON() ([]byte, error) {
	if len(f.Raw) == 0 {
		return []byte("null"), nil
	}
	return f.Raw, nil
}

// LoginRecord is one entry of the host's login audit.
type LoginRecord struct {
	Protocol string  `json:"p"`
	User     string  `json:"u"`
	Time     float64 `json:"t"`
	Status   *int    `json:"s,omitempty"`
}

// Server talks to one git host.
type Server struct {
	cfg Config
	ssh []string
	run execute.Runner
	log *slog.Logger
}

// New validates cfg and returns a Server issuing commands through run.
func New(cfg Config, run execute.Runner, log *slog.Logger) (*Server, error) {
	argv, err := shlex.Split(cfg.SSHCommand)
	if err != nil {
		return nil, fmt.Errorf("gitserver: ssh command %q must be valid: %w", cfg.SSHCommand, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("gitserver: empty ssh command")
	}
	if cfg.Server == "" || cfg.User == "" {
		return nil, fmt.Errorf("gitserver: server and user are required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{cfg: cfg, ssh: argv, run: run, log: log}, nil
}

func (s *Server) call(ctx context.Context, sub ...string) ([]byte, error) {
	args := make([]string, 0, len(s.ssh)+1+len(sub))
	args = append(args, s.ssh...)
	args = append(args, s.cfg.User+"@"+s.cfg.Server)
	args = append(args, sub...)

	out, err := s.run.Run(ctx, execute.Command{Args: args, Timeout: s.cfg.Timeout})
	if err != nil {
		s.log.Warn("gitserver.call.fail", "subcommand", sub[0], "err", err)
		return nil, err
	}
	return out, nil
}

// Catalog returns the flavors the host offers, in host order.
func (s *Server) Catalog(ctx context.Context) ([]Flavor, error) {
	out, err := s.call(ctx, "adm", "webui", "flavors-available")
	if err != nil {
		return nil, err
	}
	return parseCatalog(out)
}

func parseCatalog(out []byte) ([]Flavor, error) {
	if !gjson.ValidBytes(out) {
		return nil, fmt.Errorf("%w: catalog is not JSON", ErrMalformed)
	}
	doc := gjson.ParseBytes(out)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: catalog is not an array", ErrMalformed)
	}
	var flavors []Flavor
	for _, el := range doc.Array() {
		id := el.Get("id")
		if !el.IsObject() || id.Type != gjson.String {
			continue
		}
		flavors = append(flavors, Flavor{ID: id.String(), Raw: json.RawMessage(el.Raw)})
	}
	return flavors, nil
}

// Repositories lists every repository the host account can see, sorted.
func (s *Server) Repositories(ctx context.Context) ([]string, error) {
	out, err := s.call(ctx, "info", "-p", "--json")
	if err != nil {
		return nil, err
	}
	return parseRepositories(out)
}

func parseRepositories(out []byte) ([]string, error) {
	if !gjson.ValidBytes(out) {
		return nil, fmt.Errorf("%w: info is not JSON", ErrMalformed)
	}
	repos := gjson.GetBytes(out, "repos")
	if !repos.IsObject() {
		return nil, fmt.Errorf("%w: info has no repos object", ErrMalformed)
	}
	var names []string
	repos.ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	slices.Sort(names)
	return names, nil
}

// GrantRole adds principal to role on repo.
func (s *Server) GrantRole(ctx context.Context, repo, role, principal string) error {
	_, err := s.call(ctx, "perms", repo, "+", role, principal)
	if err == nil {
		s.log.Info("gitserver.perms.grant", "repo", repo, "role", role, "principal", principal)
	}
	return err
}

// JobStatus returns the CI job summary of repo as key/value pairs.
func (s *Server) JobStatus(ctx context.Context, repo string) (map[string]string, error) {
	out, err := s.call(ctx, "job-status", "-h", repo)
	if err != nil {
		return nil, err
	}
	return parseKeyValues(out), nil
}

// parseKeyValues reads "key: value" lines. Lines without a colon are skipped.
func parseKeyValues(out []byte) map[string]string {
	m := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		m[key] = strings.TrimSpace(value)
	}
	return m
}

// JobLog returns the raw CI job log of repo.
func (s *Server) JobLog(ctx context.Context, repo string) (string, error) {
	out, err := s.call(ctx, "job-status", repo)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// LoginAudit returns the latest login records of repo. limit <= 0 leaves the
// count to the host.
func (s *Server) LoginAudit(ctx context.Context, repo string, limit int) ([]LoginRecord, error) {
	sub := []string{"login-log"}
	if limit > 0 {
		sub = append(sub, "-n", strconv.Itoa(limit))
	}
	sub = append(sub, repo)

	out, err := s.call(ctx, sub...)
	if err != nil {
		return nil, err
	}
	return parseLoginLog(out)
}

func parseLoginLog(out []byte) ([]LoginRecord, error) {
	records := []LoginRecord{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec LoginRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: login-log: %v", ErrMalformed, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CloneURL returns the URL git clones repo from.
func (s *Server) CloneURL(repo string) string {
	if s.cfg.URLPrefix != "" {
		return s.cfg.URLPrefix + repo
	}
	return s.cfg.User + "@" + s.cfg.Server + ":" + repo
}

// Clone makes a depth-1, blobless, sparse clone of repo into dest, without
// checking anything out. The clone keeps using the configured ssh command for
// later fetches and pushes.
func (s *Server) Clone(ctx context.Context, repo, dest string) (*gitrepo.Repo, error) {
	_, err := s.run.Run(ctx, execute.Command{
		Args: []string{
			"git", "clone", "--depth=1", "--no-checkout", "--sparse", "--filter=blob:none",
			"--config", "core.sshCommand=" + s.cfg.SSHCommand,
			s.CloneURL(repo), dest,
		},
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		s.log.Warn("gitserver.clone.fail", "repo", repo, "err", err)
		return nil, err
	}
	return gitrepo.Open(dest, s.run), nil
}
