// Package pkgindex answers package search and dependency-size queries for
// the flavor editor.
package pkgindex

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"webui/cmd/internal/execute"
	"webui/cmd/internal/metrics"
)

// DefaultRefreshTimeout bounds the package database update.
const DefaultRefreshTimeout = 10 * time.Minute

// Match is one search hit.
type Match struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// Summary describes a requested package.
type Summary struct {
	Desc string `json:"desc"`
}

// Info is the result of an Info query. Size is the installed size in bytes
// of the requested packages and everything they depend on.
type Info struct {
	Packages map[string]Summary `json:"packages"`
	Size     int64              `json:"size"`
}

// Index is a package database.
type Index interface {
	// Search returns packages whose name matches query, anchored at the
	// start, skipping the first matches and returning at most count.
	Search(query string, first, count int) []Match
	// Info describes names and sums the installed size of their dependency
	// closure. Unknown names are ignored.
	Info(names []string) Info
	// Refresh updates the underlying database and reloads it.
	Refresh(ctx context.Context) error
}

// Package is one entry of the database.
type Package struct {
	Name    string
	Desc    string
	Size    int64
	Depends []string
}

type snapshot struct {
	byName map[string]*Package
	names  []string
}

func newSnapshot(pkgs []Package) *snapshot {
	s := &snapshot{byName: make(map[string]*Package, len(pkgs))}
	for i := range pkgs {
		p := &pkgs[i]
		if _, dup := s.byName[p.Name]; dup {
			continue
		}
		s.byName[p.Name] = p
		s.names = append(s.names, p.Name)
	}
	slices.Sort(s.names)
	return s
}

func (s *snapshot) search(query string, first, count int) []Match {
	out := []Match{}
	if first < 0 || count <= 0 {
		return out
	}
	pat, err := regexp.Compile(`^(?:` + query + `)`)
	if err != nil {
		return out
	}
	found := 0
	for _, name := range s.names {
		if !pat.MatchString(name) {
			continue
		}
		if found >= first {
			out = append(out, Match{Name: name, Desc: s.byName[name].Desc})
		}
		found++
		if found >= first+count {
			break
		}
	}
	return out
}

func (s *snapshot) info(names []string) Info {
	info := Info{Packages: map[string]Summary{}}
	roots := make(map[string]bool, len(names))
	for _, n := range names {
		roots[n] = true
	}

	visited := map[string]bool{}
	stack := slices.Clone(names)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[name] {
			continue
		}
		visited[name] = true

		p, ok := s.byName[name]
		if !ok {
			continue
		}
		if roots[name] {
			info.Packages[name] = Summary{Desc: p.Desc}
		}
		info.Size += p.Size
		stack = append(stack, p.Depends...)
	}
	return info
}

// AptIndex serves queries from an in-memory copy of the apt database.
type AptIndex struct {
	run     execute.Runner
	log     *slog.Logger
	timeout time.Duration

	mu   sync.RWMutex
	snap *snapshot

	group singleflight.Group
}

// NewApt returns an empty index. Call Load or Refresh to populate it.
func NewApt(run execute.Runner, log *slog.Logger, timeout time.Duration) *AptIndex {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &AptIndex{run: run, log: log, timeout: timeout, snap: newSnapshot(nil)}
}

func (a *AptIndex) current() *snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Search implements Index.
func (a *AptIndex) Search(query string, first, count int) []Match {
	return a.current().search(query, first, count)
}

// Info implements Index.
func (a *AptIndex) Info(names []string) Info {
	return a.current().info(names)
}

// Load replaces the in-memory copy with the current apt database.
func (a *AptIndex) Load(ctx context.Context) error {
	out, err := a.run.Run(ctx, execute.Command{
		Args:    []string{"apt-cache", "dumpavail"},
		Timeout: a.timeout,
	})
	if err != nil {
		return err
	}
	pkgs, err := ParseDumpavail(out)
	if err != nil {
		return err
	}
	snap := newSnapshot(pkgs)

	a.mu.Lock()
	a.snap = snap
	a.mu.Unlock()

	metrics.IndexPackages.Set(float64(len(snap.names)))
	a.log.Info("pkgindex.load", "packages", len(snap.names))
	return nil
}

// Refresh implements Index. Concurrent calls share one update.
func (a *AptIndex) Refresh(ctx context.Context) error {
	_, err, shared := a.group.Do("refresh", func() (any, error) {
		if _, err := a.run.Run(ctx, execute.Command{
			Args:    []string{"apt-get", "update", "-q"},
			Timeout: a.timeout,
		}); err != nil {
			a.log.Warn("pkgindex.update.fail", "err", err)
			return nil, err
		}
		return nil, a.Load(ctx)
	})
	if shared {
		a.log.Debug("pkgindex.refresh.shared")
	}
	return err
}

// Empty is an Index without packages.
type Empty struct{}

func (Empty) Search(string, int, int) []Match { return []Match{} }

func (Empty) Info([]string) Info { return Info{Packages: map[string]Summary{}} }

func (Empty) Refresh(context.Context) error { return nil }
