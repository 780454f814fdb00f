package pkgindex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"webui/cmd/internal/execute"
)

const sample = `Package: vim
Version: 2:9.0
Installed-Size: 4000
Depends: vim-common (= 2:9.0), vim-runtime, libc6 (>= 2.34) | libc6-compat, python3:any
Description: Vi IMproved - enhanced vi editor
 Vim is an almost compatible version of the UNIX editor Vi.
 .
 Many new features have been added.

Package: vim-common
Installed-Size: 400
Depends: vim
Description: Vi IMproved - Common files

Package: vim-runtime
Installed-Size: 30000
Description: Vi IMproved - Runtime files

Package: libc6
Installed-Size: 12000
Description: GNU C Library: Shared libraries

Package: python3
Installed-Size: 100
Description: interactive high-level object-oriented language

Package: vim
Installed-Size: 1
Description: duplicate entry, ignored

Package: nano
Installed-Size: 800
Depends: libc6, libncursesw6 [amd64]
Description: small, friendly text editor
`

func loadSample(t *testing.T) *snapshot {
	t.Helper()
	pkgs, err := ParseDumpavail([]byte(sample))
	if err != nil {
		t.Fatalf("ParseDumpavail: %v", err)
	}
	return newSnapshot(pkgs)
}

func TestParseDumpavail(t *testing.T) {
	pkgs, err := ParseDumpavail([]byte(sample))
	if err != nil {
		t.Fatalf("ParseDumpavail: %v", err)
	}
	if len(pkgs) != 7 {
		t.Fatalf("got %d packages", len(pkgs))
	}
	want := Package{
		Name:    "vim",
		Desc:    "Vi IMproved - enhanced vi editor",
		Size:    4000 * 1024,
		Depends: []string{"vim-common", "vim-runtime", "libc6", "python3"},
	}
	if diff := cmp.Diff(want, pkgs[0]); diff != "" {
		t.Fatalf("vim mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"libc6", "libncursesw6"}, pkgs[6].Depends); diff != "" {
		t.Fatalf("nano depends (-want +got):\n%s", diff)
	}
}

func TestSearch(t *testing.T) {
	s := loadSample(t)
	cases := []struct {
		name         string
		query        string
		first, count int
		want         []string
	}{
		{"prefix", "vim", 0, 50, []string{"vim", "vim-common", "vim-runtime"}},
		{"anchored", "common", 0, 50, nil},
		{"regex", "vim-(c|r)", 0, 50, []string{"vim-common", "vim-runtime"}},
		{"offset", "vim", 1, 50, []string{"vim-common", "vim-runtime"}},
		{"limit", "vim", 0, 2, []string{"vim", "vim-common"}},
		{"window", "vim", 1, 1, []string{"vim-common"}},
		{"all", "", 0, 3, []string{"libc6", "nano", "python3"}},
		{"bad regex", "vim(", 0, 50, nil},
		{"negative first", "vim", -1, 50, nil},
		{"zero count", "vim", 0, 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.search(tc.query, tc.first, tc.count)
			if got == nil {
				t.Fatalf("search must return a non-nil slice")
			}
			var names []string
			for _, m := range got {
				names = append(names, m.Name)
			}
			if diff := cmp.Diff(tc.want, names); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	s := loadSample(t)

	got := s.info([]string{"vim", "missing"})
	want := Info{
		Packages: map[string]Summary{"vim": {Desc: "Vi IMproved - enhanced vi editor"}},
		// vim, vim-common (cycles back to vim), vim-runtime, libc6, python3.
		Size: (4000 + 400 + 30000 + 12000 + 100) * 1024,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	// Shared dependencies are counted once.
	got = s.info([]string{"nano", "vim-runtime", "nano"})
	if got.Size != (800+12000+30000)*1024 {
		t.Fatalf("size=%d", got.Size)
	}
	if len(got.Packages) != 2 {
		t.Fatalf("packages=%v", got.Packages)
	}

	if got := s.info(nil); got.Size != 0 || got.Packages == nil {
		t.Fatalf("empty query: %+v", got)
	}
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	out     []byte
	failArg string
}

func (f *fakeRunner) Run(_ context.Context, c execute.Command) ([]byte, error) {
	joined := strings.Join(c.Args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, joined)
	f.mu.Unlock()
	if joined == f.failArg {
		return nil, &execute.Error{Args: c.Args, Status: 100, Stderr: "E: failed"}
	}
	if c.Args[0] == "apt-cache" {
		return f.out, nil
	}
	return nil, nil
}

func TestAptIndex_Refresh(t *testing.T) {
	run := &fakeRunner{out: []byte(sample)}
	idx := NewApt(run, nil, 0)

	if got := idx.Search("vim", 0, 10); len(got) != 0 {
		t.Fatalf("unloaded index returned %v", got)
	}
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if diff := cmp.Diff([]string{"apt-get update -q", "apt-cache dumpavail"}, run.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if got := idx.Search("nano", 0, 10); len(got) != 1 || got[0].Desc != "small, friendly text editor" {
		t.Fatalf("Search after refresh: %v", got)
	}
}

func TestAptIndex_RefreshFailureKeepsData(t *testing.T) {
	run := &fakeRunner{out: []byte(sample)}
	idx := NewApt(run, nil, 0)
	if err := idx.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	run.failArg = "apt-get update -q"
	err := idx.Refresh(context.Background())
	var ee *execute.Error
	if !errors.As(err, &ee) || ee.Status != 100 {
		t.Fatalf("expected *execute.Error status 100, got %v", err)
	}
	if got := idx.Info([]string{"libc6"}); got.Size != 12000*1024 {
		t.Fatalf("data lost after failed refresh: %+v", got)
	}
}

func TestEmpty(t *testing.T) {
	var idx Index = Empty{}
	if got := idx.Search("", 0, 10); got == nil || len(got) != 0 {
		t.Fatalf("Search=%v", got)
	}
	if got := idx.Info([]string{"vim"}); got.Packages == nil || len(got.Packages) != 0 || got.Size != 0 {
		t.Fatalf("Info=%+v", got)
	}
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}
