package pkgindex

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ParseDumpavail parses the stanza stream printed by `apt-cache dumpavail`.
// Only Package, Description (first line), Installed-Size (KiB) and the first
// alternative of each Depends clause are kept.
func ParseDumpavail(data []byte) ([]Package, error) {
	var (
		pkgs []Package
		cur  Package
	)
	flush := func() {
		if cur.Name != "" {
			pkgs = append(pkgs, cur)
		}
		cur = Package{}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Continuation line; nothing we keep spans lines.
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch name {
		case "Package":
			cur.Name = value
		case "Description":
			cur.Desc = value
		case "Installed-Size":
			if kib, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.Size = kib * 1024
			}
		case "Depends":
			cur.Depends = append(cur.Depends, parseDepends(value)...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("pkgindex: dumpavail: %w", err)
	}
	flush()
	return pkgs, nil
}

// parseDepends returns the first alternative of each comma separated clause,
// without version constraint or architecture qualifier.
func parseDepends(v string) []string {
	var out []string
	for _, clause := range strings.Split(v, ",") {
		alt, _, _ := strings.Cut(clause, "|")
		alt, _, _ = strings.Cut(alt, "(")
		alt, _, _ = strings.Cut(alt, "[")
		alt = strings.TrimSpace(alt)
		alt, _, _ = strings.Cut(alt, ":")
		if alt != "" {
			out = append(out, alt)
		}
	}
	return out
}
