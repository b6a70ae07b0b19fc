package protect

import (
	"sort"
	"strings"

	"nasmedia/internal/fsutil"
)

// Snapshot is one consistent read of the registry. Listing handlers take a
// single snapshot and answer every per-directory question from it.
type Snapshot map[string]Record

// IsProtected reports whether p equals or lies below a recorded directory.
func (s Snapshot) IsProtected(p string) bool {
	_, ok := s.TopProtectedAncestor(p)
	return ok
}

// TopProtectedAncestor returns the recorded ancestor-or-self of p with the
// fewest path segments. Protection is inherited from that outermost
// directory; equal depth ties go to the lexicographically smallest path.
func (s Snapshot) TopProtectedAncestor(p string) (string, bool) {
	p = fsutil.CleanRelPath(p)
	if p == "" || len(s) == 0 {
		return "", false
	}
	best := ""
	bestDepth := -1
	for dir := range s {
		if p != dir && !strings.HasPrefix(p, dir+"/") {
			continue
		}
		d := strings.Count(dir, "/")
		if bestDepth < 0 || d < bestDepth || (d == bestDepth && dir < best) {
			best, bestDepth = dir, d
		}
	}
	return best, bestDepth >= 0
}

// PasswordHash returns the hash recorded for exactly dir.
func (s Snapshot) PasswordHash(dir string) (string, bool) {
	rec, ok := s[fsutil.CleanRelPath(dir)]
	if !ok {
		return "", false
	}
	return rec.PasswordHash, true
}

// Dirs lists recorded directories in sorted order.
func (s Snapshot) Dirs() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
