package fsutil

import (
	"errors"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"nasmedia/internal/apperr"
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// safe, slash-based, no-leading-slash relative path ("" means root).
// ".." elements that would climb above the root are dropped; use Resolve
// when an escape attempt must be reported instead.
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// IsHidden reports whether a directory entry name uses the dot-file marker.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Resolver confines client supplied paths to a canonical media root.
type Resolver struct {
	root string
}

// NewResolver canonicalizes root (absolute, symlinks resolved).
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &Resolver{root: filepath.Clean(real)}, nil
}

func (r *Resolver) Root() string { return r.root }

// Resolve percent-decodes each segment, joins them under the root and
// canonicalizes the result. Non-existent trailing components are allowed so
// that mkdir and upload targets can be resolved too.
//
// Traversal above the root fails with apperr.PathEscape, never by clamping.
// OS-level failures while canonicalizing fail with apperr.PathInvalid.
func (r *Resolver) Resolve(segments ...string) (string, error) {
	dec := make([]string, 0, len(segments))
	for _, seg := range segments {
		d, err := url.PathUnescape(seg)
		if err != nil {
			return "", apperr.Wrap(apperr.PathInvalid, "invalid path encoding", err)
		}
		dec = append(dec, d)
	}
	return r.ResolveDecoded(dec...)
}

// ResolveDecoded is Resolve for values that were already decoded, such as
// form fields and query parameters.
func (r *Resolver) ResolveDecoded(segments ...string) (string, error) {
	rel := make([]string, 0, len(segments))
	for _, seg := range segments {
		if strings.Contains(seg, "\x00") {
			return "", apperr.New(apperr.PathInvalid, "invalid path")
		}
		seg = strings.ReplaceAll(seg, "\\", "/")
		// Client paths are always relative to the root.
		seg = strings.TrimLeft(seg, "/")
		if seg != "" {
			rel = append(rel, seg)
		}
	}
	joined := path.Join(rel...)
	if joined == "" || joined == "." {
		return r.root, nil
	}
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", apperr.New(apperr.PathEscape, "path escapes media root")
	}

	abs := filepath.Join(r.root, filepath.FromSlash(joined))
	if !r.within(abs) {
		return "", apperr.New(apperr.PathEscape, "path escapes media root")
	}
	real, err := canonical(abs)
	if err != nil {
		return "", apperr.Wrap(apperr.PathInvalid, "invalid path", err)
	}
	if !r.within(real) {
		return "", apperr.New(apperr.PathEscape, "path escapes media root")
	}
	return real, nil
}

// Rel returns the slash-separated path of abs relative to the root; ""
// for the root itself.
func (r *Resolver) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", apperr.Wrap(apperr.PathInvalid, "invalid path", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", apperr.New(apperr.PathEscape, "path escapes media root")
	}
	return CleanRelPath(rel), nil
}

func (r *Resolver) within(p string) bool {
	p = filepath.Clean(p)
	if p == r.root {
		return true
	}
	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// canonical resolves symlinks on the longest existing prefix of p and
// re-appends the missing tail verbatim.
func canonical(p string) (string, error) {
	cur := p
	rest := ""
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(real, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}
