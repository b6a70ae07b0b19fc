package httpserver

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"nasmedia/internal/apperr"
	"nasmedia/internal/fsutil"
	"nasmedia/internal/protect"
)

// rootDisplayName labels the media root in the flat directory list.
const rootDisplayName = "Home"

type dirNode struct {
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Type      string     `json:"type"`
	Protected bool       `json:"protected"`
	Children  []*dirNode `json:"children"`
}

type dirEntry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Protected bool   `json:"protected"`
}

// visibleSubdirs lists the directories directly inside abs, sorted by name.
// Dot directories are skipped, and so are symlinks: a symlinked directory
// may point outside the root or back at an ancestor.
func visibleSubdirs(abs string) ([]string, error) {
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() || fsutil.IsHidden(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// directoryTree builds the nested tree below root with an explicit stack, so
// deep trees cost heap rather than goroutine stack. Unreadable directories
// are logged and shown without children.
func directoryTree(root string, snap protect.Snapshot, log logrus.FieldLogger) []*dirNode {
	type frame struct {
		abs, rel string
		out      *[]*dirNode
	}
	top := []*dirNode{}
	stack := []frame{{abs: root, rel: "", out: &top}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		names, err := visibleSubdirs(f.abs)
		if err != nil {
			log.WithError(err).WithField("dir", f.rel).Warn("directory traversal failed")
			continue
		}
		for _, name := range names {
			rel := joinRel(f.rel, name)
			n := &dirNode{
				Name:      name,
				Path:      rel,
				Type:      "directory",
				Protected: snap.IsProtected(rel),
				Children:  []*dirNode{},
			}
			*f.out = append(*f.out, n)
			stack = append(stack, frame{abs: filepath.Join(f.abs, name), rel: rel, out: &n.Children})
		}
	}
	return top
}

// flatDirectories lists the root followed by every directory in depth-first
// pre-order. Entries other than the root are named by their relative path.
func flatDirectories(root string, snap protect.Snapshot, log logrus.FieldLogger) []dirEntry {
	out := []dirEntry{{Name: rootDisplayName, Path: "", Protected: snap.IsProtected("")}}
	type frame struct{ abs, rel string }
	stack := []frame{{abs: root, rel: ""}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.rel != "" {
			out = append(out, dirEntry{Name: f.rel, Path: f.rel, Protected: snap.IsProtected(f.rel)})
		}
		names, err := visibleSubdirs(f.abs)
		if err != nil {
			log.WithError(err).WithField("dir", f.rel).Warn("directory traversal failed")
			continue
		}
		// reverse push keeps siblings in name order when popped
		for i := len(names) - 1; i >= 0; i-- {
			stack = append(stack, frame{abs: filepath.Join(f.abs, names[i]), rel: joinRel(f.rel, names[i])})
		}
	}
	return out
}

func (s *Server) handleDirectories(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reg.Snapshot()
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "reading password registry failed", err))
		return
	}
	writeJSON(w, map[string]any{"directories": directoryTree(s.paths.Root(), snap, requestLog(r))})
}

func (s *Server) handleAllDirectories(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reg.Snapshot()
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "reading password registry failed", err))
		return
	}
	writeJSON(w, map[string]any{"directories": flatDirectories(s.paths.Root(), snap, requestLog(r))})
}
