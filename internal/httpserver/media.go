package httpserver

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"nasmedia/internal/apperr"
	"nasmedia/internal/auth"
	"nasmedia/internal/media"
	"nasmedia/internal/stream"
)

func (s *Server) handleMediaList(w http.ResponseWriter, r *http.Request) {
	subdir := r.URL.Query().Get("subdir")
	abs, rel, err := s.resolveDir(subdir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.reg.Snapshot()
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "reading password registry failed", err))
		return
	}
	var topDir any
	if top, ok := snap.TopProtectedAncestor(rel); ok {
		topDir = top
	}

	if s.auth.AuthorizeSnapshot(snap, r, rel) != auth.Granted {
		writeJSON(w, map[string]any{
			"media":             []media.File{},
			"current_dir":       subdir,
			"protected":         true,
			"top_protected_dir": topDir,
		})
		return
	}

	files := []media.File{}
	if st, err := os.Stat(abs); err == nil && st.IsDir() {
		files, err = media.List(abs, rel)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	requestLog(r).WithFields(logrus.Fields{"dir": rel, "count": len(files)}).Debug("media listed")
	writeJSON(w, map[string]any{
		"media":             files,
		"current_dir":       subdir,
		"protected":         snap.IsProtected(rel),
		"top_protected_dir": topDir,
	})
}

// handleMediaFile serves one media file. Access is decided by the file's
// parent directory. Existence is checked before the extension, so a missing
// file is a 404 whatever its name. Images and audio go out whole, video
// through the bounded range pipeline.
func (s *Server) handleMediaFile(w http.ResponseWriter, r *http.Request) {
	abs, err := s.paths.Resolve(mux.Vars(r)["path"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rel, err := s.paths.Rel(abs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	if err := s.requireAccess(r, dir); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, r, apperr.Wrap(apperr.NotFound, "media file not found", err))
			return
		}
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "reading media file failed", err))
		return
	}
	if !st.Mode().IsRegular() {
		s.writeError(w, r, apperr.New(apperr.NotFound, "media file not found"))
		return
	}
	c, err := media.ClassifyName(abs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if c.Kind == media.Video {
		s.serveVideo(w, r, abs, rel, c)
		return
	}
	s.serveWhole(w, r, abs, c)
}

func (s *Server) serveWhole(w http.ResponseWriter, r *http.Request, abs string, c media.Classification) {
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, r, apperr.Wrap(apperr.NotFound, "media file not found", err))
			return
		}
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "opening media file failed", err))
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		s.writeError(w, r, apperr.New(apperr.NotFound, "media file not found"))
		return
	}
	h := w.Header()
	h.Set("Content-Type", c.ContentType)
	h.Set("Content-Disposition", stream.ContentDisposition("inline", st.Name()))
	if c.Kind == media.Image {
		h.Set("Cache-Control", "max-age=3600")
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) serveVideo(w http.ResponseWriter, r *http.Request, abs, rel string, c media.Classification) {
	st, err := stream.Open(abs, c.ContentType, r.Header.Get("Range"))
	if err != nil {
		var re *stream.RangeError
		if errors.As(err, &re) {
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(re.Size, 10))
			writeJSONStatus(w, http.StatusRequestedRangeNotSatisfiable, errorBody{
				Error:   "range_not_satisfiable",
				Message: "requested range not satisfiable",
			})
			return
		}
		s.writeError(w, r, err)
		return
	}
	defer st.Close()

	win := st.Window()
	log := requestLog(r).WithFields(logrus.Fields{
		"file":  rel,
		"range": win.ContentRange(),
		"size":  humanize.IBytes(uint64(win.Size)),
	})
	n, err := st.WriteTo(r.Context(), w, r.Method == http.MethodHead)
	if err != nil {
		// headers are out; nothing can be reported to the client
		if isClientGone(r.Context(), err) {
			log.WithField("sent", humanize.IBytes(uint64(n))).Warn("client stopped reading stream")
			return
		}
		log.WithError(err).Error("stream aborted")
		return
	}
	log.Debug("stream served")
}

func isClientGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
