package httpserver

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"nasmedia/internal/apperr"
	"nasmedia/internal/upload"
)

func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.BadRequest, "invalid multipart body", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	absDir, rel, err := s.resolveDir(r.FormValue("target_dir"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.requireAccess(r, rel); err != nil {
		s.writeError(w, r, err)
		return
	}
	fh := firstFile(r.MultipartForm)
	if fh == nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "no file selected"))
		return
	}
	if _, _, err := upload.CheckName(fh.Filename); err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := fh.Open()
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.BadRequest, "reading upload failed", err))
		return
	}
	defer src.Close()

	res, err := s.saver.Save(r.Context(), absDir, fh.Filename, src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, uploadResponse(res, rel))
}

func uploadResponse(res upload.Result, rel string) map[string]any {
	return map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("%s file %s uploaded", res.Kind, res.Name),
		"filename": res.Name,
		"path":     rel,
		"size":     res.Size,
	}
}

func firstFile(mf *multipart.Form) *multipart.FileHeader {
	if mf == nil || len(mf.File) == 0 {
		return nil
	}
	// Prefer key "file" if present.
	if v := mf.File["file"]; len(v) > 0 {
		return v[0]
	}
	// Else first key lexicographically for stable behavior.
	keys := make([]string, 0, len(mf.File))
	for k := range mf.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := mf.File[k]; len(v) > 0 {
			return v[0]
		}
	}
	return nil
}

func sessionJSON(sess *upload.Session) map[string]any {
	return map[string]any{
		"id":         sess.ID,
		"target_dir": sess.TargetDir,
		"filename":   sess.Filename,
		"offset":     sess.Offset,
		"size":       sess.Size,
	}
}

func (s *Server) handleUploadCreate(w http.ResponseWriter, r *http.Request) {
	_, rel, err := s.resolveDir(r.FormValue("target_dir"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.requireAccess(r, rel); err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := parseSize(r.FormValue("size"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.uploads.Create(rel, r.FormValue("filename"), total)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	requestLog(r).WithField("upload", sess.ID).Info("resumable upload started")
	writeJSON(w, sessionJSON(sess))
}

// uploadSession loads the session named in the URL and checks that the
// request may still write to its target directory.
func (s *Server) uploadSession(r *http.Request) (*upload.Session, error) {
	sess, ok := s.uploads.Get(mux.Vars(r)["id"])
	if !ok {
		return nil, apperr.New(apperr.NotFound, "upload not found")
	}
	if err := s.requireAccess(r, sess.TargetDir); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.uploadSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, sessionJSON(sess))
}

func (s *Server) handleUploadPatch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.uploadSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err = s.uploads.Patch(r.Context(), sess.ID, r.Header.Get("Content-Range"), r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, sessionJSON(sess))
}

func (s *Server) handleUploadFinish(w http.ResponseWriter, r *http.Request) {
	sess, err := s.uploadSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	absDir, rel, err := s.resolveDir(sess.TargetDir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.uploads.Finish(r.Context(), sess.ID, absDir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, uploadResponse(res, rel))
}
