package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"nasmedia/internal/apperr"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError is the only place an error becomes a response. Messages come
// from apperr.Message, so wrapped OS errors and absolute paths stay in the
// log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		kind = apperr.IOFailure
	}
	status := kind.Status()

	entry := requestLog(r).WithFields(logrus.Fields{"kind": kind.String(), "status": status})
	switch {
	case status >= http.StatusInternalServerError:
		entry.WithError(err).Error("request failed")
	case kind == apperr.PathEscape:
		entry.WithError(err).Warn("path escape rejected")
	default:
		entry.WithError(err).Debug("request rejected")
	}
	writeJSONStatus(w, status, errorBody{Error: kind.String(), Message: apperr.Message(err)})
}
