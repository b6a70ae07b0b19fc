package httpserver

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey int

const logKey ctxKey = 0

// requestLog returns the request scoped logger installed by logRequests.
func requestLog(r *http.Request) logrus.FieldLogger {
	if l, ok := r.Context().Value(logKey).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}

// statusRecorder remembers what was written for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
	wrote  bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// logRequests tags each request with an id (a client supplied UUID is kept)
// and writes one access line when the handler returns.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		entry := s.log.WithField("request_id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logKey, logrus.FieldLogger(entry))))

		entry.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.EscapedPath(),
			"status":   rec.status,
			"bytes":    humanize.IBytes(uint64(rec.bytes)),
			"duration": time.Since(start).Round(time.Millisecond).String(),
			"remote":   r.RemoteAddr,
		}).Info("request")
	})
}

// recoverPanics turns a handler panic into a 500 JSON body when nothing has
// been written yet.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			requestLog(r).WithFields(logrus.Fields{
				"panic": v,
				"stack": string(debug.Stack()),
			}).Error("handler panic")
			if rec, ok := w.(*statusRecorder); ok && rec.wrote {
				return
			}
			writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: "io_failure", Message: "internal error"})
		}()
		next.ServeHTTP(w, r)
	})
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Basic hardening / UX.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		// Image handlers override this with their own max-age.
		if strings.HasPrefix(r.URL.Path, "/assets/") {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}
