package httpserver

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"nasmedia/internal/apperr"
	"nasmedia/internal/auth"
	"nasmedia/internal/config"
	"nasmedia/internal/fsutil"
	"nasmedia/internal/protect"
	"nasmedia/internal/upload"
)

type Options struct {
	Config config.Config
	Log    *logrus.Logger

	// BcryptCost overrides the registry hashing cost; 0 keeps the default.
	BcryptCost int
}

type Server struct {
	cfg     config.Config
	log     *logrus.Logger
	paths   *fsutil.Resolver
	reg     *protect.Registry
	auth    *auth.Authorizer
	saver   *upload.Saver
	uploads *upload.Manager

	webFS fs.FS
}

//go:embed web/index.html web/assets/*
var embeddedWeb embed.FS

// maxMemory is the part of a multipart upload kept in memory; the rest is
// spooled to disk by net/http.
const maxMemory = 32 << 20

func New(opts Options) (*Server, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	paths, err := fsutil.NewResolver(opts.Config.Root)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	var regOpts []protect.Option
	if opts.BcryptCost != 0 {
		regOpts = append(regOpts, protect.WithCost(opts.BcryptCost))
	}
	reg, err := protect.Open(opts.Config.AppDir, log, regOpts...)
	if err != nil {
		return nil, err
	}
	key, err := auth.LoadOrCreateKey(opts.Config.AppDir, opts.Config.CookieKey)
	if err != nil {
		return nil, fmt.Errorf("cookie key: %w", err)
	}
	authz, err := auth.New(reg, key, auth.DefaultTTL, log)
	if err != nil {
		return nil, err
	}
	saver := upload.NewSaver(log)
	up, err := upload.NewManager(opts.Config.AppDir, saver)
	if err != nil {
		return nil, err
	}
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     opts.Config,
		log:     log,
		paths:   paths,
		reg:     reg,
		auth:    authz,
		saver:   saver,
		uploads: up,
		webFS:   sub,
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	// Handlers see raw percent-encoding so the resolver decodes exactly once.
	r.UseEncodedPath()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, apperr.New(apperr.NotFound, "not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Message: "method not allowed"})
	})

	// health
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	}).Methods(http.MethodGet, http.MethodHead)

	// static assets
	assets, _ := fs.Sub(s.webFS, "assets")
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", http.FileServer(http.FS(assets))))

	// UI index
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/directories", s.handleDirectories).Methods(http.MethodGet)
	api.HandleFunc("/all-directories", s.handleAllDirectories).Methods(http.MethodGet)
	api.HandleFunc("/protected-directories", s.handleProtectedDirs).Methods(http.MethodGet)
	api.HandleFunc("/media", s.handleMediaList).Methods(http.MethodGet)
	api.HandleFunc("/media/{path:.+}", s.handleMediaFile).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/verify-dir-password", s.handleVerifyPassword).Methods(http.MethodPost)
	api.HandleFunc("/clear-dir-auth", s.handleClearAuth).Methods(http.MethodPost)
	api.HandleFunc("/create-directory", s.handleCreateDirectory).Methods(http.MethodPost)
	api.HandleFunc("/upload-media", s.handleUploadMedia).Methods(http.MethodPost)

	// resumable uploads
	api.HandleFunc("/uploads", s.handleUploadCreate).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}", s.handleUploadStatus).Methods(http.MethodGet)
	api.HandleFunc("/uploads/{id}", s.handleUploadPatch).Methods(http.MethodPatch)
	api.HandleFunc("/uploads/{id}/finish", s.handleUploadFinish).Methods(http.MethodPost)

	return withHeaders(s.logRequests(s.recoverPanics(r)))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	b, err := fs.ReadFile(s.webFS, "index.html")
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "missing ui", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

// resolveDir resolves an already decoded client directory path. It returns
// the absolute path and its canonical root-relative form, which is what
// protection is checked against so a symlink cannot sidestep a password.
func (s *Server) resolveDir(raw string) (string, string, error) {
	abs, err := s.paths.ResolveDecoded(strings.TrimSpace(raw))
	if err != nil {
		return "", "", err
	}
	rel, err := s.paths.Rel(abs)
	if err != nil {
		return "", "", err
	}
	return abs, rel, nil
}

// requireAccess fails with apperr.Unauthorized unless the request may
// access rel.
func (s *Server) requireAccess(r *http.Request, rel string) error {
	d, err := s.auth.Authorize(r, rel)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, "reading password registry failed", err)
	}
	if d != auth.Granted {
		return apperr.New(apperr.Unauthorized, "password required for this directory")
	}
	return nil
}

func (s *Server) handleProtectedDirs(w http.ResponseWriter, r *http.Request) {
	dirs, err := s.reg.Dirs()
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "reading password registry failed", err))
		return
	}
	if dirs == nil {
		dirs = []string{}
	}
	writeJSON(w, map[string]any{"protected_dirs": dirs})
}

func (s *Server) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	_, rel, err := s.resolveDir(r.FormValue("dir_path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	top, ok, err := s.auth.Unlock(w, r, rel, r.FormValue("password"))
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "verification failed", err))
		return
	}
	switch {
	case top == "":
		writeJSON(w, map[string]any{"success": true, "message": "directory is not protected"})
	case !ok:
		writeJSON(w, map[string]any{"success": false, "message": "incorrect password"})
	default:
		writeJSON(w, map[string]any{"success": true, "message": "password accepted", "protected_dir": top})
	}
}

func (s *Server) handleClearAuth(w http.ResponseWriter, r *http.Request) {
	_, rel, err := s.resolveDir(r.FormValue("dir_path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	top, err := s.auth.Lock(w, r, rel)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "clearing access failed", err))
		return
	}
	if top == "" {
		writeJSON(w, map[string]any{"success": true, "message": "directory is not protected"})
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "access cleared", "protected_dir": top})
}

const invalidDirChars = `/\:*?"<>|`

func checkDirName(name string) error {
	switch {
	case name == "":
		return apperr.New(apperr.BadRequest, "directory name is required")
	case strings.ContainsAny(name, invalidDirChars) || strings.Contains(name, "\x00"):
		return apperr.New(apperr.BadRequest, `directory name contains invalid characters (/\:*?"<>|)`)
	case name == "." || name == "..":
		return apperr.New(apperr.BadRequest, "invalid directory name")
	case fsutil.IsHidden(name):
		return apperr.New(apperr.BadRequest, "directory name must not start with a dot")
	}
	return nil
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("new_dir"))
	if err := checkDirName(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	parentAbs, parentRel, err := s.resolveDir(r.FormValue("target_path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st, err := os.Stat(parentAbs); err != nil || !st.IsDir() {
		s.writeError(w, r, apperr.New(apperr.NotFound, "parent directory not found"))
		return
	}
	if err := s.requireAccess(r, parentRel); err != nil {
		s.writeError(w, r, err)
		return
	}

	target := filepath.Join(parentAbs, name)
	if err := os.Mkdir(target, 0o755); err != nil {
		switch {
		case errors.Is(err, os.ErrExist):
			s.writeError(w, r, apperr.Wrap(apperr.Conflict, "directory already exists: "+name, err))
		case errors.Is(err, os.ErrPermission):
			s.writeError(w, r, apperr.Wrap(apperr.Unauthorized, "no write permission on parent directory", err))
		default:
			s.writeError(w, r, apperr.Wrap(apperr.IOFailure, "creating directory failed", err))
		}
		return
	}
	rel := joinRel(parentRel, name)

	password := strings.TrimSpace(r.FormValue("dir_password"))
	msg := "directory created: " + name
	if password != "" {
		if err := s.reg.SetPassword(rel, password); err != nil {
			_ = os.Remove(target)
			s.writeError(w, r, err)
			return
		}
		msg += " (password protected)"
	}
	requestLog(r).WithFields(logrus.Fields{"dir": rel, "protected": password != ""}).Info("directory created")
	writeJSON(w, map[string]any{
		"success":   true,
		"message":   msg,
		"path":      rel,
		"protected": password != "",
	})
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}

func parseSize(v string) (int64, error) {
	if strings.TrimSpace(v) == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.BadRequest, "invalid size", err)
	}
	return n, nil
}
