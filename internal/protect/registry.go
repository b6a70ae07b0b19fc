// Package protect owns the directory password registry: a single JSON file
// mapping root-relative directory paths to password hashes.
package protect

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"nasmedia/internal/apperr"
	"nasmedia/internal/fsutil"
)

// FileName is the registry file inside the app dir.
const FileName = "dir_passwords.json"

const (
	readAttempts = 3
	readBackoff  = 20 * time.Millisecond
)

// Record is one protected directory as persisted on disk.
type Record struct {
	PasswordHash string `json:"password_hash"`
	CreatedAt    string `json:"created_at"`
}

type Registry struct {
	dir  string
	path string
	cost int
	log  logrus.FieldLogger

	// mu serializes read-modify-write cycles; readers never take it.
	mu sync.Mutex
}

type Option func(*Registry)

// WithCost sets the bcrypt cost used for new hashes.
func WithCost(cost int) Option {
	return func(r *Registry) { r.cost = cost }
}

// Open prepares <appDir>/dir_passwords.json, creating it as "{}" when missing
// and resetting it when it cannot be parsed.
func Open(appDir string, log logrus.FieldLogger, opts ...Option) (*Registry, error) {
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return nil, err
	}
	r := &Registry{
		dir:  appDir,
		path: filepath.Join(appDir, FileName),
		cost: bcrypt.DefaultCost,
		log:  log,
	}
	for _, o := range opts {
		o(r)
	}

	b, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := r.write(map[string]Record{}); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		var raw map[string]Record
		if json.Unmarshal(b, &raw) != nil {
			r.log.WithField("file", r.path).Warn("password registry unreadable, resetting to empty")
			if err := r.write(map[string]Record{}); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Registry) Path() string { return r.path }

// Snapshot reads the current registry version.
func (r *Registry) Snapshot() (Snapshot, error) {
	recs, err := r.load()
	if err != nil {
		return nil, err
	}
	return Snapshot(recs), nil
}

// SetPassword protects dir (creating or replacing its record) with a bcrypt
// hash of password.
func (r *Registry) SetPassword(dir, password string) error {
	dir = fsutil.CleanRelPath(dir)
	if dir == "" {
		return apperr.New(apperr.BadRequest, "the media root cannot be password protected")
	}
	if strings.TrimSpace(password) == "" {
		return apperr.New(apperr.BadRequest, "password must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), r.cost)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, "password cannot be hashed", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	recs, err := r.load()
	if err != nil {
		return err
	}
	recs[dir] = Record{
		PasswordHash: string(h),
		CreatedAt:    time.Now().Format(time.RFC3339),
	}
	if err := r.write(recs); err != nil {
		return apperr.Wrap(apperr.IOFailure, "saving password failed", err)
	}
	r.log.WithField("dir", dir).Info("directory password set")
	return nil
}

// Remove unprotects dir. Removing an unknown directory is not an error.
func (r *Registry) Remove(dir string) error {
	dir = fsutil.CleanRelPath(dir)
	r.mu.Lock()
	defer r.mu.Unlock()
	recs, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := recs[dir]; !ok {
		return nil
	}
	delete(recs, dir)
	if err := r.write(recs); err != nil {
		return apperr.Wrap(apperr.IOFailure, "saving password registry failed", err)
	}
	r.log.WithField("dir", dir).Info("directory protection removed")
	return nil
}

func (r *Registry) IsProtected(p string) (bool, error) {
	s, err := r.Snapshot()
	if err != nil {
		return false, err
	}
	return s.IsProtected(p), nil
}

func (r *Registry) TopProtectedAncestor(p string) (string, bool, error) {
	s, err := r.Snapshot()
	if err != nil {
		return "", false, err
	}
	top, ok := s.TopProtectedAncestor(p)
	return top, ok, nil
}

func (r *Registry) PasswordHash(dir string) (string, bool, error) {
	s, err := r.Snapshot()
	if err != nil {
		return "", false, err
	}
	h, ok := s.PasswordHash(dir)
	return h, ok, nil
}

func (r *Registry) Dirs() ([]string, error) {
	s, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.Dirs(), nil
}

// Verify checks password against the hash of dir's top protected ancestor.
// Unprotected directories always verify.
func (r *Registry) Verify(dir, password string) (bool, error) {
	s, err := r.Snapshot()
	if err != nil {
		return false, err
	}
	top, ok := s.TopProtectedAncestor(dir)
	if !ok {
		return true, nil
	}
	h, _ := s.PasswordHash(top)
	return CheckPassword(h, password), nil
}

// CheckPassword compares password with a stored hash. Besides bcrypt it
// accepts the unsalted SHA-256 hex digests older registry files contain.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return true
	}
	if isLegacyHash(hash) {
		sum := sha256.Sum256([]byte(password))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(hash))) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func isLegacyHash(h string) bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// load reads the registry file. A file caught mid-replace on platforms
// without atomic rename is retried a few times before giving up.
func (r *Registry) load() (map[string]Record, error) {
	var lastErr error
	for i := 0; i < readAttempts; i++ {
		if i > 0 {
			time.Sleep(readBackoff)
		}
		b, err := os.ReadFile(r.path)
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Record{}, nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		var raw map[string]Record
		if err := json.Unmarshal(b, &raw); err != nil {
			lastErr = err
			continue
		}
		recs := make(map[string]Record, len(raw))
		for k, v := range raw {
			k = fsutil.CleanRelPath(k)
			if k == "" || v.PasswordHash == "" {
				continue
			}
			recs[k] = v
		}
		return recs, nil
	}
	return nil, apperr.Wrap(apperr.IOFailure, "password registry unreadable", lastErr)
}

func (r *Registry) write(recs map[string]Record) error {
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(r.dir, FileName, b, 0o600)
}
