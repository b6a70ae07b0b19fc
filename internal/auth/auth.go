// Package auth decides whether a request may access a path under the media
// root, based on per-directory cookies issued after password verification.
package auth

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"nasmedia/internal/fsutil"
	"nasmedia/internal/protect"
)

// DefaultTTL bounds how long a directory cookie stays valid.
const DefaultTTL = time.Hour

// KeyFile holds the cookie signing and encryption keys inside the app dir.
const KeyFile = "cookie.key"

const hashValue = "password_hash"

type Decision int

const (
	Denied Decision = iota
	Granted
)

func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "denied"
}

// CookieName derives the cookie key for a protected directory. Hashing keeps
// arbitrary path characters out of the cookie name.
func CookieName(dir string) string {
	sum := sha256.Sum256([]byte(fsutil.CleanRelPath(dir)))
	return "auth_" + hex.EncodeToString(sum[:])[:32]
}

type Authorizer struct {
	reg   *protect.Registry
	store *sessions.CookieStore
	ttl   time.Duration
	log   logrus.FieldLogger
}

// New builds an Authorizer. key must be 64 bytes: the first half signs
// cookies, the second half encrypts them.
func New(reg *protect.Registry, key []byte, ttl time.Duration, log logrus.FieldLogger) (*Authorizer, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("cookie key must be 64 bytes, got %d", len(key))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	store := sessions.NewCookieStore(key[:32], key[32:])
	store.MaxAge(int(ttl / time.Second))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Authorizer{reg: reg, store: store, ttl: ttl, log: log}, nil
}

// Authorize answers for path p (a root-relative directory) using a fresh
// registry snapshot.
func (a *Authorizer) Authorize(r *http.Request, p string) (Decision, error) {
	snap, err := a.reg.Snapshot()
	if err != nil {
		return Denied, err
	}
	return a.AuthorizeSnapshot(snap, r, p), nil
}

// AuthorizeSnapshot is Authorize against an already loaded snapshot.
func (a *Authorizer) AuthorizeSnapshot(snap protect.Snapshot, r *http.Request, p string) Decision {
	top, ok := snap.TopProtectedAncestor(p)
	if !ok {
		return Granted
	}
	stored, ok := snap.PasswordHash(top)
	if !ok {
		return Granted
	}
	carried, ok := a.carriedHash(r, top)
	if !ok {
		a.log.WithFields(logrus.Fields{"path": p, "protected_dir": top}).Debug("directory access denied: no valid cookie")
		return Denied
	}
	if subtle.ConstantTimeCompare([]byte(carried), []byte(stored)) != 1 {
		a.log.WithFields(logrus.Fields{"path": p, "protected_dir": top}).Debug("directory access denied: stale cookie")
		return Denied
	}
	return Granted
}

func (a *Authorizer) carriedHash(r *http.Request, dir string) (string, bool) {
	if _, err := r.Cookie(CookieName(dir)); err != nil {
		return "", false
	}
	sess, err := a.store.New(r, CookieName(dir))
	if err != nil || sess.IsNew {
		return "", false
	}
	v, ok := sess.Values[hashValue].(string)
	return v, ok && v != ""
}

// Unlock verifies password for dir against its top protected ancestor and,
// on success, sets the ancestor's cookie. It returns the ancestor ("" when
// dir is not protected) and whether the password matched.
func (a *Authorizer) Unlock(w http.ResponseWriter, r *http.Request, dir, password string) (string, bool, error) {
	snap, err := a.reg.Snapshot()
	if err != nil {
		return "", false, err
	}
	top, ok := snap.TopProtectedAncestor(dir)
	if !ok {
		return "", true, nil
	}
	stored, _ := snap.PasswordHash(top)
	if !protect.CheckPassword(stored, password) {
		a.log.WithField("protected_dir", top).Warn("directory password rejected")
		return top, false, nil
	}

	sess, _ := a.store.New(r, CookieName(top))
	sess.Values[hashValue] = stored
	if err := a.store.Save(r, w, sess); err != nil {
		return top, false, err
	}
	a.log.WithField("protected_dir", top).Info("directory unlocked")
	return top, true, nil
}

// Lock clears the cookie for dir's top protected ancestor.
func (a *Authorizer) Lock(w http.ResponseWriter, r *http.Request, dir string) (string, error) {
	top, ok, err := a.reg.TopProtectedAncestor(dir)
	if err != nil || !ok {
		return "", err
	}
	sess, _ := a.store.New(r, CookieName(top))
	sess.Options.MaxAge = -1
	if err := a.store.Save(r, w, sess); err != nil {
		return top, err
	}
	a.log.WithField("protected_dir", top).Info("directory locked")
	return top, nil
}

// LoadOrCreateKey returns the 64-byte cookie key. A non-empty secret is
// stretched with SHA-512; otherwise the key is read from <appDir>/cookie.key
// and generated on first use.
func LoadOrCreateKey(appDir, secret string) ([]byte, error) {
	if secret != "" {
		sum := sha512.Sum512([]byte(secret))
		return sum[:], nil
	}
	p := filepath.Join(appDir, KeyFile)
	b, err := os.ReadFile(p)
	if err == nil && len(b) == 64 {
		return b, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key := securecookie.GenerateRandomKey(64)
	if key == nil {
		return nil, errors.New("generate cookie key: no randomness")
	}
	if err := fsutil.WriteFileAtomic(appDir, KeyFile, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
