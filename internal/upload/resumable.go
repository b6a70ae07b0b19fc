package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"nasmedia/internal/apperr"
	"nasmedia/internal/fsutil"
)

// A minimal resumable upload protocol for large media files:
// - POST  /api/uploads (form: target_dir, filename, size) => {id, offset}
// - PATCH /api/uploads/{id} (Content-Range: bytes <start>-<end>/<total>) body=chunk
// - POST  /api/uploads/{id}/finish => publish into target_dir like a multipart upload
//
// State is stored on disk in <appDir>/uploads/<id>.{part,json}

type Manager struct {
	dir      string
	saver    *Saver
	mu       sync.Mutex
	sessions map[string]*Session
	busy     map[string]bool
}

type Session struct {
	ID        string `json:"id"`
	TargetDir string `json:"target_dir"` // root-relative
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`   // total if known, else -1
	Offset    int64  `json:"offset"` // written bytes
	Created   int64  `json:"created"`
}

func NewManager(appDir string, saver *Saver) (*Manager, error) {
	dir := filepath.Join(appDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		dir:      dir,
		saver:    saver,
		sessions: map[string]*Session{},
		busy:     map[string]bool{},
	}
	_ = m.loadExisting()
	return m, nil
}

func (m *Manager) loadExisting() error {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var s Session
		if json.Unmarshal(b, &s) != nil {
			continue
		}
		if s.ID != "" {
			cp := s
			m.sessions[s.ID] = &cp
		}
	}
	return nil
}

// Create starts a session. The file name is validated up front so
// unsupported formats are refused before any byte is transferred.
func (m *Manager) Create(targetDir, filename string, total int64) (*Session, error) {
	name, _, err := CheckName(filename)
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "creating upload failed", err)
	}
	if total < 0 {
		total = -1
	}
	s := &Session{
		ID:        id,
		TargetDir: fsutil.CleanRelPath(targetDir),
		Filename:  name,
		Size:      total,
		Created:   time.Now().Unix(),
	}
	if err := m.save(s); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "creating upload failed", err)
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	cp := *s
	return &cp, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// acquire marks a session busy so two chunks for the same upload are never
// written at once.
func (m *Manager) acquire(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "upload not found")
	}
	if m.busy[id] {
		return nil, apperr.New(apperr.Conflict, "upload is busy")
	}
	m.busy[id] = true
	return s, nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.busy, id)
	m.mu.Unlock()
}

// Patch appends one chunk. The chunk must start exactly at the current
// offset.
func (m *Manager) Patch(ctx context.Context, id, contentRange string, body io.Reader) (*Session, error) {
	s, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer m.release(id)

	start, end, total, err := parseContentRange(contentRange)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err.Error(), err)
	}
	if start != s.Offset {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("offset mismatch: have %d want %d", s.Offset, start))
	}
	if s.Size >= 0 && total >= 0 && s.Size != total {
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("size mismatch: have %d want %d", s.Size, total))
	}
	limit := s.Size
	if limit < 0 {
		limit = total
	}
	if limit >= 0 && end >= limit {
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("chunk ends past declared size: end=%d size=%d", end, limit))
	}

	partPath := filepath.Join(m.dir, id+".part")
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "writing chunk failed", err)
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "writing chunk failed", err)
	}

	want := (end - start) + 1
	wrote, err := copyCtx(ctx, f, io.LimitReader(body, want))
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "writing chunk failed", err)
	}
	if wrote != want {
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("short chunk: %d != %d", wrote, want))
	}
	if err := f.Sync(); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "writing chunk failed", err)
	}

	m.mu.Lock()
	if s.Size < 0 && total >= 0 {
		s.Size = total
	}
	s.Offset += wrote
	cp := *s
	m.mu.Unlock()
	if err := m.save(&cp); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "writing chunk failed", err)
	}
	return &cp, nil
}

// Finish publishes a complete upload into absDir (the resolved TargetDir)
// and forgets the session.
func (m *Manager) Finish(ctx context.Context, id, absDir string) (Result, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Result{}, err
	}
	defer m.release(id)

	if s.Size >= 0 && s.Offset != s.Size {
		return Result{}, apperr.New(apperr.Conflict, fmt.Sprintf("upload incomplete: offset=%d size=%d", s.Offset, s.Size))
	}
	partPath := filepath.Join(m.dir, id+".part")
	f, err := os.Open(partPath)
	if errors.Is(err, os.ErrNotExist) && s.Offset == 0 {
		// zero-byte upload: no chunk was ever written
		f, err = os.Open(os.DevNull)
	}
	if err != nil {
		return Result{}, apperr.Wrap(apperr.IOFailure, "reading upload failed", err)
	}
	res, err := m.saver.Save(ctx, absDir, s.Filename, f)
	_ = f.Close()
	if err != nil {
		return Result{}, err
	}

	_ = os.Remove(partPath)
	_ = os.Remove(filepath.Join(m.dir, id+".json"))
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return res, nil
}

func (m *Manager) save(s *Session) error {
	b, _ := json.MarshalIndent(s, "", "  ")
	return fsutil.WriteFileAtomic(m.dir, s.ID+".json", b, 0o644)
}

func newID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func parseContentRange(v string) (start, end, total int64, err error) {
	// "bytes <start>-<end>/<total>" where total may be "*"
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, 0, errors.New("missing Content-Range (expected: bytes start-end/total)")
	}
	v = strings.TrimPrefix(v, "bytes ")
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, errors.New("invalid Content-Range")
	}
	rng := parts[0]
	tot := parts[1]
	se := strings.SplitN(rng, "-", 2)
	if len(se) != 2 {
		return 0, 0, 0, errors.New("invalid Content-Range range")
	}
	start, err = strconv.ParseInt(se[0], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, 0, errors.New("invalid Content-Range start")
	}
	end, err = strconv.ParseInt(se[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, 0, errors.New("invalid Content-Range end")
	}
	if tot == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(tot, 10, 64)
		if err != nil || total <= 0 || end >= total {
			return 0, 0, 0, errors.New("invalid Content-Range total")
		}
	}
	return start, end, total, nil
}
