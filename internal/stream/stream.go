// Package stream serves byte windows of video files as 206 Partial Content
// responses, reading the file in bounded chunks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"nasmedia/internal/apperr"
)

const (
	// DefaultWindow is served when the client sends no usable Range header.
	DefaultWindow int64 = 2 << 20
	// ChunkSize bounds each read from disk.
	ChunkSize = 1 << 20
)

// Window is an inclusive byte range [Start, End] of a file of Size bytes.
type Window struct {
	Start int64
	End   int64
	Size  int64
}

func (w Window) Length() int64 {
	if w.Size == 0 {
		return 0
	}
	return w.End - w.Start + 1
}

func (w Window) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", w.Start, w.End, w.Size)
}

// RangeError reports a Range whose start lies beyond the end of the file.
type RangeError struct {
	Size int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range not satisfiable for %d byte file", e.Size)
}

// DefaultFor is the window served without a Range header:
// [0, min(DefaultWindow, size) - 1].
func DefaultFor(size int64) Window {
	if size <= 0 {
		return Window{Size: 0}
	}
	end := DefaultWindow
	if size < end {
		end = size
	}
	return Window{Start: 0, End: end - 1, Size: size}
}

// ParseRange computes the window for a "bytes=<start>-<end>" header.
// An empty start means 0 and an empty end means the last byte; end is
// clamped to the file. Malformed headers fall back to DefaultFor(size).
// Only a start at or beyond the end of a non-empty file is an error.
// Of a multi-range header only the first range is honored.
func ParseRange(header string, size int64) (Window, error) {
	header = strings.TrimSpace(header)
	if header == "" || size <= 0 {
		return DefaultFor(size), nil
	}
	byteRange, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return DefaultFor(size), nil
	}
	if i := strings.IndexByte(byteRange, ','); i >= 0 {
		byteRange = byteRange[:i]
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(byteRange), "-")
	if !ok {
		return DefaultFor(size), nil
	}
	start, end := int64(0), size-1
	var err error
	if s := strings.TrimSpace(startStr); s != "" {
		if start, err = strconv.ParseInt(s, 10, 64); err != nil || start < 0 {
			return DefaultFor(size), nil
		}
	}
	if s := strings.TrimSpace(endStr); s != "" {
		if end, err = strconv.ParseInt(s, 10, 64); err != nil || end < 0 {
			return DefaultFor(size), nil
		}
	}
	if start >= size {
		return Window{}, &RangeError{Size: size}
	}
	if end > size-1 {
		end = size - 1
	}
	if end < start {
		return DefaultFor(size), nil
	}
	return Window{Start: start, End: end, Size: size}, nil
}

// Stream is an opened file plus the window that will be written.
type Stream struct {
	f           *os.File
	name        string
	contentType string
	window      Window
}

// Open stats and opens absPath and resolves the window for rangeHeader.
// Failures here happen before any header is written.
func Open(absPath, contentType, rangeHeader string) (*Stream, error) {
	f, err := os.Open(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(apperr.NotFound, "media file not found", err)
		}
		return nil, apperr.Wrap(apperr.IOFailure, "opening media file failed", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperr.Wrap(apperr.IOFailure, "opening media file failed", err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, apperr.New(apperr.NotFound, "media file not found")
	}
	w, err := ParseRange(rangeHeader, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Stream{
		f:           f,
		name:        filepath.Base(absPath),
		contentType: contentType,
		window:      w,
	}, nil
}

func (s *Stream) Window() Window { return s.window }

func (s *Stream) Close() error { return s.f.Close() }

// WriteTo writes the headers and, unless bodyless is set (HEAD), the window
// in chunks of at most ChunkSize. It stops as soon as ctx is cancelled or the
// client stops reading. Errors returned after the first byte are only
// loggable: the status line has already been sent.
func (s *Stream) WriteTo(ctx context.Context, w http.ResponseWriter, bodyless bool) (int64, error) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", s.contentType)
	h.Set("Content-Disposition", ContentDisposition("inline", s.name))
	h.Set("Content-Length", strconv.FormatInt(s.window.Length(), 10))

	if s.window.Size == 0 {
		w.WriteHeader(http.StatusOK)
		return 0, nil
	}
	h.Set("Content-Range", s.window.ContentRange())
	w.WriteHeader(http.StatusPartialContent)
	if bodyless {
		return 0, nil
	}

	if _, err := s.f.Seek(s.window.Start, io.SeekStart); err != nil {
		return 0, err
	}
	buf := make([]byte, ChunkSize)
	remaining := s.window.Length()
	var written int64
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		rn, err := io.ReadFull(s.f, buf[:n])
		if rn > 0 {
			wn, werr := w.Write(buf[:rn])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			remaining -= int64(rn)
		}
		if err != nil {
			if remaining > 0 {
				return written, fmt.Errorf("file ended %d bytes early: %w", remaining, err)
			}
			break
		}
	}
	return written, nil
}

// ContentDisposition builds an inline/attachment header. Pure ASCII names
// are used as is; other names are percent-encoded. filename* always carries
// the RFC 5987 encoding of the full name.
func ContentDisposition(disposition, name string) string {
	enc := name
	if !isASCII(name) {
		enc = attrEscape(name)
	}
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(enc)
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, disposition, quoted, attrEscape(name))
}

// attrEscape percent-encodes every byte outside the RFC 5987 attr-char set.
func attrEscape(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
