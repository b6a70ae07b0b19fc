package stream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nasmedia/internal/apperr"
)

func TestParseRange(t *testing.T) {
	const size = 1000
	cases := []struct {
		header     string
		start, end int64
	}{
		{"", 0, 999},
		{"bytes=100-199", 100, 199},
		{"bytes=100-", 100, 999},
		{"bytes=-199", 0, 199},
		{"bytes=0-0", 0, 0},
		{"bytes=500-5000", 500, 999},
		{"bytes= 10 - 20 ", 10, 20},
		{"bytes=10-20,30-40", 10, 20},
		// malformed: default window (whole 1000-byte file here)
		{"bytes=abc-def", 0, 999},
		{"bytes=200-100", 0, 999},
		{"items=0-10", 0, 999},
		{"bytes=10", 0, 999},
		{"garbage", 0, 999},
	}
	for _, c := range cases {
		w, err := ParseRange(c.header, size)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", c.header, err)
		}
		if w.Start != c.start || w.End != c.end || w.Size != size {
			t.Errorf("ParseRange(%q)=%+v want %d-%d", c.header, w, c.start, c.end)
		}
	}
}

func TestParseRange_Unsatisfiable(t *testing.T) {
	_, err := ParseRange("bytes=1000-", 1000)
	var re *RangeError
	if !errors.As(err, &re) || re.Size != 1000 {
		t.Fatalf("want RangeError, got %v", err)
	}
}

func TestDefaultFor(t *testing.T) {
	cases := []struct {
		size int64
		end  int64
		n    int64
	}{
		{10 << 20, DefaultWindow - 1, DefaultWindow},
		{DefaultWindow, DefaultWindow - 1, DefaultWindow},
		{1000, 999, 1000},
		{1, 0, 1},
		{0, 0, 0},
	}
	for _, c := range cases {
		w := DefaultFor(c.size)
		if w.Start != 0 || w.End != c.end || w.Length() != c.n {
			t.Errorf("DefaultFor(%d)=%+v len=%d", c.size, w, w.Length())
		}
	}
}

func writeFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	p := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p, data
}

func serve(t *testing.T, p, rangeHeader string, head bool) *httptest.ResponseRecorder {
	t.Helper()
	s, err := Open(p, "video/mp4", rangeHeader)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	rec := httptest.NewRecorder()
	if _, err := s.WriteTo(context.Background(), rec, head); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return rec
}

func TestWriteTo_ExplicitRange(t *testing.T) {
	p, data := writeFile(t, 1000)
	rec := serve(t, p, "bytes=100-199", false)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status=%d", rec.Code)
	}
	h := rec.Header()
	if got := h.Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Fatalf("Content-Range=%q", got)
	}
	if got := h.Get("Content-Length"); got != "100" {
		t.Fatalf("Content-Length=%q", got)
	}
	if h.Get("Accept-Ranges") != "bytes" || h.Get("Content-Type") != "video/mp4" {
		t.Fatalf("headers=%v", h)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[100:200]) {
		t.Fatalf("body mismatch")
	}
}

func TestWriteTo_NoRangeLargeFile(t *testing.T) {
	p, data := writeFile(t, 10<<20)
	rec := serve(t, p, "", false)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec.Body.Len() != int(DefaultWindow) {
		t.Fatalf("body len=%d want %d", rec.Body.Len(), DefaultWindow)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[:DefaultWindow]) {
		t.Fatalf("body mismatch")
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-2097151/10485760" {
		t.Fatalf("Content-Range=%q", got)
	}
}

func TestWriteTo_MultiChunkWindow(t *testing.T) {
	p, data := writeFile(t, 3*ChunkSize+123)
	rec := serve(t, p, "bytes=5-", false)
	if !bytes.Equal(rec.Body.Bytes(), data[5:]) {
		t.Fatalf("body mismatch: got %d bytes", rec.Body.Len())
	}
}

func TestWriteTo_Head(t *testing.T) {
	p, _ := writeFile(t, 1000)
	rec := serve(t, p, "bytes=0-9", true)
	if rec.Code != http.StatusPartialContent || rec.Body.Len() != 0 {
		t.Fatalf("status=%d body=%d", rec.Code, rec.Body.Len())
	}
	if rec.Header().Get("Content-Length") != "10" {
		t.Fatalf("Content-Length=%q", rec.Header().Get("Content-Length"))
	}
}

func TestWriteTo_EmptyFile(t *testing.T) {
	p, _ := writeFile(t, 0)
	rec := serve(t, p, "bytes=0-100", false)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("status=%d body=%d", rec.Code, rec.Body.Len())
	}
}

func TestWriteTo_CancelledContext(t *testing.T) {
	p, _ := writeFile(t, 3*ChunkSize)
	s, err := Open(p, "video/mp4", "bytes=0-")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	n, err := s.WriteTo(ctx, rec, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if n != 0 {
		t.Fatalf("wrote %d bytes after cancel", n)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "missing.mp4"), "video/mp4", ""); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("missing: %v", err)
	}
	if _, err := Open(dir, "video/mp4", ""); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("directory: %v", err)
	}
	p, _ := writeFile(t, 10)
	var re *RangeError
	if _, err := Open(p, "video/mp4", "bytes=50-60"); !errors.As(err, &re) {
		t.Fatalf("unsatisfiable: %v", err)
	}
}

func TestContentDisposition(t *testing.T) {
	got := ContentDisposition("inline", "movie.mp4")
	if got != `inline; filename="movie.mp4"; filename*=UTF-8''movie.mp4` {
		t.Fatalf("ascii: %q", got)
	}
	got = ContentDisposition("inline", "电影 1.mp4")
	if strings.ContainsAny(got, "电影") {
		t.Fatalf("non-ascii leaked into header: %q", got)
	}
	if !strings.Contains(got, `filename="%E7%94%B5%E5%BD%B1%201.mp4"`) {
		t.Fatalf("non-ascii: %q", got)
	}
	got = ContentDisposition("attachment", `a"b.mp4`)
	if !strings.Contains(got, `filename="a\"b.mp4"`) {
		t.Fatalf("quote escaping: %q", got)
	}

	got = ContentDisposition("inline", "a=b:c@d e.mp4")
	if !strings.HasSuffix(got, `filename*=UTF-8''a%3Db%3Ac%40d%20e.mp4`) {
		t.Fatalf("attr-char encoding: %q", got)
	}
	got = ContentDisposition("inline", "x!#$&+-.^_`|~.mp3")
	if !strings.HasSuffix(got, "filename*=UTF-8''x!#$&+-.^_`|~.mp3") {
		t.Fatalf("attr-char kept: %q", got)
	}
}
