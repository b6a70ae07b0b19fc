package media

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"nasmedia/internal/apperr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		ext  string
		kind Kind
		ct   string
	}{
		{".mp4", Video, "video/mp4"},
		{".MKV", Video, "video/x-matroska"},
		{"mov", Video, "video/quicktime"},
		{".mpg", Video, "video/mpeg"},
		{".m4v", Video, "video/x-m4v"},
		{".JPG", Image, "image/jpeg"},
		{".tif", Image, "image/tiff"},
		{".webp", Image, "image/webp"},
		{".mp3", Audio, "audio/mpeg"},
		{".m4a", Audio, "audio/mp4"},
		{".Flac", Audio, "audio/flac"},
		{".alac", Audio, "audio/alac"},
	}
	for _, c := range cases {
		got, err := Classify(c.ext)
		if err != nil {
			t.Fatalf("Classify(%q): %v", c.ext, err)
		}
		if got.Kind != c.kind || got.ContentType != c.ct {
			t.Errorf("Classify(%q)=%+v want kind=%s ct=%s", c.ext, got, c.kind, c.ct)
		}
	}
}

func TestClassify_Unsupported(t *testing.T) {
	for _, ext := range []string{".txt", "", ".mp4.exe", ".svg", ".html"} {
		_, err := Classify(ext)
		if !apperr.Is(err, apperr.UnsupportedFormat) {
			t.Errorf("Classify(%q): want UnsupportedFormat, got %v", ext, err)
		}
	}
	if _, err := ClassifyName("notes.txt"); !apperr.Is(err, apperr.UnsupportedFormat) {
		t.Errorf("ClassifyName(notes.txt): %v", err)
	}
	if c, err := ClassifyName("Holiday.Clip.MP4"); err != nil || c.Extension != ".mp4" {
		t.Errorf("ClassifyName(Holiday.Clip.MP4)=%+v err=%v", c, err)
	}
}

func TestExtensionsComplete(t *testing.T) {
	if n := len(Extensions()); n != 27 {
		t.Fatalf("expected 27 extensions, got %d", n)
	}
}

func writePNG(t *testing.T, p string, w, h int) {
	t.Helper()
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"ep10.mp4":    "0123456789",
		"ep2.mp4":     "01",
		"song.mp3":    "abc",
		"notes.txt":   "skip me",
		".hidden.mp4": "skip me",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(dir, "cover.png"), 40, 30)

	files, err := List(dir, "shows/s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	want := []string{"ep2.mp4", "ep10.mp4", "song.mp3", "cover.png"}
	if len(names) != len(want) {
		t.Fatalf("names=%v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names=%v want %v", names, want)
		}
	}

	ep10 := files[1]
	if ep10.Type != Video || ep10.Extension != ".mp4" || ep10.Size != 10 || ep10.Path != "shows/s1/ep10.mp4" {
		t.Fatalf("ep10=%+v", ep10)
	}
	if ep10.Modified <= 0 {
		t.Fatalf("modified not set")
	}
	cover := files[3]
	if cover.Type != Image || cover.Width != 40 || cover.Height != 30 {
		t.Fatalf("cover=%+v", cover)
	}
}

func TestList_RootPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	files, err := List(dir, "")
	if err != nil || len(files) != 1 || files[0].Path != "a.mp3" {
		t.Fatalf("files=%+v err=%v", files, err)
	}
}

func TestList_Missing(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "nope"), "nope")
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}
