package media

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	// decoders for dimension probing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"nasmedia/internal/apperr"
	"nasmedia/internal/fsutil"
)

// File is one playable file in a directory listing.
type File struct {
	Name      string  `json:"name"`
	Type      Kind    `json:"type"`
	Extension string  `json:"extension"`
	Size      int64   `json:"size"`
	Modified  float64 `json:"modified"` // unix seconds
	Path      string  `json:"path"`     // root-relative, slash separated
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
}

// List returns the supported, non-hidden regular files directly inside
// absDir. relDir is absDir's root-relative path and prefixes each File.Path.
// Files are ordered by name length, then name, which keeps "ep2" before
// "ep10" for uniformly named series.
func List(absDir, relDir string) ([]File, error) {
	ents, err := os.ReadDir(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.NotFound, "directory not found", err)
		}
		return nil, apperr.Wrap(apperr.IOFailure, "reading directory failed", err)
	}
	out := make([]File, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if fsutil.IsHidden(name) || !e.Type().IsRegular() {
			continue
		}
		c, err := ClassifyName(name)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		f := File{
			Name:      name,
			Type:      c.Kind,
			Extension: c.Extension,
			Size:      info.Size(),
			Modified:  float64(info.ModTime().UnixNano()) / 1e9,
			Path:      joinRel(relDir, name),
		}
		if c.Kind == Image {
			if w, h, err := ImageSize(filepath.Join(absDir, name)); err == nil {
				f.Width, f.Height = w, h
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(out[i].Name), utf8.RuneCountInString(out[j].Name)
		if li != lj {
			return li < lj
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ImageSize reads only the image header to report its dimensions.
func ImageSize(absPath string) (int, int, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
