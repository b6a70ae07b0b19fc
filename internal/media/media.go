// Package media classifies files by extension and lists the playable files
// of a directory.
package media

import (
	"path/filepath"
	"sort"
	"strings"

	"nasmedia/internal/apperr"
)

type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
	Image Kind = "image"
)

type format struct {
	kind        Kind
	contentType string
}

// formats is the complete set of served extensions. There is no content
// sniffing: anything missing here is unsupported.
var formats = map[string]format{
	".mp4":  {Video, "video/mp4"},
	".avi":  {Video, "video/x-msvideo"},
	".mkv":  {Video, "video/x-matroska"},
	".webm": {Video, "video/webm"},
	".mov":  {Video, "video/quicktime"},
	".flv":  {Video, "video/x-flv"},
	".wmv":  {Video, "video/x-ms-wmv"},
	".mpeg": {Video, "video/mpeg"},
	".mpg":  {Video, "video/mpeg"},
	".m4v":  {Video, "video/x-m4v"},

	".jpg":  {Image, "image/jpeg"},
	".jpeg": {Image, "image/jpeg"},
	".png":  {Image, "image/png"},
	".gif":  {Image, "image/gif"},
	".bmp":  {Image, "image/bmp"},
	".webp": {Image, "image/webp"},
	".tiff": {Image, "image/tiff"},
	".tif":  {Image, "image/tiff"},

	".mp3":  {Audio, "audio/mpeg"},
	".wav":  {Audio, "audio/wav"},
	".ogg":  {Audio, "audio/ogg"},
	".flac": {Audio, "audio/flac"},
	".aac":  {Audio, "audio/aac"},
	".m4a":  {Audio, "audio/mp4"},
	".wma":  {Audio, "audio/x-ms-wma"},
	".ape":  {Audio, "audio/ape"},
	".alac": {Audio, "audio/alac"},
}

// Classification is the result of a successful Classify.
type Classification struct {
	Kind        Kind
	Extension   string // lower case, with the leading dot
	ContentType string
}

// Classify maps an extension (".MP4", "mp4") to its kind and content type.
// Unknown extensions fail with apperr.UnsupportedFormat.
func Classify(ext string) (Classification, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	f, ok := formats[ext]
	if !ok {
		if ext == "" {
			return Classification{}, apperr.New(apperr.UnsupportedFormat, "unsupported format: no extension")
		}
		return Classification{}, apperr.New(apperr.UnsupportedFormat, "unsupported format: "+ext)
	}
	return Classification{Kind: f.kind, Extension: ext, ContentType: f.contentType}, nil
}

// ClassifyName classifies a file name by its extension.
func ClassifyName(name string) (Classification, error) {
	return Classify(filepath.Ext(name))
}

// Extensions lists every supported extension, sorted.
func Extensions() []string {
	out := make([]string, 0, len(formats))
	for ext := range formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
