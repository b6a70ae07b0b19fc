package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"nasmedia/internal/apperr"
	"nasmedia/internal/fsutil"
	"nasmedia/internal/media"
)

const copyChunk = 1 << 20

// mediaPerm lets other services on the NAS read uploaded files.
const mediaPerm = 0o644

// Result describes a stored upload.
type Result struct {
	Name string // final base name, possibly suffixed with _N
	Size int64
	Kind media.Kind
}

// Saver writes uploaded media into directories under the media root.
type Saver struct {
	log logrus.FieldLogger
}

func NewSaver(log logrus.FieldLogger) *Saver {
	return &Saver{log: log}
}

// CheckName validates a client file name and classifies it. Nothing is
// written for names that fail here.
func CheckName(filename string) (string, media.Classification, error) {
	name := strings.TrimSpace(filename)
	// browsers on some platforms send full client paths
	name = name[strings.LastIndexAny(name, `/\`)+1:]
	if name == "" || name == "." || name == ".." || strings.Contains(name, "\x00") {
		return "", media.Classification{}, apperr.New(apperr.BadRequest, "no file selected")
	}
	if fsutil.IsHidden(name) {
		return "", media.Classification{}, apperr.New(apperr.BadRequest, "hidden file names are not allowed")
	}
	c, err := media.ClassifyName(name)
	if err != nil {
		return "", media.Classification{}, err
	}
	return name, c, nil
}

// Save streams src into absDir under filename. The data lands in a hidden
// temp file first and is then published under the first free name
// (name.ext, name_1.ext, ...), so a failed or cancelled upload never leaves
// a partial media file behind and existing files are never replaced.
func (s *Saver) Save(ctx context.Context, absDir, filename string, src io.Reader) (Result, error) {
	name, c, err := CheckName(filename)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return Result{}, apperr.Wrap(apperr.IOFailure, "creating target directory failed", err)
	}
	tmp, err := os.CreateTemp(absDir, ".upload-*.part")
	if err != nil {
		return Result{}, apperr.Wrap(apperr.IOFailure, "saving file failed", err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		_ = tmp.Close()
		if !published {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := copyCtx(ctx, tmp, src)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, apperr.Wrap(apperr.BadRequest, "upload cancelled", err)
		}
		return Result{}, apperr.Wrap(apperr.IOFailure, "saving file failed", err)
	}
	if err := tmp.Chmod(mediaPerm); err != nil {
		return Result{}, apperr.Wrap(apperr.IOFailure, "saving file failed", err)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, apperr.Wrap(apperr.IOFailure, "saving file failed", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, apperr.Wrap(apperr.IOFailure, "saving file failed", err)
	}

	final, err := fsutil.LinkUnique(tmpName, absDir, name)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.IOFailure, "saving file failed", err)
	}
	published = true

	s.log.WithFields(logrus.Fields{
		"file": final,
		"kind": c.Kind,
		"size": humanize.Bytes(uint64(n)),
	}).Info("upload stored")
	return Result{Name: final, Size: n, Kind: c.Kind}, nil
}

func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunk)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rn, rerr := src.Read(buf)
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}
