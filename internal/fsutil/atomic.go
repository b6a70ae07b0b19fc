package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// renameFunc and linkFunc are swapped in tests to simulate failures.
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

// maxUniqueAttempts bounds the name_N probing in LinkUnique.
const maxUniqueAttempts = 10000

// WriteFileAtomic replaces dir/name with data via a same-directory temp file
// and rename, so readers see either the previous or the new content.
func WriteFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := renameFunc(tmpName, dst); err != nil {
		return err
	}
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// CandidateName returns name for n == 0 and "stem_n.ext" otherwise.
func CandidateName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", stem, n, ext)
}

// LinkUnique publishes the finished file src inside dir under the first free
// name among name, stem_1.ext, stem_2.ext, ... and returns the chosen base
// name. Existing files are never overwritten: the name is claimed with a
// hard link (or an exclusive create when links are unsupported), so two
// concurrent uploads cannot pick the same name.
func LinkUnique(src, dir, name string) (string, error) {
	for n := 0; n < maxUniqueAttempts; n++ {
		cand := CandidateName(name, n)
		dst := filepath.Join(dir, cand)

		err := linkFunc(src, dst)
		if err == nil {
			_ = os.Remove(src)
			return cand, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		// Fallback: claim the name exclusively, then move src over the placeholder.
		f, cerr := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if cerr != nil {
			if errors.Is(cerr, fs.ErrExist) {
				continue
			}
			return "", cerr
		}
		_ = f.Close()
		if rerr := renameFunc(src, dst); rerr != nil {
			_ = os.Remove(dst)
			return "", rerr
		}
		return cand, nil
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxUniqueAttempts)
}
