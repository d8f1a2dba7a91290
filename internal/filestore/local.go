package filestore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/voterimport/internal/errors"
)

// Local serves files below a base directory. Absolute keys bypass the base.
type Local struct {
	baseDir string
}

// NewLocal returns a store rooted at baseDir ("." when empty).
func NewLocal(baseDir string) *Local {
	if baseDir == "" {
		baseDir = "."
	}
	return &Local{baseDir: baseDir}
}

func (l *Local) resolve(key string) string {
	p := filepath.FromSlash(key)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.baseDir, p)
}

func localCategory(err error) errors.ErrorCategory {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.CategoryNotFound
	}
	return errors.CategoryFileIO
}

// Open opens key for reading.
func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.resolve(key))
	if err != nil {
		return nil, storeError(err, localCategory(err), "open", key)
	}
	return f, nil
}

// Stat returns the file size.
func (l *Local) Stat(_ context.Context, key string) (*Info, error) {
	fi, err := os.Stat(l.resolve(key))
	if err != nil {
		return nil, storeError(err, localCategory(err), "stat", key)
	}
	return &Info{Key: key, Size: fi.Size()}, nil
}

// List walks prefix recursively. Returned keys keep the form of prefix so
// they can be passed back to Open.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	root := l.resolve(prefix)
	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !IsCSV(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		keys = append(keys, path.Join(filepath.ToSlash(prefix), filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, storeError(err, localCategory(err), "list", prefix)
	}
	slices.Sort(keys)
	return keys, nil
}

// Put writes r to key, creating parent directories.
func (l *Local) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	dst := l.resolve(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return storeError(err, errors.CategoryFileIO, "put", key)
	}
	f, err := os.Create(dst)
	if err != nil {
		return storeError(err, errors.CategoryFileIO, "put", key)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return storeError(err, errors.CategoryFileIO, "put", key)
	}
	if err := f.Close(); err != nil {
		return storeError(err, errors.CategoryFileIO, "put", key)
	}
	return nil
}

// Remove deletes key, then every parent directory it left empty below the
// first segment of a relative key.
func (l *Local) Remove(_ context.Context, key string) error {
	if err := os.Remove(l.resolve(key)); err != nil {
		return storeError(err, localCategory(err), "remove", key)
	}
	if path.IsAbs(key) {
		return nil
	}
	for dir := path.Dir(path.Clean(key)); strings.Contains(dir, "/"); dir = path.Dir(dir) {
		if os.Remove(l.resolve(dir)) != nil {
			break
		}
	}
	return nil
}
