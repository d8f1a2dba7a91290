// Package filestore abstracts where source CSV files live. Local reads the
// filesystem; Minio reads an S3-compatible bucket so workers on other hosts
// see the same files the orchestrator listed.
package filestore

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// Info describes a stored file.
type Info struct {
	Key  string
	Size int64
}

// Store is the file access the orchestrator needs. Keys are slash separated.
type Store interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (*Info, error)
	// List returns the keys of all CSV files under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Remove(ctx context.Context, key string) error
}

// New builds the store selected by settings.Backend.
func New(ctx context.Context, settings *conf.StorageSettings) (Store, error) {
	switch settings.Backend {
	case conf.StorageLocal, "":
		return NewLocal(settings.BaseDir), nil
	case conf.StorageMinio:
		return NewMinio(ctx, settings.Minio)
	default:
		return nil, errors.Newf("unsupported storage backend %q", settings.Backend).
			Component("filestore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// IsCSV reports whether key names a .csv file, ignoring case.
func IsCSV(key string) bool {
	return strings.EqualFold(path.Ext(key), ".csv")
}

// GetLogger returns the filestore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("filestore")
}

func storeError(err error, category errors.ErrorCategory, operation, key string) error {
	return errors.New(err).
		Component("filestore").
		Category(category).
		Context("operation", operation).
		Context("key", key).
		Build()
}
