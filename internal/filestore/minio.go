package filestore

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

const (
	bucketReadyAttempts = 10
	csvContentType      = "text/csv"
)

// Minio stores files in one bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects and makes sure the bucket exists, retrying while the
// server comes up.
func NewMinio(ctx context.Context, settings conf.MinioSettings) (*Minio, error) {
	client, err := minio.New(settings.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(settings.AccessKey, settings.SecretKey, ""),
		Secure: settings.UseSSL,
		Region: settings.Region,
	})
	if err != nil {
		return nil, storeError(err, errors.CategoryConfiguration, "connect", settings.Endpoint)
	}

	m := &Minio{client: client, bucket: settings.Bucket}
	for i := range bucketReadyAttempts {
		if err = m.ensureBucket(ctx, settings.Region); err == nil {
			return m, nil
		}
		GetLogger().Warn("object store not ready",
			logger.String("endpoint", settings.Endpoint),
			logger.String("bucket", settings.Bucket),
			logger.Int("attempt", i+1),
			logger.Error(err))
		select {
		case <-ctx.Done():
			return nil, storeError(ctx.Err(), errors.CategoryStorage, "connect", settings.Bucket)
		case <-time.After(time.Second * time.Duration(1+i)):
		}
	}
	return nil, storeError(err, errors.CategoryStorage, "connect", settings.Bucket)
}

func (m *Minio) ensureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region})
}

func minioCategory(err error) errors.ErrorCategory {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.CategoryNotFound
	default:
		return errors.CategoryStorage
	}
}

// Open returns the object body. The object is stat'ed first so a missing key
// fails here rather than on the first Read.
func (m *Minio) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storeError(err, minioCategory(err), "open", key)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, storeError(err, minioCategory(err), "open", key)
	}
	return obj, nil
}

// Stat returns the object size.
func (m *Minio) Stat(ctx context.Context, key string) (*Info, error) {
	oi, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, storeError(err, minioCategory(err), "stat", key)
	}
	return &Info{Key: key, Size: oi.Size}, nil
}

// List returns CSV object keys below prefix.
func (m *Minio) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, storeError(obj.Err, minioCategory(obj.Err), "list", prefix)
		}
		if IsCSV(obj.Key) {
			keys = append(keys, obj.Key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Put uploads r. size may be -1 when unknown.
func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: csvContentType})
	if err != nil {
		return storeError(err, errors.CategoryStorage, "put", key)
	}
	return nil
}

// Remove deletes the object. Removing a missing key is not an error.
func (m *Minio) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return storeError(err, minioCategory(err), "remove", key)
	}
	return nil
}
