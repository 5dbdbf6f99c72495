package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/phrazzld/imageworks-api/internal/config"
)

// MinioStore implements Store against any S3-compatible object store.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore creates a MinIO-backed blob store and ensures the configured
// bucket exists.
func NewMinioStore(ctx context.Context, cfg config.BlobConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, wrapStorage("bucket check", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, wrapStorage("bucket create", err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Ensure MinioStore implements the Store interface
var _ Store = (*MinioStore)(nil)

// Put implements Store.Put
func (s *MinioStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	handle := newHandle(contentType)

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		handle,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", wrapStorage("put", err)
	}

	return handle, nil
}

// Get implements Store.Get
func (s *MinioStore) Get(ctx context.Context, handle string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, handle, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapStorage("get", err)
	}
	defer func() { _ = object.Close() }()

	data, err := io.ReadAll(object)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, wrapStorage("read", err)
	}

	return data, nil
}

// Delete implements Store.Delete
func (s *MinioStore) Delete(ctx context.Context, handle string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, handle, minio.RemoveObjectOptions{}); err != nil {
		return wrapStorage("delete", err)
	}
	return nil
}

// newHandle allocates a fresh object key, carrying a best-effort extension
// derived from the content type so stored objects stay browsable.
func newHandle(contentType string) string {
	ext := ""
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		// Prefer the conventional extension where mime offers several.
		ext = exts[0]
		for _, e := range exts {
			if e == ".jpg" || e == ".png" || e == ".gif" {
				ext = e
				break
			}
		}
	}
	return strings.ReplaceAll(uuid.New().String(), "-", "") + ext
}
