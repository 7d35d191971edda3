package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
)

// MinioStore keeps every namespace under a single bucket, using object key
// prefixes to separate them.
type MinioStore struct {
	client *infra.MinioClient
	bucket string
}

func NewMinioStore(client *infra.MinioClient, bucket string) (*MinioStore, error) {
	if err := client.EnsureBucket(context.Background(), bucket); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, namespace, name string, data io.Reader, size int64) (string, error) {
	handle := s.Resolve(namespace, name)

	err := s.client.PutObjectStream(ctx, s.bucket, handle, data, size, "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return handle, nil
}

func (s *MinioStore) Resolve(namespace, name string) string {
	return namespace + "/" + name
}

func (s *MinioStore) Open(ctx context.Context, handle string) (io.ReadCloser, int64, error) {
	body, size, err := s.client.GetObjectStream(ctx, s.bucket, handle)
	if err != nil {
		if isMinioNotFound(err) {
			return nil, 0, fmt.Errorf("%w: %s", entity.ErrInputNotFound, handle)
		}
		return nil, 0, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return body, size, nil
}

func (s *MinioStore) Stat(ctx context.Context, handle string) (*ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, handle)
	if err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s", entity.ErrInputNotFound, handle)
		}
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	return &ObjectInfo{
		Name:         stat.Key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
	}, nil
}

func (s *MinioStore) List(ctx context.Context, namespace string) ([]ObjectInfo, error) {
	stats, err := s.client.ListObjects(ctx, s.bucket, namespace+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	objects := make([]ObjectInfo, 0, len(stats))
	for _, stat := range stats {
		objects = append(objects, ObjectInfo{
			Name:         stat.Key,
			Size:         stat.Size,
			LastModified: stat.LastModified,
		})
	}
	return objects, nil
}

func (s *MinioStore) Delete(ctx context.Context, namespace string) error {
	if err := s.client.DeleteObjectsWithPrefix(ctx, s.bucket, namespace+"/"); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return nil
}

func (s *MinioStore) Healthy(ctx context.Context) error {
	return s.client.ServerHealthy(ctx)
}

func (s *MinioStore) SignedURL(ctx context.Context, handle string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetURL(ctx, s.bucket, handle, expiry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return url, nil
}

func isMinioNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
	}
	return false
}
