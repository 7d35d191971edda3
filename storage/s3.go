package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
)

// S3Store keeps every namespace under a single bucket on S3 or any
// S3-compatible endpoint.
type S3Store struct {
	client *infra.S3Client
}

func NewS3Store(client *infra.S3Client) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) Put(ctx context.Context, namespace, name string, data io.Reader, size int64) (string, error) {
	handle := s.Resolve(namespace, name)

	err := s.client.PutObjectStream(ctx, handle, data, size, "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return handle, nil
}

func (s *S3Store) Resolve(namespace, name string) string {
	return namespace + "/" + name
}

func (s *S3Store) Open(ctx context.Context, handle string) (io.ReadCloser, int64, error) {
	body, size, err := s.client.GetObjectStream(ctx, handle)
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, fmt.Errorf("%w: %s", entity.ErrInputNotFound, handle)
		}
		return nil, 0, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return body, size, nil
}

func (s *S3Store) Stat(ctx context.Context, handle string) (*ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, handle)
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", entity.ErrInputNotFound, handle)
		}
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	return &ObjectInfo{
		Name:         handle,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Store) List(ctx context.Context, namespace string) ([]ObjectInfo, error) {
	contents, err := s.client.ListObjects(ctx, namespace+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	objects := make([]ObjectInfo, 0, len(contents))
	for _, object := range contents {
		objects = append(objects, ObjectInfo{
			Name:         aws.ToString(object.Key),
			Size:         aws.ToInt64(object.Size),
			LastModified: aws.ToTime(object.LastModified),
		})
	}
	return objects, nil
}

func (s *S3Store) Delete(ctx context.Context, namespace string) error {
	if err := s.client.DeleteObjectsWithPrefix(ctx, namespace+"/"); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return nil
}

func (s *S3Store) Healthy(ctx context.Context) error {
	return s.client.Healthy(ctx)
}

func (s *S3Store) SignedURL(ctx context.Context, handle string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetURL(ctx, handle, expiry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return url, nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
