package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tnqbao/gau-finetune-orchestrator/config"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
)

const (
	// DatasetObjectName is the canonical object name for an uploaded dataset
	DatasetObjectName = "data.jsonl"

	datasetPrefix = "datasets"
	modelPrefix   = "models"
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store abstracts artifact storage. Objects live under a namespace, one
// namespace per dataset or per job, so a whole namespace can be listed or
// dropped at once.
type Store interface {
	// Put writes an object and returns its handle
	Put(ctx context.Context, namespace, name string, data io.Reader, size int64) (string, error)

	// Resolve maps a namespace and object name to a handle without touching storage
	Resolve(namespace, name string) string

	// Open streams an object by handle
	Open(ctx context.Context, handle string) (io.ReadCloser, int64, error)

	// Stat checks existence and returns object metadata
	Stat(ctx context.Context, handle string) (*ObjectInfo, error)

	// List returns every object in a namespace
	List(ctx context.Context, namespace string) ([]ObjectInfo, error)

	// Delete removes a namespace and everything under it
	Delete(ctx context.Context, namespace string) error

	// Healthy reports whether the backend is reachable
	Healthy(ctx context.Context) error
}

// URLSigner is implemented by backends that can hand out temporary download
// URLs instead of streaming through the gateway.
type URLSigner interface {
	SignedURL(ctx context.Context, handle string, expiry time.Duration) (string, error)
}

// DatasetNamespace returns the namespace holding an uploaded dataset
func DatasetNamespace(datasetID string) string {
	return datasetPrefix + "/" + datasetID
}

// ModelNamespace returns the namespace holding a job's trained artifacts
func ModelNamespace(jobID string) string {
	return modelPrefix + "/" + jobID
}

// NewStore builds the store selected by STORAGE_BACKEND
func NewStore(cfg *config.EnvConfig, inf *infra.Infra) (Store, error) {
	switch cfg.Storage.Backend {
	case "minio":
		if inf.Minio == nil {
			return nil, fmt.Errorf("minio backend selected but MinIO client is not initialized")
		}
		return NewMinioStore(inf.Minio, cfg.Minio.Bucket)
	case "s3":
		if inf.S3 == nil {
			return nil, fmt.Errorf("s3 backend selected but S3 client is not initialized")
		}
		return NewS3Store(inf.S3), nil
	case "local", "":
		return NewLocalStore(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
