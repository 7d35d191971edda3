package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tnqbao/gau-finetune-orchestrator/entity"
)

// LocalStore keeps objects on the local filesystem under a root directory.
// Handles map directly to relative file paths.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage directory is not configured")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStore{root: abs}, nil
}

// fullPath joins a handle onto the root, rejecting anything that escapes it
func (s *LocalStore) fullPath(handle string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(handle))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object handle %q", handle)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *LocalStore) Put(ctx context.Context, namespace, name string, data io.Reader, size int64) (string, error) {
	handle := s.Resolve(namespace, name)

	path, err := s.fullPath(handle)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	return handle, nil
}

func (s *LocalStore) Resolve(namespace, name string) string {
	return namespace + "/" + name
}

func (s *LocalStore) Open(ctx context.Context, handle string) (io.ReadCloser, int64, error) {
	path, err := s.fullPath(handle)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", entity.ErrInputNotFound, handle)
		}
		return nil, 0, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	return f, info.Size(), nil
}

func (s *LocalStore) Stat(ctx context.Context, handle string) (*ObjectInfo, error) {
	path, err := s.fullPath(handle)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", entity.ErrInputNotFound, handle)
		}
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	return &ObjectInfo{
		Name:         handle,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

func (s *LocalStore) List(ctx context.Context, namespace string) ([]ObjectInfo, error) {
	dir, err := s.fullPath(namespace)
	if err != nil {
		return nil, err
	}

	var objects []ObjectInfo
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		objects = append(objects, ObjectInfo{
			Name:         filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}

	return objects, nil
}

func (s *LocalStore) Delete(ctx context.Context, namespace string) error {
	dir, err := s.fullPath(namespace)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	return nil
}

func (s *LocalStore) Healthy(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrStorageIO, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: storage root %s is not a directory", entity.ErrStorageIO, s.root)
	}
	return nil
}
