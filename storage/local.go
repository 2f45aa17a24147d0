package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chunk-transcriber/core/models"
)

// LocalStore keeps transcripts as files under a root directory
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &models.StorageError{Op: "write", Path: root, Err: err}
	}
	return &LocalStore{root: root}, nil
}

// Backend names the store kind
func (s *LocalStore) Backend() string { return "local" }

// Put writes data to a temp file and renames it into place
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	target, err := s.resolve(key)
	if err != nil {
		return "", &models.StorageError{Op: "write", Path: key, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", &models.StorageError{Op: "write", Path: target, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".transcript-*")
	if err != nil {
		return "", &models.StorageError{Op: "write", Path: target, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &models.StorageError{Op: "write", Path: target, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &models.StorageError{Op: "write", Path: target, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &models.StorageError{Op: "write", Path: target, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", &models.StorageError{Op: "write", Path: target, Err: err}
	}
	return target, nil
}

// Open streams a stored transcript
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, &models.StorageError{Op: "read", Path: key, Err: err}
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &models.StorageError{Op: "read", Path: target, Err: ErrNotFound}
		}
		return nil, &models.StorageError{Op: "read", Path: target, Err: err}
	}
	return f, nil
}

// Delete removes a transcript. Deleting a missing key succeeds.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return &models.StorageError{Op: "delete", Path: key, Err: err}
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &models.StorageError{Op: "delete", Path: target, Err: err}
	}
	return nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}
