package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when no transcript exists under a key
var ErrNotFound = errors.New("transcript not found")

// TranscriptStore persists finished transcripts and streams them back
type TranscriptStore interface {
	// Put durably writes data under key and returns its location
	Put(ctx context.Context, key string, data []byte) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Backend() string
}

// TranscriptKey returns the storage key for a job's transcript
func TranscriptKey(jobID string) string {
	return jobID + ".txt"
}

// cleanKey rejects keys that could escape the store root
func cleanKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	k = path.Clean("/" + strings.ReplaceAll(k, "\\", "/"))[1:]
	if k == "" || k == "." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return k, nil
}
