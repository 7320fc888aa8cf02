package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the object store evidence packs are uploaded to. Packs are
// keyed, not content-addressed, so a proposal's packs group under one
// prefix.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// NewStore builds a pack store. kind is "fs" (default), "s3", or "gcs";
// dir is the filesystem root for fs, bucket the bucket name for the
// cloud backends.
func NewStore(ctx context.Context, kind, dir, bucket string) (Store, error) {
	switch kind {
	case "", "fs":
		return NewFileStore(dir)
	case "s3":
		if bucket == "" {
			return nil, fmt.Errorf("a bucket is required for s3 pack storage")
		}
		return NewS3Store(ctx, S3Config{Bucket: bucket})
	case "gcs":
		return newGCSStore(ctx, bucket)
	default:
		return nil, fmt.Errorf("unsupported pack store %q", kind)
	}
}

// FileStore keeps packs under a base directory, one file per key.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = "packs"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure pack dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid pack key %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Put writes the pack to a temp file and renames it into place, so a
// reader never sees a half-written pack.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to ensure pack dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pack: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to commit pack: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pack not found: %s", key)
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
