package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DiskStore keeps blobs as flat files under a single directory. The storage
// ID is the filename, so IDs stay opaque to callers and safe to hand out.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates the directory if needed. baseURL is the public prefix
// assets are served from, e.g. "http://localhost:8080".
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *DiskStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString() + extensionFor(contentType)
	if err := os.WriteFile(filepath.Join(s.dir, id), data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return id, nil
}

func (s *DiskStore) URL(id string) string {
	if id == "" {
		return ""
	}
	if _, err := os.Stat(s.Path(id)); err != nil {
		return ""
	}
	return s.baseURL + "/files/" + id
}

func (s *DiskStore) Delete(id string) error {
	err := os.Remove(s.Path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Path returns the on-disk location for id, rejecting path traversal.
func (s *DiskStore) Path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ""
	}
}
