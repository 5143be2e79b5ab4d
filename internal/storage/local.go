package storage

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"
)

// LocalStore keeps snapshots on disk under dir.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) SaveSnapshot(ctx context.Context, plate string, at time.Time, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := encodeJPEG(img)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filepath.FromSlash(SnapshotKey(plate, at)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
