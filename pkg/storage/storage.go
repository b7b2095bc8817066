package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a stored artifact is missing.
var ErrObjectNotFound = errors.New("artifact not found")

// ArtifactStore persists rendered report artifacts under relative keys.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	CleanupOlderThan(ctx context.Context, ttl time.Duration) ([]string, error)
}
