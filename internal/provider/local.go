package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
)

// LocalSource treats every existing file as materialized. It is used when
// the root is plain local storage with no sync provider behind it.
type LocalSource struct {
	retry filesystem.RetryConfig
}

// NewLocalSource returns a LocalSource using retry for stale-handle retries.
func NewLocalSource(retry filesystem.RetryConfig) *LocalSource {
	return &LocalSource{retry: retry}
}

// CurrentStatus reports Materialized for any file that exists.
func (s *LocalSource) CurrentStatus(ctx context.Context, ref item.Ref) (st item.Status, err error) {
	defer func() { observe("local", "status", err) }()

	if err := ctx.Err(); err != nil {
		return item.Status{}, err
	}
	return localStatus(ref, s.retry)
}

// BeginMaterializing is a no-op: local bytes are always resident.
func (s *LocalSource) BeginMaterializing(ctx context.Context, ref item.Ref) (err error) {
	defer func() { observe("local", "begin", err) }()

	_, err = localStatus(ref, s.retry)
	return err
}

func localStatus(ref item.Ref, retry filesystem.RetryConfig) (item.Status, error) {
	if _, err := filesystem.StatWithRetry(ref.Path, retry); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return item.Status{}, fmt.Errorf("%s: %w", ref.Path, item.ErrItemNotFound)
		}
		return item.Status{}, fmt.Errorf("stat %s: %w: %w", ref.Path, item.ErrProviderUnavailable, err)
	}
	return item.MaterializedStatus(), nil
}
