package provider

import (
	"context"
	"errors"
	"fmt"

	"lazythumb/internal/database"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
)

// ManifestSource reads status from the SQLite manifest a sync daemon keeps
// current. Items the manifest does not track are treated as plain local
// files.
type ManifestSource struct {
	db    *database.Database
	retry filesystem.RetryConfig
}

// NewManifestSource returns a source backed by db.
func NewManifestSource(db *database.Database, retry filesystem.RetryConfig) *ManifestSource {
	return &ManifestSource{db: db, retry: retry}
}

// CurrentStatus returns the manifest status for ref.
func (s *ManifestSource) CurrentStatus(ctx context.Context, ref item.Ref) (st item.Status, err error) {
	defer func() { observe("manifest", "status", err) }()

	entry, err := s.db.GetEntry(ctx, ref.Path)
	switch {
	case err == nil:
		return entry.Status, nil
	case errors.Is(err, database.ErrNotFound):
		return localStatus(ref, s.retry)
	case ctx.Err() != nil:
		return item.Status{}, ctx.Err()
	default:
		return item.Status{}, fmt.Errorf("manifest lookup %s: %w: %w", ref.Path, item.ErrProviderUnavailable, err)
	}
}

// BeginMaterializing records a request for the daemon. Repeated calls and
// calls for materialized items are no-ops.
func (s *ManifestSource) BeginMaterializing(ctx context.Context, ref item.Ref) (err error) {
	defer func() { observe("manifest", "begin", err) }()

	added, err := s.db.Request(ctx, ref)
	if err != nil {
		return fmt.Errorf("manifest request %s: %w: %w", ref.Path, item.ErrProviderUnavailable, err)
	}
	if added {
		log.Debug("requested materialization of %s", ref.Path)
	}
	return nil
}

// Report is the daemon-side write. Progress within a download never moves
// backwards: a Materializing report lower than the stored one is dropped
// and Report returns false. NotMaterialized (eviction) and Materialized are
// always accepted.
func (s *ManifestSource) Report(ctx context.Context, ref item.Ref, status item.Status) (bool, error) {
	status = status.Normalize()

	written, err := s.db.UpdateStatus(ctx, ref, func(cur *database.Entry) (item.Status, bool) {
		if cur == nil {
			return status, true
		}
		if cur.Status == status {
			return status, false
		}
		if cur.Status.State == item.Materializing && status.State == item.Materializing &&
			status.Progress < cur.Status.Progress {
			return status, false
		}
		return status, true
	})
	observe("manifest", "report", err)
	if err != nil {
		return false, fmt.Errorf("manifest report %s: %w: %w", ref.Path, item.ErrProviderUnavailable, err)
	}
	return written, nil
}

// WatchItem signals on every manifest write to ref or, for directories, to
// any of its direct children.
func (s *ManifestSource) WatchItem(ctx context.Context, ref item.Ref) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, cancel := s.db.Watch(ref.Path)
	return forwardUntilDone(ctx, ch, cancel), nil
}

// OnMaterialized runs fn for every manifest write that leaves an item
// materialized, whichever process made it.
func (s *ManifestSource) OnMaterialized(fn func(item.Ref)) {
	s.db.OnChange(func(e database.Entry) {
		if e.Status.IsMaterialized() {
			fn(e.Ref())
		}
	})
}
