package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lazythumb/internal/codec"
	"lazythumb/internal/database"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/notify"
	"lazythumb/internal/provider"
	"lazythumb/internal/thumbcache"
	"lazythumb/internal/thumbnail"
	"lazythumb/internal/warmup"
)

var log = logging.Component("handlers")

// DefaultKeepAlive is the comment ping period on event streams.
const DefaultKeepAlive = 15 * time.Second

var errInvalidPath = errors.New("invalid path")

// Options configures Handlers.
type Options struct {
	Generator *thumbnail.Generator
	Engine    *notify.Engine
	// Codec encodes responses; defaults to codec.New(codec.DefaultOptions()).
	Codec codec.Adapter
	// Database backs the request queue and readiness checks. Optional.
	Database *database.Database
	// Warmer serves the cache warm-up endpoints. Optional.
	Warmer  *warmup.Warmer
	RootDir string
	// ThumbnailSize is the edge used when a request gives no size.
	ThumbnailSize int
	// KeepAlive is the event stream ping period.
	KeepAlive time.Duration
	Retry     filesystem.RetryConfig
}

// Handlers serves the HTTP API.
type Handlers struct {
	gen       *thumbnail.Generator
	engine    *notify.Engine
	codec     codec.Adapter
	db        *database.Database
	warmer    *warmup.Warmer
	rootDir   string
	size      int
	keepAlive time.Duration
	retry     filesystem.RetryConfig
	startTime time.Time
}

// reporter is implemented by sources that accept status reports from the
// sync daemon.
type reporter interface {
	Report(ctx context.Context, ref item.Ref, status item.Status) (bool, error)
}

// New returns Handlers. Generator and Engine are required.
func New(opts Options) (*Handlers, error) {
	if opts.Generator == nil || opts.Engine == nil {
		return nil, errors.New("handlers need a thumbnail generator and a notification engine")
	}
	root, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root directory: %w", err)
	}
	if opts.Codec == nil {
		opts.Codec = codec.New(codec.DefaultOptions())
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = thumbnail.DefaultSize
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}

	return &Handlers{
		gen:       opts.Generator,
		engine:    opts.Engine,
		codec:     opts.Codec,
		db:        opts.Database,
		warmer:    opts.Warmer,
		rootDir:   root,
		size:      opts.ThumbnailSize,
		keepAlive: opts.KeepAlive,
		retry:     opts.Retry,
		startTime: time.Now(),
	}, nil
}

func (h *Handlers) source() provider.Source {
	return h.engine.Source()
}

func (h *Handlers) cache() *thumbcache.Cache {
	return h.gen.Cache()
}

// resolve maps a root-relative request path to an item. The kind comes
// from the filesystem. When mustExist is false a missing path resolves to
// a file reference instead of item.ErrItemNotFound.
func (h *Handlers) resolve(rel string, mustExist bool) (item.Ref, error) {
	full := filepath.Join(h.rootDir, filepath.FromSlash(rel))
	if !isSubPath(h.rootDir, full) {
		return item.Ref{}, fmt.Errorf("%w: %q", errInvalidPath, rel)
	}

	info, err := filesystem.StatWithRetry(full, h.retry)
	switch {
	case err == nil && info.IsDir():
		return item.NewDirectory(full), nil
	case err == nil:
		return item.NewFile(full), nil
	case errors.Is(err, os.ErrNotExist) && !mustExist:
		return item.NewFile(full), nil
	case errors.Is(err, os.ErrNotExist):
		return item.Ref{}, fmt.Errorf("%s: %w", rel, item.ErrItemNotFound)
	default:
		return item.Ref{}, fmt.Errorf("stat %s: %w", rel, err)
	}
}

// relative returns the slash-separated path of abs under the root, with
// the root itself as "".
func (h *Handlers) relative(abs string) string {
	rel, err := filepath.Rel(h.rootDir, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func isSubPath(parent, child string) bool {
	child = filepath.Clean(child)
	return child == parent || strings.HasPrefix(child, parent+string(filepath.Separator))
}
