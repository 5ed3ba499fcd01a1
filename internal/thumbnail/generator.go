package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"lazythumb/internal/codec"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/memory"
	"lazythumb/internal/metrics"
	"lazythumb/internal/provider"
	"lazythumb/internal/thumbcache"
	"lazythumb/internal/workers"
)

var log = logging.Component("thumbnail")

// DefaultSize is the edge length used when a request carries no valid size.
const DefaultSize = 256

// Origin says where a thumbnail came from.
type Origin string

const (
	// OriginCache is a cache hit.
	OriginCache Origin = "cache"
	// OriginGenerated was decoded from the item's bytes and cached.
	OriginGenerated Origin = "generated"
	// OriginPending is the placeholder for items whose bytes are not local.
	OriginPending Origin = "pending"
	// OriginIcon is a kind icon used instead of real content.
	OriginIcon Origin = "icon"
)

// Result is the outcome of one thumbnail request.
type Result struct {
	Image  image.Image
	Origin Origin
	Kind   item.MediaKind
	// Cached reports whether Image was stored in the cache by this request.
	Cached bool
	// Err is the failure that forced a fallback icon, if any.
	Err error
}

// Options configures a Generator.
type Options struct {
	Source provider.Source
	// Cache defaults to thumbcache.Default().
	Cache *thumbcache.Cache
	// Codec defaults to codec.New(codec.DefaultOptions()).
	Codec   codec.Adapter
	Quality codec.Quality
	// Workers bounds concurrent decodes; defaults to workers.ForCPU(0).
	Workers int
	// Memory pauses decoding under memory pressure. Optional.
	Memory *memory.Monitor
	Retry  filesystem.RetryConfig
}

// Generator produces thumbnails for items.
type Generator struct {
	src     provider.Source
	cache   *thumbcache.Cache
	codec   codec.Adapter
	quality codec.Quality
	limiter *workers.Limiter
	mem     *memory.Monitor
	retry   filesystem.RetryConfig
}

// New returns a Generator.
func New(opts Options) (*Generator, error) {
	if opts.Source == nil {
		return nil, errors.New("thumbnail generator needs a status source")
	}
	if opts.Cache == nil {
		c, err := thumbcache.Default()
		if err != nil {
			return nil, fmt.Errorf("default thumbnail cache: %w", err)
		}
		opts.Cache = c
	}
	if opts.Codec == nil {
		opts.Codec = codec.New(codec.DefaultOptions())
	}
	if opts.Workers <= 0 {
		opts.Workers = workers.ForCPU(0)
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialBackoff == 0 {
		opts.Retry = filesystem.DefaultRetryConfig()
	}

	log.Debug("generator: %d decode workers, quality %s", opts.Workers, opts.Quality)

	g := &Generator{
		src:     opts.Source,
		cache:   opts.Cache,
		codec:   opts.Codec,
		quality: opts.Quality,
		limiter: workers.NewLimiter(opts.Workers),
		mem:     opts.Memory,
		retry:   opts.Retry,
	}

	// Bytes that were just downloaded may differ from the ones a cached
	// thumbnail was made from.
	if n, ok := opts.Source.(provider.CompletionNotifier); ok {
		n.OnMaterialized(g.cache.Invalidate)
	}
	return g, nil
}

// Cache returns the cache the generator reads and fills.
func (g *Generator) Cache() *thumbcache.Cache {
	return g.cache
}

// Source returns the status source consulted on cache misses.
func (g *Generator) Source() provider.Source {
	return g.src
}

// Thumbnail returns the thumbnail for ref at size. It never fails.
func (g *Generator) Thumbnail(ctx context.Context, ref item.Ref, size item.Size) image.Image {
	return g.Generate(ctx, ref, size).Image
}

// Generate returns the thumbnail for ref at size along with its origin.
// Placeholder icons for items that are not materialized are never cached.
func (g *Generator) Generate(ctx context.Context, ref item.Ref, size item.Size) Result {
	if !size.Valid() {
		size = item.Square(DefaultSize)
	}

	res := g.generate(ctx, ref, size)
	metrics.ThumbnailRequestsTotal.WithLabelValues(string(res.Origin)).Inc()
	return res
}

func (g *Generator) generate(ctx context.Context, ref item.Ref, size item.Size) Result {
	if img, ok := g.cache.Fetch(ref, size); ok {
		return Result{Image: img, Origin: OriginCache, Kind: item.Classify(ref)}
	}

	st, err := provider.StatusOf(ctx, g.src, ref)
	if err != nil {
		log.Debug("status of %s unavailable, showing pending icon: %v", ref.Path, err)
		return g.pending(ref, size, err)
	}
	if !st.IsMaterialized() {
		return g.pending(ref, size, nil)
	}

	kind := g.classify(ref)

	if err := g.limiter.Acquire(ctx); err != nil {
		return g.pending(ref, size, err)
	}
	defer g.limiter.Release()
	if err := g.mem.Wait(ctx); err != nil {
		return g.pending(ref, size, err)
	}

	start := time.Now()
	res := g.dispatch(ctx, ref, kind, size)
	metrics.ThumbnailGenerationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	status := "success"
	if res.Err != nil || (res.Origin == OriginIcon && kind != item.MediaDirectory) {
		status = "fallback"
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues(string(kind), status).Inc()
	return res
}

func (g *Generator) pending(ref item.Ref, size item.Size, err error) Result {
	return Result{Image: Icon(IconPending, size), Origin: OriginPending, Kind: item.Classify(ref), Err: err}
}

// classify decides the media kind. Files with unknown extensions are
// sniffed, which is safe here because the bytes are local.
func (g *Generator) classify(ref item.Ref) item.MediaKind {
	kind := item.Classify(ref)
	if kind != item.MediaOther {
		return kind
	}
	header, err := filesystem.ReadHeader(ref.Path, item.SniffHeaderLen, g.retry)
	if err != nil {
		log.Debug("cannot sniff %s: %v", ref.Path, err)
		return kind
	}
	return item.SniffHeader(header)
}

func (g *Generator) dispatch(ctx context.Context, ref item.Ref, kind item.MediaKind, size item.Size) Result {
	switch kind {
	case item.MediaDirectory:
		img := Icon(IconFolder, size)
		g.cache.Save(img, ref, size)
		return Result{Image: img, Origin: OriginIcon, Kind: kind, Cached: true}

	case item.MediaImage:
		img, err := g.codec.DecodeFile(ctx, ref.Path)
		return g.finish(ref, kind, size, img, err)

	case item.MediaVideo:
		img, err := g.codec.ExtractVideoFrame(ctx, ref.Path, 0)
		return g.finish(ref, kind, size, img, err)

	case item.MediaAudio:
		art, err := g.codec.ReadEmbeddedArtwork(ctx, ref.Path)
		if err != nil {
			return g.fallback(ref, kind, size, err)
		}
		img, err := g.codec.Decode(art)
		return g.finish(ref, kind, size, img, err)

	default:
		return Result{Image: Icon(IconDocument, size), Origin: OriginIcon, Kind: kind}
	}
}

// finish resizes and caches a decoded image, or falls back to the kind
// icon when decoding failed.
func (g *Generator) finish(ref item.Ref, kind item.MediaKind, size item.Size, img image.Image, err error) Result {
	if err != nil {
		return g.fallback(ref, kind, size, err)
	}
	thumb := g.codec.Resize(img, size, g.quality)
	g.cache.Save(thumb, ref, size)
	return Result{Image: thumb, Origin: OriginGenerated, Kind: kind, Cached: true}
}

func (g *Generator) fallback(ref item.Ref, kind item.MediaKind, size item.Size, err error) Result {
	if errors.Is(err, codec.ErrNoArtwork) {
		log.Debug("no artwork in %s", ref.Path)
	} else {
		log.Debug("%s thumbnail for %s failed, using icon: %v", kind, ref.Path, err)
	}
	return Result{Image: Icon(IconFor(kind), size), Origin: OriginIcon, Kind: kind, Err: err}
}

// Refresh drops every cached thumbnail of ref and generates a new one.
// Call it when ref's content changes, such as after a download completes.
func (g *Generator) Refresh(ctx context.Context, ref item.Ref, size item.Size) Result {
	g.cache.Invalidate(ref)
	return g.Generate(ctx, ref, size)
}
