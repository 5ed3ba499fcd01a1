package thumbcache

import (
	"bytes"
	"container/list"
	"crypto/md5"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"lazythumb/internal/codec"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/metrics"

	"github.com/disintegration/imaging"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var log = logging.Component("thumbcache")

const (
	// DefaultMaxEntries bounds the memory tier by count.
	DefaultMaxEntries = 512
	// DefaultMaxBytes bounds the memory tier by estimated decoded size.
	DefaultMaxBytes int64 = 64 << 20

	fileExt = ".png"
)

// Options configures a Cache.
type Options struct {
	// Dir holds the disk tier. It is created if missing.
	Dir string
	// MaxEntries and MaxBytes bound the memory tier.
	MaxEntries int
	MaxBytes   int64
	// Codec encodes and decodes disk tier files.
	Codec codec.Adapter
	// Retry configures stale-handle retries on the disk tier.
	Retry filesystem.RetryConfig
}

// Cache is a two-tier thumbnail cache: an LRU of decoded images in memory
// backed by PNG files in a flat directory. Callers never store placeholder
// icons in it.
type Cache struct {
	dir   string
	codec codec.Adapter
	retry filesystem.RetryConfig

	mu         sync.Mutex
	lru        *list.List
	entries    map[string]*list.Element
	bytes      int64
	maxEntries int
	maxBytes   int64
}

type entry struct {
	key    string
	refKey string
	img    image.Image
	cost   int64
}

// New creates a cache rooted at opts.Dir.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("thumbnail cache directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w: %w", item.ErrCacheIO, err)
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Codec == nil {
		opts.Codec = codec.New(codec.DefaultOptions())
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialBackoff == 0 {
		opts.Retry = filesystem.DefaultRetryConfig()
	}

	log.Debug("cache dir %s, memory tier %d entries / %d bytes", opts.Dir, opts.MaxEntries, opts.MaxBytes)

	return &Cache{
		dir:        opts.Dir,
		codec:      opts.Codec,
		retry:      opts.Retry,
		lru:        list.New(),
		entries:    make(map[string]*list.Element),
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
	}, nil
}

// Dir returns the disk tier directory.
func (c *Cache) Dir() string {
	return c.dir
}

func memoryKey(ref item.Ref, size item.Size) string {
	return ref.Key() + "@" + size.String()
}

// cost estimates the decoded footprint of img as four bytes per pixel.
func cost(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}

// Fetch returns the cached thumbnail for ref at size. The memory tier is
// checked first, then the disk tier; a disk hit is promoted into memory.
// A miss has no side effects.
func (c *Cache) Fetch(ref item.Ref, size item.Size) (image.Image, bool) {
	key := memoryKey(ref, size)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.lru.MoveToFront(el)
		img := el.Value.(*entry).img
		c.mu.Unlock()
		metrics.ThumbnailCacheHits.WithLabelValues("memory").Inc()
		return img, true
	}
	c.mu.Unlock()

	img, ok := c.readDisk(ref, size)
	if !ok {
		metrics.ThumbnailCacheMisses.Inc()
		return nil, false
	}

	metrics.ThumbnailCacheHits.WithLabelValues("disk").Inc()
	c.remember(key, ref.Key(), img)
	return img, true
}

func (c *Cache) readDisk(ref item.Ref, size item.Size) (image.Image, bool) {
	path := c.diskPath(ref, size)

	f, err := filesystem.OpenWithRetry(path, c.retry)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("read %s: %v", path, err)
		}
		return nil, false
	}
	var buf bytes.Buffer
	_, err = buf.ReadFrom(f)
	if closeErr := f.Close(); closeErr != nil {
		log.Debug("close %s: %v", path, closeErr)
	}
	if err != nil {
		log.Warn("read %s: %v", path, err)
		return nil, false
	}

	img, err := c.codec.Decode(buf.Bytes())
	if err != nil {
		// A corrupt file would otherwise miss forever.
		log.Warn("discarding unreadable cache file %s: %v", path, err)
		_ = os.Remove(path)
		return nil, false
	}
	return imaging.Clone(img), true
}

// Save stores img for ref at size in both tiers. The disk write is best
// effort: failures are logged and counted, never returned.
func (c *Cache) Save(img image.Image, ref item.Ref, size item.Size) {
	if img == nil {
		return
	}
	c.remember(memoryKey(ref, size), ref.Key(), img)

	if err := c.writeDisk(img, ref, size); err != nil {
		metrics.ThumbnailCacheWriteErrors.Inc()
		log.Warn("failed to persist thumbnail for %s: %v", ref.Path, err)
	}
}

func (c *Cache) writeDisk(img image.Image, ref item.Ref, size item.Size) error {
	path := c.diskPath(ref, size)

	tmp, err := os.CreateTemp(c.dir, ".tmp-*"+fileExt)
	if err != nil {
		return fmt.Errorf("create temp file: %w: %w", item.ErrCacheIO, err)
	}
	tmpPath := tmp.Name()

	if err := c.codec.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode: %w: %w", item.ErrCacheIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w: %w", item.ErrCacheIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w: %w", item.ErrCacheIO, err)
	}
	return nil
}

// remember inserts or refreshes a memory entry and evicts from the cold
// end until both bounds hold. Images larger than the whole byte budget
// stay on disk only.
func (c *Cache) remember(key, refKey string, img image.Image) {
	n := cost(img)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
	if n > c.maxBytes {
		c.updateGauges()
		return
	}

	c.entries[key] = c.lru.PushFront(&entry{key: key, refKey: refKey, img: img, cost: n})
	c.bytes += n

	c.evictTo(c.maxEntries, c.maxBytes)
	c.updateGauges()
}

// evictTo drops least recently used entries until the tier holds at most
// maxEntries entries and maxBytes bytes. Must be called with mu held.
func (c *Cache) evictTo(maxEntries int, maxBytes int64) {
	for c.lru.Len() > 0 && (c.lru.Len() > maxEntries || c.bytes > maxBytes) {
		c.removeElement(c.lru.Back())
		metrics.ThumbnailCacheEvictions.Inc()
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := c.lru.Remove(el).(*entry)
	delete(c.entries, e.key)
	c.bytes -= e.cost
}

func (c *Cache) updateGauges() {
	metrics.ThumbnailCacheMemoryBytes.Set(float64(c.bytes))
	metrics.ThumbnailCacheMemoryEntries.Set(float64(c.lru.Len()))
}

// Invalidate removes every cached size of ref from both tiers.
func (c *Cache) Invalidate(ref item.Ref) {
	refKey := ref.Key()

	c.mu.Lock()
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).refKey == refKey {
			c.removeElement(el)
		}
		el = next
	}
	c.updateGauges()
	c.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(c.dir, diskPrefix(ref)+"*"+fileExt))
	if err != nil {
		log.Warn("invalidate %s: %v", ref.Path, err)
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("remove %s: %v", m, err)
		}
	}
}

// Clear empties both tiers.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.lru.Init()
	c.entries = make(map[string]*list.Element)
	c.bytes = 0
	c.updateGauges()
	c.mu.Unlock()

	entries, err := filesystem.ReadDirWithRetry(c.dir, c.retry)
	if err != nil {
		return fmt.Errorf("list cache dir: %w: %w", item.ErrCacheIO, err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	metrics.ThumbnailCacheDiskBytes.Set(0)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear cache: %w: %w", item.ErrCacheIO, err)
	}
	log.Info("thumbnail cache cleared")
	return nil
}

// TotalSize returns the bytes used by the disk tier.
func (c *Cache) TotalSize() (int64, error) {
	entries, err := filesystem.ReadDirWithRetry(c.dir, c.retry)
	if err != nil {
		return 0, fmt.Errorf("list cache dir: %w: %w", item.ErrCacheIO, err)
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	metrics.ThumbnailCacheDiskBytes.Set(float64(total))
	return total, nil
}

// MemoryStats returns the memory tier's entry count and estimated bytes.
func (c *Cache) MemoryStats() (entries int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), c.bytes
}

// TrimMemory evicts the memory tier down to half its byte budget. It is
// registered as a memory pressure handler.
func (c *Cache) TrimMemory() {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.lru.Len()
	c.evictTo(c.maxEntries, c.maxBytes/2)
	c.updateGauges()
	if evicted := before - c.lru.Len(); evicted > 0 {
		log.Info("memory pressure: evicted %d thumbnails", evicted)
	}
}

// diskPath is <name>_<hash>_<w>x<h>.png. The hash disambiguates files with
// the same name in different directories.
func (c *Cache) diskPath(ref item.Ref, size item.Size) string {
	return filepath.Join(c.dir, DiskName(ref, size))
}

// DiskName returns the disk tier file name for ref at size.
func DiskName(ref item.Ref, size item.Size) string {
	return diskPrefix(ref) + size.String() + fileExt
}

func diskPrefix(ref item.Ref) string {
	sum := md5.Sum([]byte(ref.Path))
	return fmt.Sprintf("%s_%x_", sanitize(ref.Name()), sum[:4])
}

// foldAccents decomposes a name and drops combining marks, so "Café" and
// its NFD spelling both become "Cafe".
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// sanitize keeps file names portable and free of glob metacharacters.
func sanitize(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if folded, _, err := transform.String(foldAccents, name); err == nil {
		name = folded
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "item"
	}
	return b.String()
}
