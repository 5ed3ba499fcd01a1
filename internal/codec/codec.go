package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/metrics"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var log = logging.Component("codec")

// ErrNoArtwork is returned by ReadEmbeddedArtwork when the file carries no
// cover art in any known key space.
var ErrNoArtwork = errors.New("no embedded artwork")

// Quality selects the resampling filter used by Resize.
type Quality int

const (
	// QualityLow uses nearest-neighbor sampling.
	QualityLow Quality = iota
	// QualityMedium uses linear filtering.
	QualityMedium
	// QualityHigh uses Lanczos resampling.
	QualityHigh
)

// ParseQuality maps "low", "medium" and "high" to a Quality; anything else is high.
func ParseQuality(s string) Quality {
	switch s {
	case "low":
		return QualityLow
	case "medium":
		return QualityMedium
	default:
		return QualityHigh
	}
}

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	default:
		return "high"
	}
}

func (q Quality) filter() imaging.ResampleFilter {
	switch q {
	case QualityLow:
		return imaging.NearestNeighbor
	case QualityMedium:
		return imaging.Linear
	default:
		return imaging.Lanczos
	}
}

// Adapter is the image capability the thumbnail generator and cache consume.
// Every decode error wraps item.ErrDecodeFailed.
type Adapter interface {
	DecodeFile(ctx context.Context, path string) (image.Image, error)
	Decode(data []byte) (image.Image, error)
	Resize(img image.Image, size item.Size, quality Quality) image.Image
	Encode(w io.Writer, img image.Image) error
	ExtractVideoFrame(ctx context.Context, path string, at time.Duration) (image.Image, error)
	ReadEmbeddedArtwork(ctx context.Context, path string) ([]byte, error)
}

// Options configures the default Adapter.
type Options struct {
	// MaxDimension and MaxPixels bound decoded images; larger sources are
	// shrunk (at decode time when libvips is available) before resizing.
	MaxDimension int
	MaxPixels    int

	// FFmpegPath overrides the ffmpeg binary looked up on PATH.
	FFmpegPath string

	// Retry configures stale-handle retries when opening source files.
	Retry filesystem.RetryConfig
}

// DefaultOptions returns the limits used in production.
func DefaultOptions() Options {
	return Options{
		MaxDimension: MaxImageDimension,
		MaxPixels:    MaxImagePixels,
		FFmpegPath:   "ffmpeg",
		Retry:        filesystem.DefaultRetryConfig(),
	}
}

// Default implements Adapter with imaging, the x/image decoders, libvips
// when initialized, ffmpeg for video frames and tag readers for artwork.
type Default struct {
	opts Options
}

// New returns a Default adapter.
func New(opts Options) *Default {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = MaxImageDimension
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = MaxImagePixels
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &Default{opts: opts}
}

// DecodeFile decodes the image at path, applying EXIF orientation and the
// size limits from Options.
func (d *Default) DecodeFile(ctx context.Context, path string) (image.Image, error) {
	start := time.Now()
	defer observe("decode_file", start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := loadImageConstrained(path, d.opts)
	if err != nil {
		metrics.CodecErrorsTotal.WithLabelValues("decode_file").Inc()
		return nil, fmt.Errorf("decode %s: %w: %w", path, item.ErrDecodeFailed, err)
	}
	return img, nil
}

// Decode decodes an in-memory image.
func (d *Default) Decode(data []byte) (image.Image, error) {
	start := time.Now()
	defer observe("decode", start)

	if len(data) == 0 {
		metrics.CodecErrorsTotal.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("decode: empty input: %w", item.ErrDecodeFailed)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		metrics.CodecErrorsTotal.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("decode: %w: %w", item.ErrDecodeFailed, err)
	}
	return img, nil
}

// Resize fits img inside size preserving aspect ratio. Images already
// inside the box are copied, not upscaled. The result is always *image.NRGBA.
func (d *Default) Resize(img image.Image, size item.Size, quality Quality) image.Image {
	start := time.Now()
	defer observe("resize", start)

	return imaging.Fit(img, size.Width, size.Height, quality.filter())
}

// Encode writes img as PNG. PNG is lossless, so a decoded cache file is
// pixel-identical to the image that was saved.
func (d *Default) Encode(w io.Writer, img image.Image) error {
	start := time.Now()
	defer observe("encode", start)

	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		metrics.CodecErrorsTotal.WithLabelValues("encode").Inc()
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.CodecOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
