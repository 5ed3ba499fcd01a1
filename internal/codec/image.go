package codec

import (
	"fmt"
	"image"
	"math"

	"lazythumb/internal/filesystem"

	"github.com/disintegration/imaging"
)

const (
	// MaxImageDimension is the maximum width or height we'll process.
	// Images larger than this are downscaled first.
	MaxImageDimension = 4096

	// MaxImagePixels is the maximum total pixels (width * height) we'll process.
	// A 50MP image would use ~200MB in RGBA; 20MP keeps a decode near 80MB.
	MaxImagePixels = 20_000_000
)

// ImageDimensions holds image width and height
type ImageDimensions struct {
	Width  int
	Height int
}

// GetImageDimensions returns image dimensions without fully decoding the image
func GetImageDimensions(path string, retry filesystem.RetryConfig) (*ImageDimensions, error) {
	file, err := filesystem.OpenWithRetry(path, retry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, err
	}

	return &ImageDimensions{
		Width:  config.Width,
		Height: config.Height,
	}, nil
}

// constrainedSize returns the dimensions an image must be shrunk to so it
// fits maxDimension and maxPixels, and whether shrinking is needed at all.
func constrainedSize(width, height, maxDimension, maxPixels int) (int, int, bool) {
	if width <= maxDimension && height <= maxDimension && width*height <= maxPixels {
		return width, height, false
	}

	targetWidth, targetHeight := width, height

	if width > maxDimension || height > maxDimension {
		if width > height {
			targetWidth = maxDimension
			targetHeight = height * maxDimension / width
		} else {
			targetHeight = maxDimension
			targetWidth = width * maxDimension / height
		}
	}

	if targetPixels := targetWidth * targetHeight; targetPixels > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(targetPixels))
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}

	if targetWidth < 1 {
		targetWidth = 1
	}
	if targetHeight < 1 {
		targetHeight = 1
	}
	return targetWidth, targetHeight, true
}

// loadImageConstrained loads an image, downscaling if it exceeds size limits.
// libvips shrinks during decode when it is available, which keeps very large
// JPEGs from being fully materialized in memory.
func loadImageConstrained(path string, opts Options) (image.Image, error) {
	dimensions, err := GetImageDimensions(path, opts.Retry)
	if err != nil {
		log.Debug("Could not get image dimensions for %s: %v, decoding directly", path, err)
		return openImage(path, opts)
	}

	width, height, needsConstraint := constrainedSize(dimensions.Width, dimensions.Height, opts.MaxDimension, opts.MaxPixels)
	if !needsConstraint {
		return openImage(path, opts)
	}

	log.Info("Constraining large image %s from %dx%d to %dx%d",
		path, dimensions.Width, dimensions.Height, width, height)

	if IsVipsAvailable() {
		img, err := LoadImageWithVips(path, width, height)
		if err == nil {
			return img, nil
		}
		log.Debug("vips load failed for %s: %v, falling back to imaging", path, err)
	}

	img, err := openImage(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

func openImage(path string, opts Options) (image.Image, error) {
	file, err := filesystem.OpenWithRetry(path, opts.Retry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Debug("failed to close %s: %v", path, err)
		}
	}()

	return imaging.Decode(file, imaging.AutoOrientation(true))
}
