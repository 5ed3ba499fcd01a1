package codec

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lazythumb/internal/item"

	"github.com/dhowden/tag"
	"github.com/disintegration/imaging"
)

// gradient returns a non-uniform image so resize and round-trip checks mean something.
func gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

func TestParseQuality(t *testing.T) {
	tests := map[string]Quality{
		"low":    QualityLow,
		"medium": QualityMedium,
		"high":   QualityHigh,
		"":       QualityHigh,
		"ultra":  QualityHigh,
	}
	for in, want := range tests {
		if got := ParseQuality(in); got != want {
			t.Errorf("ParseQuality(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConstrainedSize(t *testing.T) {
	tests := []struct {
		name                 string
		width, height        int
		wantW, wantH         int
		wantConstrain        bool
		maxDim, maxPixelsArg int
	}{
		{"within limits", 800, 600, 800, 600, false, 4096, MaxImagePixels},
		{"wide", 8000, 2000, 4096, 1024, true, 4096, MaxImagePixels},
		{"tall", 1000, 5000, 819, 4096, true, 4096, MaxImagePixels},
		{"too many pixels", 4000, 4000, 2000, 2000, true, 4096, 4_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, constrain := constrainedSize(tt.width, tt.height, tt.maxDim, tt.maxPixelsArg)
			if constrain != tt.wantConstrain {
				t.Fatalf("constrain = %v, want %v", constrain, tt.wantConstrain)
			}
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResizeFitsBox(t *testing.T) {
	c := New(DefaultOptions())

	out := c.Resize(gradient(400, 200), item.Square(100), QualityHigh)
	if b := out.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("Resize() = %dx%d, want 100x50", b.Dx(), b.Dy())
	}
	if _, ok := out.(*image.NRGBA); !ok {
		t.Errorf("Resize() returned %T, want *image.NRGBA", out)
	}
}

func TestResizeDoesNotUpscale(t *testing.T) {
	c := New(DefaultOptions())

	out := c.Resize(gradient(40, 30), item.Square(256), QualityLow)
	if b := out.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("Resize() = %dx%d, want 40x30", b.Dx(), b.Dy())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New(DefaultOptions())
	src := gradient(64, 48)

	var buf bytes.Buffer
	if err := c.Encode(&buf, src); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := c.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(imaging.Clone(got).Pix, src.Pix) {
		t.Error("decoded pixels differ from encoded image")
	}
}

func TestDecodeErrors(t *testing.T) {
	c := New(DefaultOptions())

	if _, err := c.Decode(nil); !errors.Is(err, item.ErrDecodeFailed) {
		t.Errorf("Decode(nil) error = %v, want ErrDecodeFailed", err)
	}
	if _, err := c.Decode([]byte("not an image")); !errors.Is(err, item.ErrDecodeFailed) {
		t.Errorf("Decode(garbage) error = %v, want ErrDecodeFailed", err)
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	c := New(DefaultOptions())

	for _, name := range []string{"photo.jpg", "graphic.png"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeImage(t, path, gradient(120, 80))

			img, err := c.DecodeFile(context.Background(), path)
			if err != nil {
				t.Fatalf("DecodeFile() error = %v", err)
			}
			if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 80 {
				t.Errorf("DecodeFile() = %dx%d, want 120x80", b.Dx(), b.Dy())
			}
		})
	}
}

func TestDecodeFileConstrainsLargeImages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "large.png")
	writeImage(t, path, gradient(300, 100))

	opts := DefaultOptions()
	opts.MaxDimension = 150
	c := New(opts)

	img, err := c.DecodeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 150 || b.Dy() != 50 {
		t.Errorf("DecodeFile() = %dx%d, want 150x50", b.Dx(), b.Dy())
	}
}

func TestDecodeFileFailures(t *testing.T) {
	dir := t.TempDir()
	c := New(DefaultOptions())

	bogus := filepath.Join(dir, "bogus.jpg")
	if err := os.WriteFile(bogus, []byte("definitely not jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{bogus, filepath.Join(dir, "missing.png")} {
		if _, err := c.DecodeFile(context.Background(), path); !errors.Is(err, item.ErrDecodeFailed) {
			t.Errorf("DecodeFile(%s) error = %v, want ErrDecodeFailed", filepath.Base(path), err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.DecodeFile(ctx, bogus); !errors.Is(err, context.Canceled) {
		t.Errorf("DecodeFile() with cancelled context error = %v", err)
	}
}

func pictureBlock(mime string, data []byte) []byte {
	var b bytes.Buffer
	u32 := func(v int) {
		_ = binary.Write(&b, binary.BigEndian, uint32(v))
	}
	u32(3) // front cover
	u32(len(mime))
	b.WriteString(mime)
	u32(len("cover"))
	b.WriteString("cover")
	u32(1)
	u32(1)
	u32(24)
	u32(0)
	u32(len(data))
	b.Write(data)
	return b.Bytes()
}

func TestParsePictureBlock(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

	got, err := parsePictureBlock(pictureBlock("image/png", payload))
	if err != nil {
		t.Fatalf("parsePictureBlock() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("parsePictureBlock() = %v, want %v", got, payload)
	}

	block := pictureBlock("image/png", payload)
	if _, err := parsePictureBlock(block[:len(block)-3]); err == nil {
		t.Error("parsePictureBlock() accepted a truncated block")
	}
	if _, err := parsePictureBlock([]byte{0, 0}); err == nil {
		t.Error("parsePictureBlock() accepted a tiny block")
	}
}

type rawOnly struct {
	tag.Metadata
	raw map[string]interface{}
}

func (r rawOnly) Raw() map[string]interface{} { return r.raw }

func TestVorbisPicture(t *testing.T) {
	payload := []byte("cover-bytes")
	encoded := base64.StdEncoding.EncodeToString(pictureBlock("image/jpeg", payload))

	m := rawOnly{raw: map[string]interface{}{"METADATA_BLOCK_PICTURE": encoded}}
	if got := vorbisPicture(m); !bytes.Equal(got, payload) {
		t.Errorf("vorbisPicture() = %q, want %q", got, payload)
	}

	m = rawOnly{raw: map[string]interface{}{"metadata_block_picture": "!!not base64"}}
	if got := vorbisPicture(m); got != nil {
		t.Errorf("vorbisPicture() with bad encoding = %q, want nil", got)
	}
}

func TestReadEmbeddedArtworkMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.mp3")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0}, 512), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.FFmpegPath = filepath.Join(dir, "no-such-ffmpeg")
	c := New(opts)

	if _, err := c.ReadEmbeddedArtwork(context.Background(), path); !errors.Is(err, ErrNoArtwork) {
		t.Errorf("ReadEmbeddedArtwork() error = %v, want ErrNoArtwork", err)
	}
}

func TestExtractVideoFrameWithoutFFmpeg(t *testing.T) {
	opts := DefaultOptions()
	opts.FFmpegPath = filepath.Join(t.TempDir(), "no-such-ffmpeg")
	c := New(opts)

	if _, err := c.ExtractVideoFrame(context.Background(), "/tmp/clip.mp4", 0); !errors.Is(err, item.ErrDecodeFailed) {
		t.Errorf("ExtractVideoFrame() error = %v, want ErrDecodeFailed", err)
	}
}

func TestFrameArgs(t *testing.T) {
	args := frameArgs("/v/clip.mp4", 0)
	for _, a := range args {
		if a == "-ss" {
			t.Error("frameArgs(0) should not seek")
		}
	}

	args = frameArgs("/v/clip.mp4", 1500*time.Millisecond)
	found := false
	for i, a := range args {
		if a == "-ss" && i+1 < len(args) && args[i+1] == "1.500" {
			found = true
		}
	}
	if !found {
		t.Errorf("frameArgs(1.5s) = %v, want -ss 1.500", args)
	}
}
