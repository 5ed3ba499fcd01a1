package codec

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"lazythumb/internal/filesystem"
	"lazythumb/internal/metrics"

	"github.com/dhowden/tag"
)

// artworkSource pulls cover bytes out of one metadata key space.
type artworkSource struct {
	name    string
	extract func(tag.Metadata) []byte
}

// artworkSources are tried in order; the first non-empty result wins.
var artworkSources = []artworkSource{
	{"picture", func(m tag.Metadata) []byte {
		if p := m.Picture(); p != nil {
			return p.Data
		}
		return nil
	}},
	{"APIC", rawPicture("APIC")},
	{"PIC", rawPicture("PIC")},
	{"covr", rawPicture("covr")},
	{"METADATA_BLOCK_PICTURE", vorbisPicture},
}

func rawPicture(key string) func(tag.Metadata) []byte {
	return func(m tag.Metadata) []byte {
		raw := m.Raw()
		if raw == nil {
			return nil
		}
		if p, ok := raw[key].(*tag.Picture); ok && p != nil {
			return p.Data
		}
		return nil
	}
}

// vorbisPicture decodes a base64 METADATA_BLOCK_PICTURE comment.
func vorbisPicture(m tag.Metadata) []byte {
	for k, v := range m.Raw() {
		if !strings.EqualFold(k, "metadata_block_picture") {
			continue
		}
		switch val := v.(type) {
		case *tag.Picture:
			if val != nil {
				return val.Data
			}
		case string:
			block, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				continue
			}
			if data, err := parsePictureBlock(block); err == nil {
				return data
			}
		}
	}
	return nil
}

// parsePictureBlock extracts the image payload from a FLAC picture block:
// type, MIME, description, four dimension fields, then length-prefixed data.
func parsePictureBlock(b []byte) ([]byte, error) {
	off := 4
	for range 2 {
		if len(b) < off+4 {
			return nil, errors.New("picture block truncated")
		}
		n := int(binary.BigEndian.Uint32(b[off:]))
		off += 4 + n
	}
	off += 16
	if len(b) < off+4 {
		return nil, errors.New("picture block truncated")
	}
	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if n == 0 || len(b) < off+n {
		return nil, errors.New("picture data truncated")
	}
	return b[off : off+n], nil
}

// ReadEmbeddedArtwork returns the encoded cover image stored in an audio
// file's metadata. Tag readers are tried first; ffmpeg's attached-picture
// stream is the last resort. ErrNoArtwork means nothing was found.
func (d *Default) ReadEmbeddedArtwork(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	defer observe("artwork", start)

	data, source := d.readTagArtwork(path)
	if data == nil && ctx.Err() == nil {
		if out, err := d.attachedPicture(ctx, path); err == nil {
			data, source = out, "ffmpeg"
		} else {
			log.Debug("no attached picture stream in %s: %v", path, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data == nil {
		metrics.ArtworkSourceTotal.WithLabelValues("none").Inc()
		return nil, fmt.Errorf("%s: %w", path, ErrNoArtwork)
	}

	metrics.ArtworkSourceTotal.WithLabelValues(source).Inc()
	return data, nil
}

func (d *Default) readTagArtwork(path string) ([]byte, string) {
	f, err := filesystem.OpenWithRetry(path, d.opts.Retry)
	if err != nil {
		log.Debug("open %s for tags: %v", path, err)
		return nil, ""
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Debug("failed to close %s: %v", path, err)
		}
	}()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if !errors.Is(err, tag.ErrNoTagsFound) {
			log.Debug("read tags from %s: %v", path, err)
		}
		return nil, ""
	}

	for _, src := range artworkSources {
		if data := src.extract(m); len(data) > 0 {
			return data, src.name
		}
	}
	return nil, ""
}

func (d *Default) attachedPicture(ctx context.Context, path string) ([]byte, error) {
	if _, err := exec.LookPath(d.opts.FFmpegPath); err != nil {
		return nil, err
	}
	return d.runFFmpeg(ctx, []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-an",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	})
}
