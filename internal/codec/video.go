package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"time"

	"lazythumb/internal/item"
	"lazythumb/internal/metrics"
)

// ExtractVideoFrame grabs one frame at the given offset with ffmpeg. When
// seeking fails (clips shorter than the offset) it retries from the start.
func (d *Default) ExtractVideoFrame(ctx context.Context, path string, at time.Duration) (image.Image, error) {
	start := time.Now()
	defer observe("video_frame", start)

	if _, err := exec.LookPath(d.opts.FFmpegPath); err != nil {
		metrics.CodecErrorsTotal.WithLabelValues("video_frame").Inc()
		return nil, fmt.Errorf("ffmpeg not found: %w: %w", item.ErrDecodeFailed, err)
	}

	out, err := d.runFFmpeg(ctx, frameArgs(path, at))
	if err != nil && at > 0 && ctx.Err() == nil {
		log.Debug("frame at %s failed for %s: %v, retrying from start", at, path, err)
		out, err = d.runFFmpeg(ctx, frameArgs(path, 0))
	}
	if err != nil {
		metrics.CodecErrorsTotal.WithLabelValues("video_frame").Inc()
		return nil, fmt.Errorf("extract frame from %s: %w: %w", path, item.ErrDecodeFailed, err)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		metrics.CodecErrorsTotal.WithLabelValues("video_frame").Inc()
		return nil, fmt.Errorf("decode ffmpeg output: %w: %w", item.ErrDecodeFailed, err)
	}
	return img, nil
}

func frameArgs(path string, at time.Duration) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if at > 0 {
		args = append(args, "-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64))
	}
	return append(args,
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
}

// runFFmpeg runs ffmpeg and returns its stdout, treating empty output as failure.
func (d *Default) runFFmpeg(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.opts.FFmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}
