package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// VideoExtractor grabs a single frame from the middle of a clip using the
// ffmpeg command line tools.
type VideoExtractor struct {
	FFmpegPath  string
	FFprobePath string
	Logger      log.FieldLogger
}

func NewVideoExtractor(ffmpeg, ffprobe string, logger log.FieldLogger) *VideoExtractor {
	return &VideoExtractor{FFmpegPath: ffmpeg, FFprobePath: ffprobe, Logger: logger}
}

// Duration returns the clip length in seconds, or 0 when the container does
// not report one.
func (v *VideoExtractor) Duration(ctx context.Context, path string) (float64, error) {
	out, err := run(ctx, v.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, decodeErr("probe duration", err)
	}

	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0, nil
	}
	return d, nil
}

// Extract seeks to the midpoint of the clip and decodes that frame. The
// context bounds both the probe and the decode.
func (v *VideoExtractor) Extract(ctx context.Context, path string) (*Frame, error) {
	start := time.Now()

	duration, err := v.Duration(ctx, path)
	if err != nil {
		return nil, err
	}
	ts := duration / 2

	png, err := run(ctx, v.FFmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-")
	if err != nil {
		return nil, decodeErr(fmt.Sprintf("extract frame at %.3fs", ts), err)
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("%w: no frame at %.3fs", ErrDecode, ts)
	}

	raster, bounds, err := DecodeImage(bytes.NewReader(png))
	if err != nil {
		return nil, err
	}

	if v.Logger != nil {
		v.Logger.WithFields(log.Fields{
			"duration":  duration,
			"timestamp": ts,
			"elapsed":   time.Since(start),
		}).Debug("video frame extracted")
	}

	return &Frame{
		Raster:    raster,
		Source:    SourceVideo,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Timestamp: ts,
	}, nil
}

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// decodeErr keeps cancellation and a missing toolchain distinguishable from
// a broken file.
func decodeErr(what string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", what, err)
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s: %v", ErrExtractorUnavailable, what, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrDecode, what, err)
	}
}
