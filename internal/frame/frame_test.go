package frame

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var mp4Header = append([]byte("\x00\x00\x00\x20ftypisom\x00\x00\x02\x00isomiso2avc1mp41"), make([]byte, 64)...)

func TestDetect(t *testing.T) {
	src, mime, err := Detect(solidPNG(t, 4, 4, color.NRGBA{A: 255}))
	require.NoError(t, err)
	assert.Equal(t, SourceImage, src)
	assert.Equal(t, "image/png", mime)

	src, mime, err = Detect(mp4Header)
	require.NoError(t, err)
	assert.Equal(t, SourceVideo, src)
	assert.Equal(t, "video/mp4", mime)

	_, _, err = Detect([]byte("just some notes, not media"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestDecodeImageStretchesToRaster(t *testing.T) {
	raster, bounds, err := DecodeImage(bytes.NewReader(solidPNG(t, 50, 30, color.NRGBA{R: 255, B: 40, A: 255})))
	require.NoError(t, err)
	assert.Equal(t, 50, bounds.Dx())
	assert.Equal(t, 30, bounds.Dy())
	require.Len(t, raster.Pix, tensor.RasterLen)

	for i := 0; i < len(raster.Pix); i += 4 {
		assert.InDelta(t, 255, raster.Pix[i], 1)
		assert.InDelta(t, 0, raster.Pix[i+1], 1)
		assert.InDelta(t, 40, raster.Pix[i+2], 1)
		if t.Failed() {
			t.Fatalf("unexpected pixel at offset %d", i)
		}
	}

	_, err = tensor.Build(raster.Pix)
	assert.NoError(t, err)
}

func TestDecodeImageCorrupt(t *testing.T) {
	data := solidPNG(t, 8, 8, color.NRGBA{A: 255})
	_, _, err := DecodeImage(bytes.NewReader(data[:len(data)/2]))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestAcquireImage(t *testing.T) {
	a := NewAcquirer(nil)
	f, err := a.Acquire(context.Background(), "face.png", bytes.NewReader(solidPNG(t, 300, 200, color.NRGBA{G: 255, A: 255})))
	require.NoError(t, err)
	assert.Equal(t, SourceImage, f.Source)
	assert.Equal(t, "image/png", f.MIME)
	assert.Equal(t, 300, f.Width)
	assert.Equal(t, 200, f.Height)
	assert.Zero(t, f.Timestamp)
	assert.Len(t, f.Raster.Pix, tensor.RasterLen)
}

func TestAcquireRejects(t *testing.T) {
	a := NewAcquirer(nil)

	_, err := a.Acquire(context.Background(), "notes.txt", bytes.NewReader([]byte("hello")))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = a.Acquire(context.Background(), "empty.png", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	// video without an extractor configured
	_, err = a.Acquire(context.Background(), "clip.mp4", bytes.NewReader(mp4Header))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestAcquireVideoMissingTools(t *testing.T) {
	v := NewVideoExtractor("/nonexistent/ffmpeg", "/nonexistent/ffprobe", nil)
	a := &Acquirer{Video: v, TempDir: t.TempDir()}

	_, err := a.Acquire(context.Background(), "clip.mp4", bytes.NewReader(mp4Header))
	assert.ErrorIs(t, err, ErrExtractorUnavailable)
	assert.NotErrorIs(t, err, ErrDecode)

	// the spooled upload is cleaned up
	entries, err := os.ReadDir(a.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecodeErr(t *testing.T) {
	_, lookErr := exec.LookPath("definitely-not-ffmpeg")
	assert.ErrorIs(t, decodeErr("extract", lookErr), ErrExtractorUnavailable)
	assert.ErrorIs(t, decodeErr("extract", &os.PathError{Op: "fork/exec", Path: "/x/ffmpeg", Err: os.ErrNotExist}), ErrExtractorUnavailable)
	assert.ErrorIs(t, decodeErr("extract", os.ErrPermission), ErrExtractorUnavailable)

	err := decodeErr("extract", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrDecode)

	err = decodeErr("extract", errors.New("ffmpeg: exit status 1: moov atom not found"))
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrExtractorUnavailable)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".mp4", extension("clip.mp4"))
	assert.Equal(t, "", extension("clip"))
	assert.Equal(t, "", extension("dir.d/clip"))
}

func requireFFmpeg(t *testing.T) (string, string) {
	t.Helper()
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return ffmpeg, ffprobe
}

func TestExtractMidpointFrame(t *testing.T) {
	ffmpeg, ffprobe := requireFFmpeg(t)

	clip := filepath.Join(t.TempDir(), "clip.mp4")
	gen := exec.Command(ffmpeg, "-v", "error", "-f", "lavfi", "-i", "color=c=blue:s=64x48:d=2",
		"-pix_fmt", "yuv420p", clip)
	require.NoError(t, gen.Run())

	v := NewVideoExtractor(ffmpeg, ffprobe, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := v.Duration(ctx, clip)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 0.2)

	f, err := v.Extract(ctx, clip)
	require.NoError(t, err)
	assert.Equal(t, SourceVideo, f.Source)
	assert.InDelta(t, 1.0, f.Timestamp, 0.1)
	assert.Equal(t, 64, f.Width)
	require.Len(t, f.Raster.Pix, tensor.RasterLen)

	// blue dominates after yuv round trip
	assert.Greater(t, int(f.Raster.Pix[2]), int(f.Raster.Pix[0]))
}

func TestExtractHonorsCancel(t *testing.T) {
	ffmpeg, ffprobe := requireFFmpeg(t)
	v := NewVideoExtractor(ffmpeg, ffprobe, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Extract(ctx, filepath.Join(t.TempDir(), "none.mp4"))
	assert.ErrorIs(t, err, context.Canceled)
}
