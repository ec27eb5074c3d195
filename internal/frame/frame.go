// Package frame turns an uploaded image or video into the single 224x224
// RGBA raster the classifier consumes.
package frame

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

var (
	ErrUnsupportedFileType  = errors.New("unsupported file type")
	ErrDecode               = errors.New("failed to decode media")
	ErrExtractorUnavailable = errors.New("video extraction unavailable")
)

type Source string

const (
	SourceImage Source = "image"
	SourceVideo Source = "video"
)

// sniffLen matches the amount of data mimetype inspects by default.
const sniffLen = 3072

// Raster is a 224x224 non-premultiplied RGBA frame, row-major and interleaved.
type Raster struct {
	Pix []byte
}

// Frame is the acquired raster plus where it came from.
type Frame struct {
	Raster    *Raster
	Source    Source
	MIME      string
	Width     int
	Height    int
	Timestamp float64 // seconds into the video, 0 for images
}

// Detect classifies the media type of header, which should hold the first
// bytes of the file.
func Detect(header []byte) (Source, string, error) {
	mt := mimetype.Detect(header)
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return SourceImage, mt.String(), nil
		case strings.HasPrefix(m.String(), "video/"):
			return SourceVideo, mt.String(), nil
		}
	}
	return "", mt.String(), fmt.Errorf("%w: %s", ErrUnsupportedFileType, mt.String())
}

// FromImage stretches img onto the fixed raster size, the way a canvas
// drawImage into a 224x224 target would.
func FromImage(img image.Image) *Raster {
	size := uint(tensor.ImageSize)
	resized := resize.Resize(size, size, img, resize.Bilinear)

	dst := image.NewNRGBA(image.Rect(0, 0, tensor.ImageSize, tensor.ImageSize))
	draw.Draw(dst, dst.Bounds(), resized, resized.Bounds().Min, draw.Src)

	return &Raster{Pix: dst.Pix}
}

// DecodeImage decodes r honoring EXIF orientation and returns the raster
// along with the original dimensions.
func DecodeImage(r io.Reader) (*Raster, image.Rectangle, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return FromImage(img), img.Bounds(), nil
}

// Acquirer picks the frame extraction strategy from the file's content.
type Acquirer struct {
	Video   *VideoExtractor
	TempDir string
}

func NewAcquirer(video *VideoExtractor) *Acquirer {
	return &Acquirer{Video: video}
}

func (a *Acquirer) Acquire(ctx context.Context, name string, r io.Reader) (*Frame, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	header, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedFileType)
	}

	source, mime, err := Detect(header)
	if err != nil {
		return nil, err
	}

	switch source {
	case SourceImage:
		raster, bounds, err := DecodeImage(br)
		if err != nil {
			return nil, err
		}
		return &Frame{Raster: raster, Source: source, MIME: mime, Width: bounds.Dx(), Height: bounds.Dy()}, nil
	default:
		return a.acquireVideo(ctx, name, mime, br)
	}
}

func (a *Acquirer) acquireVideo(ctx context.Context, name, mime string, r io.Reader) (*Frame, error) {
	if a.Video == nil {
		return nil, fmt.Errorf("%w: video extraction is not configured", ErrUnsupportedFileType)
	}

	// ffmpeg needs a seekable input to jump to the middle of the clip
	tmp, err := os.CreateTemp(a.TempDir, "upload-*"+extension(name))
	if err != nil {
		return nil, fmt.Errorf("spool video: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("spool video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("spool video: %w", err)
	}

	frame, err := a.Video.Extract(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}
	frame.MIME = mime
	return frame, nil
}

func extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || strings.ContainsAny(name[i:], `/\`) {
		return ""
	}
	return name[i:]
}
