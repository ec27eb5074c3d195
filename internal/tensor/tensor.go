package tensor

import (
	"errors"
	"fmt"
)

const (
	ImageSize = 224
	Channels  = 3

	// PixelStride is the number of interleaved samples per pixel (RGBA).
	PixelStride = 4

	Len       = Channels * ImageSize * ImageSize
	RasterLen = PixelStride * ImageSize * ImageSize
)

var ErrBufferSize = errors.New("tensor: raster buffer has wrong size")

// Shape is the model input shape: batch, channel, height, width.
var Shape = []int64{1, Channels, ImageSize, ImageSize}

// Input is a channel-planar float tensor with values in [-1, 1].
type Input []float32

// Build converts an interleaved 224x224 RGBA buffer into a planar RGB tensor.
// Alpha is dropped and each sample is mapped with v/127.5 - 1.
func Build(pix []byte) (Input, error) {
	if len(pix) != RasterLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrBufferSize, RasterLen, len(pix))
	}

	data := make(Input, Len)
	idx := 0
	for c := 0; c < Channels; c++ {
		for y := 0; y < ImageSize; y++ {
			for x := 0; x < ImageSize; x++ {
				src := (y*ImageSize+x)*PixelStride + c
				data[idx] = float32(pix[src])/127.5 - 1.0
				idx++
			}
		}
	}

	return data, nil
}

// Validate checks that a caller-supplied tensor has the expected length.
func (in Input) Validate() error {
	if len(in) != Len {
		return fmt.Errorf("%w: expected %d values, got %d", ErrBufferSize, Len, len(in))
	}
	return nil
}
