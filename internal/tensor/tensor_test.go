package tensor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(v byte) []byte {
	return bytes.Repeat([]byte{v}, RasterLen)
}

func TestBuildUniformValues(t *testing.T) {
	cases := []struct {
		name  string
		value byte
		want  float32
		delta float64
	}{
		{"black", 0, -1.0, 0},
		{"white", 255, 1.0, 0},
		{"gray", 127, -0.00392, 1e-4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := Build(uniform(tc.value))
			require.NoError(t, err)
			require.Len(t, in, Len)
			for i, v := range in {
				if tc.delta == 0 {
					if v != tc.want {
						t.Fatalf("index %d: got %v, want %v", i, v, tc.want)
					}
					continue
				}
				assert.InDelta(t, tc.want, v, tc.delta)
			}
		})
	}
}

func TestBuildLength(t *testing.T) {
	in, err := Build(uniform(10))
	require.NoError(t, err)
	assert.Equal(t, 150528, len(in))
	assert.NoError(t, in.Validate())
}

func TestBuildPlanarLayout(t *testing.T) {
	pix := make([]byte, RasterLen)
	// pixel (x=3, y=5) gets distinct channel values, alpha is noise
	p := (5*ImageSize + 3) * PixelStride
	pix[p+0] = 255
	pix[p+1] = 0
	pix[p+2] = 51
	pix[p+3] = 200

	in, err := Build(pix)
	require.NoError(t, err)

	plane := ImageSize * ImageSize
	i := 5*ImageSize + 3
	assert.Equal(t, float32(1.0), in[i])
	assert.Equal(t, float32(-1.0), in[plane+i])
	assert.InDelta(t, 51.0/127.5-1.0, in[2*plane+i], 1e-6)

	// the neighbouring pixel is untouched
	assert.Equal(t, float32(-1.0), in[i+1])
}

func TestBuildRejectsWrongSize(t *testing.T) {
	for _, n := range []int{0, RasterLen - 1, RasterLen + 4, 3 * ImageSize * ImageSize} {
		_, err := Build(make([]byte, n))
		assert.ErrorIs(t, err, ErrBufferSize, "size %d", n)
	}
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Input(make([]float32, 10)).Validate(), ErrBufferSize)
	assert.NoError(t, Input(make([]float32, Len)).Validate())
}
