package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/deepfake-api/internal/frame"
	"github.com/Brownie44l1/deepfake-api/internal/model"
	"github.com/Brownie44l1/deepfake-api/internal/score"
	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

type stubRunner struct {
	raw   []float32
	delay time.Duration
	seen  tensor.Input
}

func (s *stubRunner) Run(in tensor.Input) ([]float32, error) {
	s.seen = in
	time.Sleep(s.delay)
	return s.raw, nil
}

func (s *stubRunner) Close() error { return nil }

type slowAcquirer struct{}

func (slowAcquirer) Acquire(ctx context.Context, _ string, _ io.Reader) (*frame.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func grayPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newAnalyzer(runner model.Runner, timeout time.Duration) *Analyzer {
	ic := model.NewInferenceContextWithRunner(runner, model.NewFallback(3), quietLogger())
	return NewAnalyzer(frame.NewAcquirer(nil), ic, timeout, quietLogger())
}

func TestAnalyzeImageWithModel(t *testing.T) {
	runner := &stubRunner{raw: []float32{2.0, 0.0}}
	a := newAnalyzer(runner, time.Second)

	res, err := a.Analyze(context.Background(), "white.png", bytes.NewReader(grayPNG(t)))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "white.png", res.File)
	assert.Equal(t, frame.SourceImage, res.Source)
	assert.Equal(t, model.ModeModel, res.Mode)
	assert.Equal(t, "logits", res.Output)
	assert.Equal(t, score.Risk(1), res.Risk)
	assert.Equal(t, score.TierHigh, res.Verdict.Tier)
	assert.Equal(t, 100, res.Verdict.Percentage)

	// white frame normalizes to +1 everywhere
	require.Len(t, runner.seen, tensor.Len)
	assert.InDelta(t, 1.0, runner.seen[0], 0.01)
	assert.InDelta(t, 1.0, runner.seen[tensor.Len-1], 0.01)
}

func TestAnalyzeTensorScenarios(t *testing.T) {
	cases := []struct {
		raw  []float32
		tier score.Tier
		pct  int
	}{
		{[]float32{2.0, 0.0}, score.TierHigh, 100},
		{[]float32{0.05}, score.TierLow, 0},
		{[]float32{0.35}, score.TierModerate, 50},
	}

	for _, tc := range cases {
		a := newAnalyzer(&stubRunner{raw: tc.raw}, time.Second)
		res, err := a.AnalyzeTensor(context.Background(), make(tensor.Input, tensor.Len))
		require.NoError(t, err)
		assert.Equal(t, tc.tier, res.Verdict.Tier, "raw %v", tc.raw)
		assert.Equal(t, tc.pct, res.Verdict.Percentage, "raw %v", tc.raw)
	}
}

func TestAnalyzeFallbackMode(t *testing.T) {
	a := newAnalyzer(nil, time.Second)

	res, err := a.Analyze(context.Background(), "white.png", bytes.NewReader(grayPNG(t)))
	require.NoError(t, err)
	assert.Equal(t, model.ModeFallback, res.Mode)
	assert.Equal(t, "synthetic", res.Output)
	assert.GreaterOrEqual(t, float64(res.Risk), 0.0)
	assert.Less(t, float64(res.Risk), 1.0)
	assert.Equal(t, score.Classify(res.Risk), res.Verdict)
}

func TestAnalyzeErrors(t *testing.T) {
	a := newAnalyzer(nil, time.Second)

	_, err := a.Analyze(context.Background(), "notes.txt", bytes.NewReader([]byte("plain text")))
	assert.ErrorIs(t, err, frame.ErrUnsupportedFileType)

	_, err = a.AnalyzeTensor(context.Background(), make(tensor.Input, 12))
	assert.ErrorIs(t, err, tensor.ErrBufferSize)
}

func TestAnalyzeTimeouts(t *testing.T) {
	a := newAnalyzer(&stubRunner{raw: []float32{0.5}, delay: time.Second}, 20*time.Millisecond)
	_, err := a.AnalyzeTensor(context.Background(), make(tensor.Input, tensor.Len))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	a = newAnalyzer(nil, 20*time.Millisecond)
	a.Frames = slowAcquirer{}
	_, err = a.Analyze(context.Background(), "stuck.mp4", bytes.NewReader(nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewAnalyzerDefaultTimeout(t *testing.T) {
	a := NewAnalyzer(frame.NewAcquirer(nil), model.NewInferenceContextWithRunner(nil, model.NewFallback(1), quietLogger()), 0, quietLogger())
	assert.Equal(t, DefaultTimeout, a.Timeout)
}
