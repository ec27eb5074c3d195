package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/deepfake-api/internal/frame"
	"github.com/Brownie44l1/deepfake-api/internal/model"
	"github.com/Brownie44l1/deepfake-api/internal/score"
	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

const DefaultTimeout = 30 * time.Second

type Timings struct {
	Acquire   time.Duration `json:"acquire"`
	Preproc   time.Duration `json:"preprocess"`
	Inference time.Duration `json:"inference"`
	Total     time.Duration `json:"total"`
}

type Result struct {
	RequestID string        `json:"request_id"`
	File      string        `json:"file,omitempty"`
	Source    frame.Source  `json:"source,omitempty"`
	MIME      string        `json:"mime,omitempty"`
	Timestamp float64       `json:"frame_timestamp,omitempty"`
	Mode      model.Mode    `json:"mode"`
	Output    string        `json:"output_kind"`
	Risk      score.Risk    `json:"risk"`
	Verdict   score.Verdict `json:"verdict"`
	Timings   Timings       `json:"timings"`
}

// Acquirer produces the frame for one upload.
type Acquirer interface {
	Acquire(ctx context.Context, name string, r io.Reader) (*frame.Frame, error)
}

// Analyzer runs frame acquisition through classification for one request
// at a time; it holds no per-request state.
type Analyzer struct {
	Frames    Acquirer
	Inference *model.InferenceContext
	Timeout   time.Duration
	Logger    log.FieldLogger
}

func NewAnalyzer(frames Acquirer, inference *model.InferenceContext, timeout time.Duration, logger log.FieldLogger) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{
		Frames:    frames,
		Inference: inference,
		Timeout:   timeout,
		Logger:    logger,
	}
}

// Analyze scores one uploaded image or video.
func (a *Analyzer) Analyze(ctx context.Context, name string, r io.Reader) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	res := a.newResult()
	res.File = name
	logger := a.Logger.WithFields(log.Fields{"request_id": res.RequestID, "file": name})

	acquireStart := time.Now()
	f, err := a.Frames.Acquire(ctx, name, r)
	if err != nil {
		logger.WithError(err).Info("frame acquisition failed")
		return nil, err
	}
	res.Timings.Acquire = time.Since(acquireStart)
	res.Source, res.MIME, res.Timestamp = f.Source, f.MIME, f.Timestamp

	logger = logger.WithField("source", f.Source)
	logger.WithFields(log.Fields{"width": f.Width, "height": f.Height, "mime": f.MIME}).Debug("frame acquired")

	prepStart := time.Now()
	input, err := tensor.Build(f.Raster.Pix)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	res.Timings.Preproc = time.Since(prepStart)

	if err := a.score(ctx, input, res); err != nil {
		logger.WithError(err).Warn("scoring failed")
		return nil, err
	}

	res.Timings.Total = time.Since(start)
	a.logResult(logger, res)
	return res, nil
}

// AnalyzeTensor scores a caller-built tensor, skipping frame acquisition.
func (a *Analyzer) AnalyzeTensor(ctx context.Context, input tensor.Input) (*Result, error) {
	start := time.Now()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	res := a.newResult()
	logger := a.Logger.WithField("request_id", res.RequestID)

	if err := a.score(ctx, input, res); err != nil {
		logger.WithError(err).Warn("scoring failed")
		return nil, err
	}

	res.Timings.Total = time.Since(start)
	a.logResult(logger, res)
	return res, nil
}

func (a *Analyzer) newResult() *Result {
	return &Result{
		RequestID: uuid.NewString(),
		Mode:      a.Inference.Mode(),
	}
}

func (a *Analyzer) score(ctx context.Context, input tensor.Input, res *Result) error {
	inferStart := time.Now()
	out, err := a.Inference.Infer(ctx, input)
	if err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	res.Timings.Inference = time.Since(inferStart)

	risk, err := score.Calibrate(out)
	if err != nil {
		return err
	}

	res.Output = out.Kind.String()
	res.Risk = risk
	res.Verdict = score.Classify(risk)
	return nil
}

func (a *Analyzer) logResult(logger log.FieldLogger, res *Result) {
	logger.WithFields(log.Fields{
		"mode":       res.Mode,
		"output":     res.Output,
		"tier":       res.Verdict.Tier,
		"percentage": res.Verdict.Percentage,
	}).Info("analysis complete")

	logger.WithFields(log.Fields{
		"acquire":   res.Timings.Acquire,
		"preproc":   res.Timings.Preproc,
		"inference": res.Timings.Inference,
		"total":     res.Timings.Total,
	}).Debug("processing times")
}
