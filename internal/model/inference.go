package model

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/deepfake-api/internal/config"
	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

type Mode string

const (
	ModeModel    Mode = "model"
	ModeFallback Mode = "fallback"
)

const (
	statusLoaded   = "Model loaded · Real-time deepfake scoring active."
	statusFallback = "Model not found · Using synthetic scores for demo."
)

// InferenceContext is built once at startup and passed to every analysis.
// It never changes mode after construction.
type InferenceContext struct {
	runner   Runner
	fallback *Fallback
	loadErr  error
	logger   log.FieldLogger

	// runs that may outlive their request after a deadline
	inflight sync.WaitGroup
}

// NewInferenceContext opens the configured model. If that fails the context
// is permanently in fallback mode; the failure is kept for LoadError.
func NewInferenceContext(cfg config.ModelConfig, logger log.FieldLogger) *InferenceContext {
	session, err := Open(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("model load failed, using synthetic scores")
		return &InferenceContext{
			fallback: NewRandomFallback(),
			loadErr:  err,
			logger:   logger,
		}
	}
	return NewInferenceContextWithRunner(session, NewRandomFallback(), logger)
}

// NewInferenceContextWithRunner wraps an already opened runner. A nil runner
// yields a fallback-only context.
func NewInferenceContextWithRunner(runner Runner, fallback *Fallback, logger log.FieldLogger) *InferenceContext {
	c := &InferenceContext{
		runner:   runner,
		fallback: fallback,
		logger:   logger,
	}
	if runner == nil {
		c.loadErr = ErrModelUnavailable
	}
	return c
}

func (c *InferenceContext) Mode() Mode {
	if c.runner == nil {
		return ModeFallback
	}
	return ModeModel
}

// Status is the informational line shown to users.
func (c *InferenceContext) Status() string {
	if c.runner == nil {
		return statusFallback
	}
	return statusLoaded
}

func (c *InferenceContext) LoadError() error {
	return c.loadErr
}

type runResult struct {
	raw []float32
	err error
}

// Infer scores input. Without a model it returns a synthetic draw and never
// fails. Malformed model output also degrades to a synthetic draw.
func (c *InferenceContext) Infer(ctx context.Context, input tensor.Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	if c.runner == nil {
		return Synthetic(c.fallback.Draw()), nil
	}

	// onnxruntime cannot be interrupted; the goroutine finishes on its own
	done := make(chan runResult, 1)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		raw, err := c.runner.Run(input)
		done <- runResult{raw: raw, err: err}
	}()

	var res runResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}

	if res.err != nil && !errors.Is(res.err, ErrMalformedOutput) {
		return Output{}, res.err
	}

	out, err := OutputFromRaw(res.raw)
	if res.err != nil {
		err = res.err
	}
	if err != nil {
		c.logger.WithError(err).Warn("unusable model output, using synthetic score")
		return Synthetic(c.fallback.Draw()), nil
	}

	return out, nil
}

// Close waits for runs still in flight before releasing the runner.
func (c *InferenceContext) Close() error {
	if c.runner == nil {
		return nil
	}
	c.inflight.Wait()
	return c.runner.Close()
}
