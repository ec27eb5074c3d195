package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/Brownie44l1/deepfake-api/internal/model"
)

// The model's useful probability range; it is stretched onto [0,1].
const (
	calibrationMin = 0.1
	calibrationMax = 0.6
)

var ErrUnknownOutput = errors.New("unknown model output kind")

// Risk is a calibrated score in [0,1].
type Risk float64

// Softmax returns the probability of the first of two logits.
func Softmax(l0, l1 float64) float64 {
	m := math.Max(l0, l1)
	e0 := math.Exp(l0 - m)
	e1 := math.Exp(l1 - m)
	return e0 / (e0 + e1)
}

// Recalibrate maps p linearly from [0.1,0.6] onto [0,1] and clamps.
func Recalibrate(p float64) Risk {
	return clamp((p - calibrationMin) / (calibrationMax - calibrationMin))
}

// Calibrate turns a model output into a risk. Synthetic fallback values are
// already on the risk scale and are only clamped.
func Calibrate(out model.Output) (Risk, error) {
	switch out.Kind {
	case model.KindLogits:
		return Recalibrate(Softmax(out.Logits[0], out.Logits[1])), nil
	case model.KindProbability:
		return Recalibrate(out.Value), nil
	case model.KindSynthetic:
		return clamp(out.Value), nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownOutput, out.Kind)
	}
}

func clamp(x float64) Risk {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return Risk(x)
	}
}
