package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrMalformedOutput  = errors.New("malformed model output")
)

// Metadata is the optional sidecar file shipped next to the model. Empty
// names are discovered from the model itself.
type Metadata struct {
	InputName  string   `json:"input_name"`
	OutputName string   `json:"output_name"`
	InputShape []int64  `json:"input_shape"`
	Classes    []string `json:"classes"`
	ImageSize  int      `json:"image_size"`
}

// LoadMetadata reads path. A missing file is not an error.
func LoadMetadata(path string) (Metadata, error) {
	var metadata Metadata
	if path == "" {
		return metadata, nil
	}

	metaFile, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return metadata, nil
	}
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata: %w", err)
	}

	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return metadata, metadata.validate()
}

// ClassManipulated names the output that carries the manipulation score.
const ClassManipulated = "manipulated"

func (m Metadata) validate() error {
	if _, err := m.manipulatedIndex(); err != nil {
		return err
	}
	if m.ImageSize != 0 && m.ImageSize != tensor.ImageSize {
		return fmt.Errorf("metadata image_size %d, pipeline uses %d", m.ImageSize, tensor.ImageSize)
	}
	if len(m.InputShape) == 0 {
		return nil
	}
	if len(m.InputShape) != len(tensor.Shape) {
		return fmt.Errorf("metadata input_shape %v, pipeline uses %v", m.InputShape, tensor.Shape)
	}
	for i, d := range m.InputShape {
		// -1 marks a dynamic axis
		if d != -1 && d != tensor.Shape[i] {
			return fmt.Errorf("metadata input_shape %v, pipeline uses %v", m.InputShape, tensor.Shape)
		}
	}
	return nil
}

// manipulatedIndex reports which of the two logits belongs to the
// manipulated class. Without classes the model is assumed to emit
// (manipulated, authentic).
func (m Metadata) manipulatedIndex() (int, error) {
	if len(m.Classes) == 0 {
		return 0, nil
	}
	if len(m.Classes) != 2 {
		return 0, fmt.Errorf("metadata classes %v, expected two", m.Classes)
	}
	switch {
	case m.Classes[0] == ClassManipulated && m.Classes[1] != ClassManipulated:
		return 0, nil
	case m.Classes[1] == ClassManipulated && m.Classes[0] != ClassManipulated:
		return 1, nil
	default:
		return 0, fmt.Errorf("metadata classes %v must name %q exactly once", m.Classes, ClassManipulated)
	}
}

// orderLogits puts the manipulated logit first. Other shapes pass through.
func orderLogits(raw []float32, manipulated int) []float32 {
	if len(raw) != 2 || manipulated == 0 {
		return raw
	}
	return []float32{raw[1], raw[0]}
}

type Kind int

const (
	// KindLogits holds an unnormalized (manipulated, authentic) pair.
	KindLogits Kind = iota + 1
	// KindProbability holds a single probability-like scalar from the model.
	KindProbability
	// KindSynthetic holds a fallback draw that is already on the risk scale.
	KindSynthetic
)

func (k Kind) String() string {
	switch k {
	case KindLogits:
		return "logits"
	case KindProbability:
		return "probability"
	case KindSynthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Output is what the inference adapter hands to the calibrator.
type Output struct {
	Kind   Kind
	Logits [2]float64
	Value  float64
}

func Logits(manipulated, authentic float64) Output {
	return Output{Kind: KindLogits, Logits: [2]float64{manipulated, authentic}}
}

func Probability(p float64) Output {
	return Output{Kind: KindProbability, Value: p}
}

func Synthetic(r float64) Output {
	return Output{Kind: KindSynthetic, Value: r}
}

// OutputFromRaw maps the model's flat output onto a tagged Output.
func OutputFromRaw(raw []float32) (Output, error) {
	for _, v := range raw {
		if math.IsNaN(float64(v)) {
			return Output{}, fmt.Errorf("%w: NaN in %v", ErrMalformedOutput, raw)
		}
	}

	switch len(raw) {
	case 2:
		return Logits(float64(raw[0]), float64(raw[1])), nil
	case 1:
		return Probability(float64(raw[0])), nil
	default:
		return Output{}, fmt.Errorf("%w: %d values", ErrMalformedOutput, len(raw))
	}
}
