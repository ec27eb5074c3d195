package model

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/deepfake-api/internal/config"
	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

// Runner executes the model on one input tensor and returns the raw data of
// its first output.
type Runner interface {
	Run(input tensor.Input) ([]float32, error)
	Close() error
}

type Session struct {
	session *ort.DynamicAdvancedSession

	// index of the manipulated class in a two-logit output
	manipulated int
}

// Open initializes the onnxruntime environment and creates a session for
// cfg.Path. Every failure wraps ErrModelUnavailable.
func Open(cfg config.ModelConfig, logger log.FieldLogger) (*Session, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, unavailable("model asset", err)
	}

	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, unavailable("metadata", err)
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, unavailable("failed to initialize ONNX environment", err)
		}
	}

	s, err := newSession(cfg, metadata, logger)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}
	return s, nil
}

func newSession(cfg config.ModelConfig, metadata Metadata, logger log.FieldLogger) (*Session, error) {
	inputName, outputName := metadata.InputName, metadata.OutputName
	if inputName == "" || outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(cfg.Path)
		if err != nil {
			return nil, unavailable("failed to read model inputs", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, unavailable("model declares no inputs or outputs", nil)
		}
		if inputName == "" {
			inputName = inputs[0].Name
		}
		if outputName == "" {
			outputName = outputs[0].Name
		}
	}

	options, err := sessionOptions(cfg, logger)
	if err != nil {
		return nil, unavailable("failed to create session options", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{inputName}, []string{outputName}, options)
	if err != nil {
		return nil, unavailable("failed to create ONNX session", err)
	}

	logger.WithFields(log.Fields{
		"model":   cfg.Path,
		"input":   inputName,
		"output":  outputName,
		"classes": metadata.Classes,
	}).Info("model session ready")

	// validated by LoadMetadata
	manipulated, _ := metadata.manipulatedIndex()

	return &Session{
		session:     session,
		manipulated: manipulated,
	}, nil
}

func sessionOptions(cfg config.ModelConfig, logger log.FieldLogger) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			options.Destroy()
			return nil, err
		}
	}

	if err := options.SetGraphOptimizationLevel(graphLevel(cfg.GraphOptimization)); err != nil {
		options.Destroy()
		return nil, err
	}

	for _, name := range cfg.ExecutionProviders {
		if err := appendProvider(options, name); err != nil {
			logger.WithError(err).WithField("provider", name).Warn("execution provider unavailable, skipping")
			continue
		}
		logger.WithField("provider", name).Debug("execution provider enabled")
	}

	return options, nil
}

func appendProvider(options *ort.SessionOptions, name string) error {
	switch name {
	case "cpu":
		// onnxruntime always falls back to the CPU provider
		return nil
	case "cuda":
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		return options.AppendExecutionProviderCUDA(cuda)
	case "coreml":
		return options.AppendExecutionProviderCoreML(0)
	case "directml":
		return options.AppendExecutionProviderDirectML(0)
	default:
		return fmt.Errorf("unknown execution provider %q", name)
	}
}

func graphLevel(name string) ort.GraphOptimizationLevel {
	switch name {
	case "disable":
		return ort.GraphOptimizationLevelDisableAll
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic
	case "extended":
		return ort.GraphOptimizationLevelEnableExtended
	default:
		return ort.GraphOptimizationLevelEnableAll
	}
}

func (s *Session) Run(input tensor.Input) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(tensor.Shape...), []float32(input))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, errors.New("inference produced no output")
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: output is not a float32 tensor", ErrMalformedOutput)
	}

	// the tensor's memory is released on Destroy
	data := make([]float32, len(outputTensor.GetData()))
	copy(data, outputTensor.GetData())
	return orderLogits(data, s.manipulated), nil
}

func (s *Session) Close() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
	}
	return errors.Join(err, ort.DestroyEnvironment())
}

func unavailable(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrModelUnavailable, msg)
	}
	return fmt.Errorf("%w: %s: %v", ErrModelUnavailable, msg, err)
}
