package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ModelConfig describes how the inference session is created.
type ModelConfig struct {
	Path         string
	MetadataPath string
	LibraryPath  string

	// ExecutionProviders are tried in order; cpu is always available.
	ExecutionProviders []string
	GraphOptimization  string
	IntraOpThreads     int
}

type VideoConfig struct {
	FFmpegPath  string
	FFprobePath string
}

type Config struct {
	Port           string
	Model          ModelConfig
	Video          VideoConfig
	RequestTimeout time.Duration
	MaxUploadMB    int64
	LogLevel       string
	LogFormat      string
}

var (
	graphLevels = map[string]bool{"disable": true, "basic": true, "extended": true, "all": true}
	providers   = map[string]bool{"cpu": true, "cuda": true, "coreml": true, "directml": true}
)

// Default returns the configuration used when neither flags nor
// environment variables override anything.
func Default() Config {
	return Config{
		Port: "8080",
		Model: ModelConfig{
			Path:               "models/deepfake_light.onnx",
			MetadataPath:       "models/model_metadata.json",
			ExecutionProviders: []string{"cpu"},
			GraphOptimization:  "all",
		},
		Video: VideoConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		RequestTimeout: 30 * time.Second,
		MaxUploadMB:    32,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// FromEnv overlays environment variables onto the defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	str("PORT", &cfg.Port)
	str("MODEL_PATH", &cfg.Model.Path)
	str("MODEL_METADATA", &cfg.Model.MetadataPath)
	str("ORT_LIB_PATH", &cfg.Model.LibraryPath)
	str("GRAPH_OPT_LEVEL", &cfg.Model.GraphOptimization)
	str("FFMPEG_PATH", &cfg.Video.FFmpegPath)
	str("FFPROBE_PATH", &cfg.Video.FFprobePath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	if v := getenv("EXECUTION_PROVIDERS"); v != "" {
		cfg.Model.ExecutionProviders = splitList(v)
	}
	if v := getenv("INTRA_OP_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("INTRA_OP_THREADS: %w", err)
		}
		cfg.Model.IntraOpThreads = n
	}
	if v := getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := getenv("MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("MAX_UPLOAD_MB: %w", err)
		}
		cfg.MaxUploadMB = n
	}

	return cfg, nil
}

// RegisterFlags binds flags to cfg so that values already loaded from the
// environment become the flag defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.StringVar(&c.Model.Path, "model", c.Model.Path, "Path to the ONNX model")
	fs.StringVar(&c.Model.MetadataPath, "metadata", c.Model.MetadataPath, "Path to the optional model metadata JSON")
	fs.StringVar(&c.Model.LibraryPath, "ort-lib", c.Model.LibraryPath, "Path to the onnxruntime shared library")
	fs.StringVar(&c.Model.GraphOptimization, "graph-opt", c.Model.GraphOptimization, "Graph optimization level: disable, basic, extended, all")
	fs.IntVar(&c.Model.IntraOpThreads, "threads", c.Model.IntraOpThreads, "Intra-op threads (0 lets onnxruntime decide)")
	fs.Func("providers", "Comma separated execution providers to try in order (default \""+strings.Join(c.Model.ExecutionProviders, ",")+"\")", func(v string) error {
		c.Model.ExecutionProviders = splitList(v)
		return nil
	})
	fs.StringVar(&c.Video.FFmpegPath, "ffmpeg", c.Video.FFmpegPath, "ffmpeg binary used to grab video frames")
	fs.StringVar(&c.Video.FFprobePath, "ffprobe", c.Video.FFprobePath, "ffprobe binary used to read video duration")
	fs.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "Per request analysis timeout")
	fs.Int64Var(&c.MaxUploadMB, "max-upload-mb", c.MaxUploadMB, "Maximum upload size in MiB")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: text or json")
}

// Load reads the environment, then parses args on top of it.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return cfg, err
	}
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if c.Model.Path == "" {
		errs = append(errs, errors.New("model path is empty"))
	}
	if !graphLevels[c.Model.GraphOptimization] {
		errs = append(errs, fmt.Errorf("unknown graph optimization level %q", c.Model.GraphOptimization))
	}
	for _, p := range c.Model.ExecutionProviders {
		if !providers[p] {
			errs = append(errs, fmt.Errorf("unknown execution provider %q", p))
		}
	}
	if c.Model.IntraOpThreads < 0 {
		errs = append(errs, errors.New("threads must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger from the configured level and format.
func (c Config) NewLogger() *log.Logger {
	logger := log.New()
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
