// Package config defines pipeline configuration structures and loading hooks.
//
// Conventions:
// - New returns a Config populated with defaults.
// - Load layers defaults, an optional YAML file and CLIPFUSE_* env vars.
// - Validation errors wrap ErrInvalidConfig; load errors wrap ErrLoadConfig.
package config

import (
	"fmt"
	"strings"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsAddr is the listen address for /healthz and /stats. Empty disables the listener.
	MetricsAddr string `koanf:"metrics_addr"`

	// VideoDir is the directory scanned for video files.
	VideoDir string `koanf:"video_dir"`

	// Extension selects which files in VideoDir are videos.
	Extension string `koanf:"extension"`

	// Frames is the number of frames sampled per video.
	Frames int `koanf:"frames"`

	// FrameSize is the side of the square each frame is resized to.
	FrameSize int `koanf:"frame_size"`

	// FeatureDim is the number of convolution output channels.
	FeatureDim int `koanf:"feature_dim"`

	// HiddenDim is the width of the first fusion projection.
	HiddenDim int `koanf:"hidden_dim"`

	// Classes is the number of output classes.
	Classes int `koanf:"classes"`

	// Fusion selects the fusion strategy: early, mid or late.
	Fusion string `koanf:"fusion"`

	Epochs       int     `koanf:"epochs"`
	BatchSize    int     `koanf:"batch_size"`
	LearningRate float64 `koanf:"learning_rate"`
	Momentum     float64 `koanf:"momentum"`
	Shuffle      bool    `koanf:"shuffle"`

	// Seed drives weight initialization and shuffling.
	Seed int64 `koanf:"seed"`

	// DecodeWorkers bounds concurrent video decodes in the loader.
	DecodeWorkers int `koanf:"decode_workers"`

	// ShortPolicy decides what to do with clips that have too few frames: fail, skip or pad.
	ShortPolicy string `koanf:"short_policy"`

	// LabelClasses, when set, labels each video by its parent directory name.
	LabelClasses []string `koanf:"label_classes"`

	// ProbeCacheTTLSeconds controls how long ffprobe results are reused.
	ProbeCacheTTLSeconds int `koanf:"probe_cache_ttl_s"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		MetricsAddr:          "",
		VideoDir:             "videos",
		Extension:            ".mp4",
		Frames:               16,
		FrameSize:            112,
		FeatureDim:           64,
		HiddenDim:            512,
		Classes:              10,
		Fusion:               "early",
		Epochs:               10,
		BatchSize:            4,
		LearningRate:         0.001,
		Momentum:             0,
		Shuffle:              true,
		Seed:                 42,
		DecodeWorkers:        1,
		ShortPolicy:          "pad",
		ProbeCacheTTLSeconds: 300,
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.VideoDir) == "":
		return fmt.Errorf("%w: video_dir must not be empty", ErrInvalidConfig)
	case c.Frames < 1:
		return fmt.Errorf("%w: frames must be positive", ErrInvalidConfig)
	case c.FrameSize < 3:
		return fmt.Errorf("%w: frame_size must be at least 3", ErrInvalidConfig)
	case c.FeatureDim < 1:
		return fmt.Errorf("%w: feature_dim must be positive", ErrInvalidConfig)
	case c.HiddenDim < 4:
		return fmt.Errorf("%w: hidden_dim must be at least 4", ErrInvalidConfig)
	case c.Classes < 1:
		return fmt.Errorf("%w: classes must be positive", ErrInvalidConfig)
	case c.Epochs < 0:
		return fmt.Errorf("%w: epochs must not be negative", ErrInvalidConfig)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive", ErrInvalidConfig)
	case c.Momentum < 0 || c.Momentum >= 1:
		return fmt.Errorf("%w: momentum must be in [0,1)", ErrInvalidConfig)
	case c.DecodeWorkers < 1:
		return fmt.Errorf("%w: decode_workers must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Fusion) {
	case "early", "mid", "late":
	default:
		return fmt.Errorf("%w: unknown fusion %q", ErrInvalidConfig, c.Fusion)
	}
	switch strings.ToLower(c.ShortPolicy) {
	case "fail", "skip", "pad":
	default:
		return fmt.Errorf("%w: unknown short_policy %q", ErrInvalidConfig, c.ShortPolicy)
	}
	if len(c.LabelClasses) > 0 && len(c.LabelClasses) != c.Classes {
		return fmt.Errorf("%w: label_classes has %d names but classes is %d", ErrInvalidConfig, len(c.LabelClasses), c.Classes)
	}
	return nil
}
