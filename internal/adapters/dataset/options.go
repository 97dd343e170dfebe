package dataset

import (
	"fmt"
	"strings"

	"github.com/okian/clipfuse/pkg/logger"
)

// ShortPolicy decides what happens to a clip that did not reach its frame count.
type ShortPolicy int

// Short-clip policies.
const (
	// Fail returns an error wrapping ErrIncompleteClip.
	Fail ShortPolicy = iota
	// Skip returns an error wrapping ErrSkipSample; loaders drop the sample.
	Skip
	// Pad repeats the last decoded frame until the count is met.
	Pad
)

// String returns the configuration name of p.
func (p ShortPolicy) String() string {
	switch p {
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	case Pad:
		return "pad"
	default:
		return fmt.Sprintf("ShortPolicy(%d)", int(p))
	}
}

// ParseShortPolicy maps a configuration name to a ShortPolicy.
func ParseShortPolicy(name string) (ShortPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fail":
		return Fail, nil
	case "skip":
		return Skip, nil
	case "pad":
		return Pad, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Option applies a configuration option to the Dataset.
type Option func(*Dataset)

// WithExtension sets the video file extension, with or without the leading dot.
func WithExtension(ext string) Option {
	return func(d *Dataset) {
		if ext = strings.TrimSpace(ext); ext != "" {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			d.ext = strings.ToLower(ext)
		}
	}
}

// WithLabelPolicy sets how videos are labelled.
func WithLabelPolicy(p LabelPolicy) Option {
	return func(d *Dataset) {
		if p != nil {
			d.labels = p
		}
	}
}

// WithShortPolicy sets the short-clip policy.
func WithShortPolicy(p ShortPolicy) Option {
	return func(d *Dataset) {
		d.short = p
	}
}

// WithRecursive makes enumeration descend into subdirectories.
func WithRecursive(recursive bool) Option {
	return func(d *Dataset) {
		d.recursive = recursive
	}
}

// WithLogger sets a custom logger for the dataset.
func WithLogger(l logger.Logger) Option {
	return func(d *Dataset) {
		if l != nil {
			d.logger = l
		}
	}
}
