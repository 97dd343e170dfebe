package loader

import "errors"

// Sentinel errors for the batch loader.
var (
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrEmptySource      = errors.New("source has no samples")
)
