package loader

import (
	"github.com/okian/clipfuse/pkg/logger"
)

// Option applies a configuration option to the Loader.
type Option func(*Loader)

// WithBatchSize sets the number of samples per batch.
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		l.batchSize = n
	}
}

// WithShuffle permutes sample order at the start of every pass.
func WithShuffle(shuffle bool) Option {
	return func(l *Loader) {
		l.shuffle = shuffle
	}
}

// WithSeed seeds the shuffle permutation.
func WithSeed(seed int64) Option {
	return func(l *Loader) {
		l.seed = seed
	}
}

// WithWorkers sets how many samples are decoded concurrently.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithLogger sets a custom logger for the loader.
func WithLogger(l logger.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}
