package ffmpeg

import (
	"context"
	"time"

	"github.com/okian/clipfuse/pkg/logger"
)

// Option applies a configuration option to the Backend.
type Option func(*Backend)

// WithProbeCacheTTL sets how long probe results are reused. Zero disables caching.
func WithProbeCacheTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl >= 0 {
			b.probeTTL = ttl
		}
	}
}

// WithProbeTimeout bounds a single ffprobe call.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(b *Backend) {
		if timeout > 0 {
			b.probeTimeout = timeout
		}
	}
}

// WithLogger sets a custom logger for the backend.
func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// withProber replaces the ffprobe call, used by tests.
func withProber(p func(ctx context.Context, path string) (string, error)) Option {
	return func(b *Backend) {
		b.probe = p
	}
}

// withBinaries points the backend at other ffmpeg and ffprobe executables.
// Empty values keep the lookup on PATH.
func withBinaries(ffmpeg, ffprobe string) Option {
	return func(b *Backend) {
		if ffmpeg != "" {
			b.ffmpegBin = ffmpeg
		}
		if ffprobe != "" {
			b.ffprobeBin = ffprobe
		}
	}
}
