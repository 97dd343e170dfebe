// Package sampling selects evenly spaced frames from a video and turns them
// into normalized CHW frames.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/clipfuse/internal/domain/model"
	"github.com/okian/clipfuse/pkg/logger"
	"github.com/okian/clipfuse/pkg/metrics"
)

// Default sampler configuration constants.
const (
	defaultFrames    = 16
	defaultFrameSize = 112
)

// Sentinel errors.
var (
	ErrProbe  = errors.New("probe video failed")
	ErrDecode = errors.New("decode frame failed")
)

// FrameSource is the video backend the sampler reads from.
type FrameSource interface {
	// FrameCount returns the number of frames the container reports.
	FrameCount(ctx context.Context, path string) (int, error)
	// DecodeRGB24 returns frame index of path scaled to size x size as packed rgb24.
	DecodeRGB24(ctx context.Context, path string, index, size int) ([]byte, error)
}

// EvenIndices returns n frame indices spread evenly over [0, total-1],
// including both ends. Each index is floor(i*(total-1)/(n-1)).
func EvenIndices(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}
	out := make([]int, n)
	last := total - 1
	for i := range out {
		out[i] = i * last / (n - 1)
	}
	return out
}

// Option applies a configuration option to the Sampler.
type Option func(*Sampler)

// WithFrames sets how many frames are sampled per video.
func WithFrames(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.frames = n
		}
	}
}

// WithFrameSize sets the side of the square output frames.
func WithFrameSize(size int) Option {
	return func(s *Sampler) {
		if size > 0 {
			s.size = size
		}
	}
}

// WithLogger sets a custom logger for the sampler.
func WithLogger(l logger.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sampler draws a fixed number of frames from each video.
type Sampler struct {
	source FrameSource
	frames int
	size   int
	logger logger.Logger
}

// NewSampler creates a sampler over source.
func NewSampler(source FrameSource, opts ...Option) *Sampler {
	s := &Sampler{
		source: source,
		frames: defaultFrames,
		size:   defaultFrameSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("sampler")
	}
	return s
}

// Frames is the number of frames requested per clip.
func (s *Sampler) Frames() int { return s.frames }

// FrameSize is the side of the square output frames.
func (s *Sampler) FrameSize() int { return s.size }

// Sample decodes the evenly spaced frames of path. A decode failure stops
// sampling: the frames gathered so far are returned with Clip.Err set and
// Complete() false. Only probe failures and cancellation return an error.
func (s *Sampler) Sample(ctx context.Context, path string) (model.Clip, error) {
	clip := model.Clip{Path: path, Requested: s.frames}

	total, err := s.source.FrameCount(ctx, path)
	if err != nil {
		metrics.RecordErrorByComponent("sampler", "probe")
		return clip, fmt.Errorf("%w: %s: %w", ErrProbe, path, err)
	}
	clip.TotalCount = total

	indices := EvenIndices(total, s.frames)
	clip.Frames = make([]model.Frame, 0, len(indices))
	clip.Indices = make([]int, 0, len(indices))

	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return clip, fmt.Errorf("sample %s: %w", path, err)
		}
		start := time.Now()
		raw, err := s.source.DecodeRGB24(ctx, path, idx, s.size)
		if err == nil {
			var f model.Frame
			f, err = model.FrameFromRGB24(raw, s.size, s.size)
			if err == nil {
				metrics.RecordFrameDecoded(time.Since(start))
				clip.Frames = append(clip.Frames, f)
				clip.Indices = append(clip.Indices, idx)
				continue
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return clip, fmt.Errorf("sample %s: %w", path, ctxErr)
		}
		clip.Err = fmt.Errorf("%w: %s frame %d: %w", ErrDecode, path, idx, err)
		metrics.RecordErrorByComponent("sampler", "decode")
		break
	}

	if len(indices) < s.frames && clip.Err == nil {
		clip.Err = fmt.Errorf("%w: %s reports %d frames", ErrDecode, path, total)
	}

	metrics.RecordClipSampled(clip.Complete())
	if !clip.Complete() {
		s.logger.Warn(ctx, "clip shorter than requested",
			logger.String("path", path),
			logger.Int("requested", s.frames),
			logger.Int("decoded", len(clip.Frames)),
			logger.Error(clip.Err),
		)
	}
	return clip, nil
}
