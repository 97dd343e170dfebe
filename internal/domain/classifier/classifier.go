// Package classifier applies a per-frame feature extractor to every frame of
// a batch and hands the concatenated features to a fusion module.
package classifier

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/okian/clipfuse/internal/domain/fusion"
	"github.com/okian/clipfuse/internal/domain/model"
	"github.com/okian/clipfuse/internal/domain/nn"
)

const kernelSize = 3

// ErrBatchShape is returned when a batch does not match the model's frame contract.
var ErrBatchShape = errors.New("batch shape mismatch")

// FeatureExtractor is one 3x3 convolution followed by global average pooling.
type FeatureExtractor struct {
	conv *nn.Conv2D
	pool *nn.GlobalAvgPool
}

// NewFeatureExtractor creates an extractor emitting dim features per frame.
func NewFeatureExtractor(dim int, rng *rand.Rand) *FeatureExtractor {
	return &FeatureExtractor{
		conv: nn.NewConv2D("extractor.conv", model.Channels, dim, kernelSize, rng),
		pool: &nn.GlobalAvgPool{},
	}
}

// Dim is the length of each feature vector.
func (e *FeatureExtractor) Dim() int { return e.conv.OutC }

// Forward maps every frame to a feature vector.
func (e *FeatureExtractor) Forward(frames []model.Frame) [][]float64 {
	vols := make([]nn.Volume, len(frames))
	for i, f := range frames {
		vols[i] = nn.Volume{C: model.Channels, H: f.Height, W: f.Width, Data: f.Pix}
	}
	return e.pool.Forward(e.conv.Forward(vols))
}

// Backward accumulates extractor gradients from per-frame feature gradients.
func (e *FeatureExtractor) Backward(dy [][]float64) {
	e.conv.Backward(e.pool.Backward(dy))
}

// Params returns the convolution parameters.
func (e *FeatureExtractor) Params() []*nn.Param { return e.conv.Params() }

// Config sizes a Model.
type Config struct {
	Frames     int
	FrameSize  int
	FeatureDim int
	Hidden     int
	Classes    int
	Strategy   fusion.Strategy
	Seed       int64
}

// Model is the video classifier.
type Model struct {
	cfg       Config
	extractor *FeatureExtractor
	fusion    fusion.Module
	batch     int
}

// New builds a model; weights are drawn from a generator seeded by cfg.Seed.
func New(cfg Config) (*Model, error) {
	if cfg.FrameSize < kernelSize {
		return nil, fmt.Errorf("%w: frame size %d is smaller than the %dx%d kernel", ErrBatchShape, cfg.FrameSize, kernelSize, kernelSize)
	}
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // weight init, not security sensitive
	extractor := NewFeatureExtractor(cfg.FeatureDim, rng)
	head, err := fusion.New(cfg.Strategy, fusion.Dims{
		Frames:     cfg.Frames,
		FeatureDim: cfg.FeatureDim,
		Hidden:     cfg.Hidden,
		Classes:    cfg.Classes,
	}, rng)
	if err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, extractor: extractor, fusion: head}, nil
}

// Config returns the model's configuration.
func (m *Model) Config() Config { return m.cfg }

// Fusion returns the fusion module.
func (m *Model) Fusion() fusion.Module { return m.fusion }

// Forward returns class scores for every sample in b. Frames are flattened
// to one batch of B*F images, passed through the extractor, then regrouped
// frame-major into B vectors of F*D features for the fusion module.
func (m *Model) Forward(b model.Batch) ([][]float64, error) {
	flat := make([]model.Frame, 0, b.Len()*m.cfg.Frames)
	for _, s := range b.Samples {
		if len(s.Frames) != m.cfg.Frames {
			return nil, fmt.Errorf("%w: %s has %d frames, model expects %d", ErrBatchShape, s.Path, len(s.Frames), m.cfg.Frames)
		}
		for _, f := range s.Frames {
			if f.Height != m.cfg.FrameSize || f.Width != m.cfg.FrameSize || len(f.Pix) != model.Channels*f.Height*f.Width {
				return nil, fmt.Errorf("%w: %s has a %dx%d frame, model expects %dx%d",
					ErrBatchShape, s.Path, f.Height, f.Width, m.cfg.FrameSize, m.cfg.FrameSize)
			}
		}
		flat = append(flat, s.Frames...)
	}

	feats := m.extractor.Forward(flat)

	d := m.extractor.Dim()
	fused := make([][]float64, b.Len())
	for i := range fused {
		row := make([]float64, 0, m.cfg.Frames*d)
		for f := 0; f < m.cfg.Frames; f++ {
			row = append(row, feats[i*m.cfg.Frames+f]...)
		}
		fused[i] = row
	}
	m.batch = b.Len()
	return m.fusion.Forward(fused), nil
}

// Backward propagates score gradients from the last Forward through the
// fusion module and the extractor.
func (m *Model) Backward(dy [][]float64) {
	dx := m.fusion.Backward(dy)
	d := m.extractor.Dim()
	perFrame := make([][]float64, 0, m.batch*m.cfg.Frames)
	for _, row := range dx {
		for f := 0; f < m.cfg.Frames; f++ {
			perFrame = append(perFrame, row[f*d:(f+1)*d])
		}
	}
	m.extractor.Backward(perFrame)
}

// Params returns extractor then fusion parameters.
func (m *Model) Params() []*nn.Param {
	return append(m.extractor.Params(), m.fusion.Params()...)
}

// Predict returns the argmax class for every sample.
func (m *Model) Predict(b model.Batch) ([]int, error) {
	scores, err := m.Forward(b)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(scores))
	for i, row := range scores {
		out[i] = nn.Argmax(row)
	}
	return out, nil
}
