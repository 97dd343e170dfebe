// Package fusion combines the per-frame feature vectors of a clip into class scores.
//
// Three strategies are provided. They differ only in how the concatenated
// frame features are projected before classification:
//   - early: one projection, then the classifier
//   - mid:   three chained projections, then the classifier
//   - late:  one shared projection feeding two classifiers whose scores are averaged
package fusion

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/okian/clipfuse/internal/domain/nn"
)

// Strategy names a fusion variant.
type Strategy int

// Supported strategies.
const (
	Early Strategy = iota
	Mid
	Late
)

// ErrUnknownStrategy is returned by ParseStrategy.
var ErrUnknownStrategy = errors.New("unknown fusion strategy")

// String returns the configuration name of s.
func (s Strategy) String() string {
	switch s {
	case Early:
		return "early"
	case Mid:
		return "mid"
	case Late:
		return "late"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "early":
		return Early, nil
	case "mid":
		return Mid, nil
	case "late":
		return Late, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Dims describes a fusion module's shape.
type Dims struct {
	Frames     int // frames per clip
	FeatureDim int // features per frame
	Hidden     int // width of the first projection
	Classes    int
}

// InputDim is the length of one clip's concatenated features.
func (d Dims) InputDim() int { return d.Frames * d.FeatureDim }

// Module is a fusion strategy with learnable parameters.
type Module interface {
	nn.Layer
	Strategy() Strategy
}

// New builds the module for strategy s.
func New(s Strategy, d Dims, rng *rand.Rand) (Module, error) {
	if d.Frames < 1 || d.FeatureDim < 1 || d.Hidden < 4 || d.Classes < 1 {
		return nil, fmt.Errorf("%w: invalid fusion dims %+v", nn.ErrShape, d)
	}
	switch s {
	case Early:
		return newEarly(d, rng), nil
	case Mid:
		return newMid(d, rng), nil
	case Late:
		return newLate(d, rng), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
}

// chain is a fusion module that is a plain stack of linear layers.
type chain struct {
	nn.Sequential
	strategy Strategy
}

func (c *chain) Strategy() Strategy { return c.strategy }

func newEarly(d Dims, rng *rand.Rand) *chain {
	return &chain{
		strategy: Early,
		Sequential: nn.Sequential{
			nn.NewLinear("early.fc1", d.InputDim(), d.Hidden, rng),
			nn.NewLinear("early.fc2", d.Hidden, d.Classes, rng),
		},
	}
}

func newMid(d Dims, rng *rand.Rand) *chain {
	return &chain{
		strategy: Mid,
		Sequential: nn.Sequential{
			nn.NewLinear("mid.fc1", d.InputDim(), d.Hidden, rng),
			nn.NewLinear("mid.fc2", d.Hidden, d.Hidden/2, rng),
			nn.NewLinear("mid.fc3", d.Hidden/2, d.Hidden/4, rng),
			nn.NewLinear("mid.fc4", d.Hidden/4, d.Classes, rng),
		},
	}
}

// LateFusion projects once and averages two independent classifier heads.
type LateFusion struct {
	shared *nn.Linear
	headA  *nn.Linear
	headB  *nn.Linear
}

func newLate(d Dims, rng *rand.Rand) *LateFusion {
	return &LateFusion{
		shared: nn.NewLinear("late.fc1", d.InputDim(), d.Hidden, rng),
		headA:  nn.NewLinear("late.fc2a", d.Hidden, d.Classes, rng),
		headB:  nn.NewLinear("late.fc2b", d.Hidden, d.Classes, rng),
	}
}

// Strategy returns Late.
func (l *LateFusion) Strategy() Strategy { return Late }

// Branches returns the scores of both heads for x without averaging.
func (l *LateFusion) Branches(x [][]float64) (a, b [][]float64) {
	h := l.shared.Forward(x)
	return l.headA.Forward(h), l.headB.Forward(h)
}

// Forward returns the element-wise mean of both heads.
func (l *LateFusion) Forward(x [][]float64) [][]float64 {
	a, b := l.Branches(x)
	out := make([][]float64, len(a))
	for i := range a {
		out[i] = make([]float64, len(a[i]))
		for j := range a[i] {
			out[i][j] = (a[i][j] + b[i][j]) / 2
		}
	}
	return out
}

// Backward splits dy evenly between the heads and sums their input gradients.
func (l *LateFusion) Backward(dy [][]float64) [][]float64 {
	half := make([][]float64, len(dy))
	for i, row := range dy {
		half[i] = make([]float64, len(row))
		for j, v := range row {
			half[i][j] = v / 2
		}
	}
	da := l.headA.Backward(half)
	db := l.headB.Backward(half)
	for i := range da {
		for j := range da[i] {
			da[i][j] += db[i][j]
		}
	}
	return l.shared.Backward(da)
}

// Params returns shared, head A and head B parameters.
func (l *LateFusion) Params() []*nn.Param {
	out := l.shared.Params()
	out = append(out, l.headA.Params()...)
	return append(out, l.headB.Params()...)
}
