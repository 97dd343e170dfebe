// Package nn implements the few numeric layers the classifier needs:
// a 3x3 convolution, global average pooling, fully connected layers,
// softmax cross-entropy and plain SGD. Layers cache their last input so
// Backward can be called once after each Forward.
package nn

import (
	"errors"
	"math"
	"math/rand"
)

// Sentinel errors.
var (
	ErrShape = errors.New("shape mismatch")
	ErrLabel = errors.New("label out of range")
)

// Param is a learnable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64

	velocity []float64
}

func newParam(name string, n int) *Param {
	return &Param{Name: name, Value: make([]float64, n), Grad: make([]float64, n)}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

// uniformInit fills p with U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func uniformInit(p *Param, fanIn int, rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(fanIn))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * bound
	}
}

// Layer is a differentiable transform over a batch of vectors.
type Layer interface {
	Forward(x [][]float64) [][]float64
	Backward(dy [][]float64) [][]float64
	Params() []*Param
}

// Sequential chains layers.
type Sequential []Layer

// Forward runs every layer in order.
func (s Sequential) Forward(x [][]float64) [][]float64 {
	for _, l := range s {
		x = l.Forward(x)
	}
	return x
}

// Backward runs every layer in reverse.
func (s Sequential) Backward(dy [][]float64) [][]float64 {
	for i := len(s) - 1; i >= 0; i-- {
		dy = s[i].Backward(dy)
	}
	return dy
}

// Params returns all parameters in layer order.
func (s Sequential) Params() []*Param {
	var out []*Param
	for _, l := range s {
		out = append(out, l.Params()...)
	}
	return out
}

func matrix(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out
}
