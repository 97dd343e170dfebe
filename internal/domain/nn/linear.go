package nn

import (
	"fmt"
	"math/rand"

	"github.com/tphakala/simd/f64"
)

// Linear is a fully connected layer y = Wx + b with W stored row-major (Out x In).
type Linear struct {
	In, Out int
	W, B    *Param

	input [][]float64
}

// NewLinear creates a Linear layer with PyTorch-style uniform initialization.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   newParam(name+".weight", in*out),
		B:   newParam(name+".bias", out),
	}
	uniformInit(l.W, in, rng)
	uniformInit(l.B, in, rng)
	return l
}

func (l *Linear) row(o int) []float64 {
	return l.W.Value[o*l.In : (o+1)*l.In]
}

// Forward maps each row of x (len In) to a row of len Out.
func (l *Linear) Forward(x [][]float64) [][]float64 {
	l.input = x
	out := matrix(len(x), l.Out)
	for b, xb := range x {
		if len(xb) != l.In {
			panic(fmt.Errorf("%w: linear %s expects %d inputs, got %d", ErrShape, l.W.Name, l.In, len(xb)))
		}
		for o := 0; o < l.Out; o++ {
			out[b][o] = f64.DotProduct(l.row(o), xb) + l.B.Value[o]
		}
	}
	return out
}

// Backward accumulates weight and bias gradients and returns dL/dx.
func (l *Linear) Backward(dy [][]float64) [][]float64 {
	dx := matrix(len(dy), l.In)
	for b, g := range dy {
		xb := l.input[b]
		for o, gv := range g {
			if gv == 0 {
				continue
			}
			l.B.Grad[o] += gv
			wrow := l.row(o)
			grow := l.W.Grad[o*l.In : (o+1)*l.In]
			for i := range grow {
				grow[i] += gv * xb[i]
				dx[b][i] += gv * wrow[i]
			}
		}
	}
	return dx
}

// Params returns weight and bias.
func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }
