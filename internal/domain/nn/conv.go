package nn

import (
	"fmt"
	"math/rand"

	"github.com/tphakala/simd/f64"
)

// Volume is a CHW tensor.
type Volume struct {
	C, H, W int
	Data    []float64
}

// NewVolume allocates a zeroed volume.
func NewVolume(c, h, w int) Volume {
	return Volume{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// Conv2D is a stride-1 convolution without padding. Weights are laid out
// (OutC, InC, K, K) so each output channel's kernel is one contiguous row.
type Conv2D struct {
	InC, OutC, K int
	W, B         *Param

	inputs []Volume
}

// NewConv2D creates a convolution with PyTorch-style uniform initialization.
func NewConv2D(name string, inC, outC, k int, rng *rand.Rand) *Conv2D {
	fanIn := inC * k * k
	c := &Conv2D{
		InC:  inC,
		OutC: outC,
		K:    k,
		W:    newParam(name+".weight", outC*fanIn),
		B:    newParam(name+".bias", outC),
	}
	uniformInit(c.W, fanIn, rng)
	uniformInit(c.B, fanIn, rng)
	return c
}

// OutputSize returns the spatial size of the output for an h x w input.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	return h - c.K + 1, w - c.K + 1
}

// patch copies the receptive field at (y, x) into dst in (InC, K, K) order.
func (c *Conv2D) patch(v Volume, y, x int, dst []float64) {
	i := 0
	for ic := 0; ic < c.InC; ic++ {
		for ky := 0; ky < c.K; ky++ {
			row := (ic*v.H+y+ky)*v.W + x
			copy(dst[i:i+c.K], v.Data[row:row+c.K])
			i += c.K
		}
	}
}

// Forward convolves each input volume.
func (c *Conv2D) Forward(in []Volume) []Volume {
	c.inputs = in
	fanIn := c.InC * c.K * c.K
	patch := make([]float64, fanIn)
	out := make([]Volume, len(in))
	for n, v := range in {
		if v.C != c.InC || v.H < c.K || v.W < c.K {
			panic(fmt.Errorf("%w: conv %s expects %d channels of at least %dx%d, got %dx%dx%d",
				ErrShape, c.W.Name, c.InC, c.K, c.K, v.C, v.H, v.W))
		}
		ho, wo := c.OutputSize(v.H, v.W)
		o := NewVolume(c.OutC, ho, wo)
		plane := ho * wo
		for y := 0; y < ho; y++ {
			for x := 0; x < wo; x++ {
				c.patch(v, y, x, patch)
				pos := y*wo + x
				for oc := 0; oc < c.OutC; oc++ {
					kernel := c.W.Value[oc*fanIn : (oc+1)*fanIn]
					o.Data[oc*plane+pos] = f64.DotProduct(kernel, patch) + c.B.Value[oc]
				}
			}
		}
		out[n] = o
	}
	return out
}

// Backward accumulates kernel and bias gradients from dy. Input gradients
// are not produced: the convolution always consumes raw frames.
func (c *Conv2D) Backward(dy []Volume) {
	fanIn := c.InC * c.K * c.K
	patch := make([]float64, fanIn)
	for n, g := range dy {
		v := c.inputs[n]
		plane := g.H * g.W
		for y := 0; y < g.H; y++ {
			for x := 0; x < g.W; x++ {
				c.patch(v, y, x, patch)
				pos := y*g.W + x
				for oc := 0; oc < c.OutC; oc++ {
					gv := g.Data[oc*plane+pos]
					if gv == 0 {
						continue
					}
					c.B.Grad[oc] += gv
					grad := c.W.Grad[oc*fanIn : (oc+1)*fanIn]
					for i, p := range patch {
						grad[i] += gv * p
					}
				}
			}
		}
	}
}

// Params returns kernel and bias.
func (c *Conv2D) Params() []*Param { return []*Param{c.W, c.B} }

// GlobalAvgPool averages every channel plane to a single value.
type GlobalAvgPool struct {
	shapes []Volume // shapes of the last input, Data unused
}

// Forward returns one vector of len C per input volume.
func (p *GlobalAvgPool) Forward(in []Volume) [][]float64 {
	p.shapes = make([]Volume, len(in))
	out := make([][]float64, len(in))
	for n, v := range in {
		p.shapes[n] = Volume{C: v.C, H: v.H, W: v.W}
		plane := v.H * v.W
		vec := make([]float64, v.C)
		for c := 0; c < v.C; c++ {
			vec[c] = f64.Sum(v.Data[c*plane:(c+1)*plane]) / float64(plane)
		}
		out[n] = vec
	}
	return out
}

// Backward spreads each channel's gradient evenly over its plane.
func (p *GlobalAvgPool) Backward(dy [][]float64) []Volume {
	out := make([]Volume, len(dy))
	for n, g := range dy {
		s := p.shapes[n]
		v := NewVolume(s.C, s.H, s.W)
		plane := s.H * s.W
		for c := 0; c < s.C; c++ {
			share := g[c] / float64(plane)
			seg := v.Data[c*plane : (c+1)*plane]
			for i := range seg {
				seg[i] = share
			}
		}
		out[n] = v
	}
	return out
}
