package nn

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	params   []*Param
	lr       float64
	momentum float64
}

// NewSGD creates an optimizer over params.
func NewSGD(params []*Param, lr, momentum float64) *SGD {
	return &SGD{params: params, lr: lr, momentum: momentum}
}

// Step applies one update using the accumulated gradients.
func (o *SGD) Step() {
	for _, p := range o.params {
		if o.momentum == 0 {
			for i, g := range p.Grad {
				p.Value[i] -= o.lr * g
			}
			continue
		}
		if p.velocity == nil {
			p.velocity = make([]float64, len(p.Value))
		}
		for i, g := range p.Grad {
			p.velocity[i] = o.momentum*p.velocity[i] + g
			p.Value[i] -= o.lr * p.velocity[i]
		}
	}
}

// ZeroGrad clears gradients of every parameter.
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// LearningRate returns the step size.
func (o *SGD) LearningRate() float64 { return o.lr }
