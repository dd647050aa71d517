// Package layer defines the layer interface and the named variables layers own
package layer

import "math"
import "math/rand"

// Param is a named variable with its gradient. Grad is nil for
// non-trainable state.
type Param struct {
	Name  string
	Shape []int
	Value []float32
	Grad  []float32
}

// NewParam allocates a zeroed trainable parameter.
func NewParam(name string, shape ...int) *Param {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: make([]float32, n),
		Grad:  make([]float32, n),
	}
}

// NewState allocates a non-trainable variable filled with v.
func NewState(name string, v float32, shape ...int) *Param {
	p := NewParam(name, shape...)
	p.Grad = nil
	for i := range p.Value {
		p.Value[i] = v
	}
	return p
}

// ZeroGrad clears the gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// GlorotUniform fills the parameter from U(-l, l) with l = sqrt(6/(fanIn+fanOut)).
func (p *Param) GlorotUniform(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}
