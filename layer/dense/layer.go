// Package dense implements a fully connected layer
package dense

import "fmt"
import "math/rand"

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/tensor"

// Dense maps N×In to N×Out with y = x·Kernel + Bias.
type Dense struct {
	In, Out int

	Kernel *layer.Param
	Bias   *layer.Param

	input *tensor.Tensor
}

// New creates a dense layer named name, Glorot-uniform initialized from rng
// unless rng is nil.
func New(name string, in, out int, rng *rand.Rand) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("New Dense %s: units %d -> %d must be positive", name, in, out)
	}
	o := &Dense{
		In:     in,
		Out:    out,
		Kernel: layer.NewParam(name+"/kernel", in, out),
		Bias:   layer.NewParam(name+"/bias", out),
	}
	if rng != nil {
		o.Kernel.GlorotUniform(rng, in, out)
	}
	return o, nil
}

// MustNew is New that panics on invalid sizes.
func MustNew(name string, in, out int, rng *rand.Rand) *Dense {
	o, err := New(name, in, out, rng)
	if err != nil {
		panic(err.Error())
	}
	return o
}

func (d *Dense) Params() []*layer.Param {
	return []*layer.Param{d.Kernel, d.Bias}
}

func (d *Dense) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	n, in := x.Dims2()
	if in != d.In {
		panic(fmt.Sprintf("dense: input has %d units, want %d", in, d.In))
	}
	out := tensor.New(n, d.Out)
	for i := 0; i < n; i++ {
		copy(out.Sample(i), d.Bias.Value)
	}
	tensor.MatMul(out.Data, x.Data, d.Kernel.Value, n, d.In, d.Out)
	if training {
		d.input = x
	} else {
		d.input = nil
	}
	return out
}

func (d *Dense) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if d.input == nil {
		panic("dense: Backward called without a training Forward")
	}
	n, _ := grad.Dims2()
	d.Kernel.ZeroGrad()
	d.Bias.ZeroGrad()
	tensor.MatMulTransA(d.Kernel.Grad, d.input.Data, grad.Data, d.In, n, d.Out)
	for i := 0; i < n; i++ {
		for j, g := range grad.Sample(i) {
			d.Bias.Grad[j] += g
		}
	}
	dx := tensor.New(n, d.In)
	tensor.MatMulTransB(dx.Data, grad.Data, d.Kernel.Value, n, d.Out, d.In)
	return dx
}
