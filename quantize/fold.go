package quantize

import "github.com/edgeml/personcar/layer/activation"
import "github.com/edgeml/personcar/layer/batchnorm"
import "github.com/edgeml/personcar/layer/conv2d"
import "github.com/edgeml/personcar/layer/dense"
import "github.com/edgeml/personcar/layer/pool"
import "github.com/edgeml/personcar/net/residual"
import "github.com/edgeml/personcar/tensor"

// Fold merges the inference transform of bn into the kernel and bias of c.
// The returned convolution is a new layer; c is left unchanged.
func Fold(c *conv2d.Conv2D, bn *batchnorm.BatchNorm) *conv2d.Conv2D {
	name := c.Kernel.Name[:len(c.Kernel.Name)-len("/kernel")]
	f := conv2d.MustNew(name, c.InC, c.OutC, c.Size, c.Stride, nil)
	f.Workers = c.Workers
	scale, shift := bn.Scale()
	for i, v := range c.Kernel.Value {
		f.Kernel.Value[i] = v * scale[i%c.OutC]
	}
	for o, b := range c.Bias.Value {
		f.Bias.Value[o] = b*scale[o] + shift[o]
	}
	return f
}

type foldedBlock struct {
	name  string
	conv1 *conv2d.Conv2D
	conv2 *conv2d.Conv2D
	short *conv2d.Conv2D
}

// Folded is the inference graph of a network with every batch norm folded
// into its convolution.
type Folded struct {
	Config residual.Config

	blocks []foldedBlock
	hidden *dense.Dense
	person *dense.Dense
	car    *dense.Dense
}

// FoldNetwork folds every block of net. The dense layers are shared with net.
func FoldNetwork(net *residual.Network) *Folded {
	f := &Folded{Config: net.Config, hidden: net.Hidden, person: net.Person, car: net.Car}
	for _, b := range net.Blocks {
		f.blocks = append(f.blocks, foldedBlock{
			name:  b.Conv1.Kernel.Name[:len(b.Conv1.Kernel.Name)-len("/conv1/kernel")],
			conv1: Fold(b.Conv1, b.BN1),
			conv2: Fold(b.Conv2, b.BN2),
			short: Fold(b.ShortConv, b.ShortBN),
		})
	}
	return f
}

// Activation names reported by Forward.
const (
	pointInput   = "input"
	pointPool    = "pool"
	pointHidden  = "dense"
	pointPerson  = residual.PersonOutput + "/logits"
	pointCar     = residual.CarOutput + "/logits"
	suffixConv1  = "/conv1"
	suffixConv2  = "/conv2"
	suffixShort  = "/shortcut"
	suffixOutput = "/add"
)

// Forward runs the folded graph and reports every activation the int8
// model stores to observe, which may be nil.
func (f *Folded) Forward(x *tensor.Tensor, observe func(name string, t *tensor.Tensor)) (person, car *tensor.Tensor) {
	if observe == nil {
		observe = func(string, *tensor.Tensor) {}
	}
	observe(pointInput, x)
	y := x
	for _, b := range f.blocks {
		a := relu(b.conv1.Forward(y, false))
		observe(b.name+suffixConv1, a)
		m := b.conv2.Forward(a, false)
		observe(b.name+suffixConv2, m)
		s := b.short.Forward(y, false)
		observe(b.name+suffixShort, s)
		m.Add(s)
		y = relu(m)
		observe(b.name+suffixOutput, y)
	}
	var gap pool.GlobalAverage
	y = gap.Forward(y, false)
	observe(pointPool, y)
	y = relu(f.hidden.Forward(y, false))
	observe(pointHidden, y)
	pl := f.person.Forward(y, false)
	observe(pointPerson, pl)
	cl := f.car.Forward(y, false)
	observe(pointCar, cl)
	return sigmoid(pl), sigmoid(cl)
}

func relu(t *tensor.Tensor) *tensor.Tensor {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
	return t
}

func sigmoid(t *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = float32(activation.Logistic(float64(v)))
	}
	return out
}
