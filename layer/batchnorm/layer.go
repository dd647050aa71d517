// Package batchnorm implements batch normalization over the last axis
package batchnorm

import "fmt"
import "math"

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/tensor"

const (
	DefaultMomentum = 0.99
	DefaultEpsilon  = 1e-3
)

// BatchNorm normalizes every channel with batch statistics while training
// and with the moving statistics at inference.
type BatchNorm struct {
	C        int
	Momentum float32
	Epsilon  float32

	Gamma, Beta           *layer.Param
	MovingMean, MovingVar *layer.Param

	xhat   []float32
	invStd []float32
	shape  []int
}

// New creates a batch normalization over c channels.
func New(name string, c int) (*BatchNorm, error) {
	if c <= 0 {
		return nil, fmt.Errorf("New BatchNorm %s: channels %d must be positive", name, c)
	}
	o := &BatchNorm{
		C:          c,
		Momentum:   DefaultMomentum,
		Epsilon:    DefaultEpsilon,
		Gamma:      layer.NewParam(name+"/gamma", c),
		Beta:       layer.NewParam(name+"/beta", c),
		MovingMean: layer.NewState(name+"/moving_mean", 0, c),
		MovingVar:  layer.NewState(name+"/moving_variance", 1, c),
	}
	for i := range o.Gamma.Value {
		o.Gamma.Value[i] = 1
	}
	return o, nil
}

// MustNew is New that panics on invalid sizes.
func MustNew(name string, c int) *BatchNorm {
	o, err := New(name, c)
	if err != nil {
		panic(err.Error())
	}
	return o
}

// Params lists gamma and beta.
func (b *BatchNorm) Params() []*layer.Param {
	return []*layer.Param{b.Gamma, b.Beta}
}

// State lists the moving mean and variance.
func (b *BatchNorm) State() []*layer.Param {
	return []*layer.Param{b.MovingMean, b.MovingVar}
}

// Scale returns the per-channel affine transform y = scale·x + shift the
// layer applies at inference.
func (b *BatchNorm) Scale() (scale, shift []float32) {
	scale = make([]float32, b.C)
	shift = make([]float32, b.C)
	for c := 0; c < b.C; c++ {
		s := b.Gamma.Value[c] / float32(math.Sqrt(float64(b.MovingVar.Value[c]+b.Epsilon)))
		scale[c] = s
		shift[c] = b.Beta.Value[c] - b.MovingMean.Value[c]*s
	}
	return
}

// Forward normalizes x, whose last axis has C channels.
func (b *BatchNorm) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	if x.Channels() != b.C {
		panic(fmt.Sprintf("batchnorm: input has %d channels, want %d", x.Channels(), b.C))
	}
	out := tensor.New(x.Shape...)
	if !training {
		scale, shift := b.Scale()
		for i, v := range x.Data {
			c := i % b.C
			out.Data[i] = v*scale[c] + shift[c]
		}
		b.xhat = nil
		return out
	}

	m := len(x.Data) / b.C
	mean := make([]float64, b.C)
	variance := make([]float64, b.C)
	for i, v := range x.Data {
		mean[i%b.C] += float64(v)
	}
	for c := range mean {
		mean[c] /= float64(m)
	}
	for i, v := range x.Data {
		d := float64(v) - mean[i%b.C]
		variance[i%b.C] += d * d
	}

	if cap(b.invStd) < b.C {
		b.invStd = make([]float32, b.C)
	}
	b.invStd = b.invStd[:b.C]
	for c := range variance {
		variance[c] /= float64(m)
		b.invStd[c] = float32(1 / math.Sqrt(variance[c]+float64(b.Epsilon)))
		b.MovingMean.Value[c] = b.MovingMean.Value[c]*b.Momentum + float32(mean[c])*(1-b.Momentum)
		b.MovingVar.Value[c] = b.MovingVar.Value[c]*b.Momentum + float32(variance[c])*(1-b.Momentum)
	}

	if cap(b.xhat) < len(x.Data) {
		b.xhat = make([]float32, len(x.Data))
	}
	b.xhat = b.xhat[:len(x.Data)]
	for i, v := range x.Data {
		c := i % b.C
		xh := (v - float32(mean[c])) * b.invStd[c]
		b.xhat[i] = xh
		out.Data[i] = b.Gamma.Value[c]*xh + b.Beta.Value[c]
	}
	b.shape = x.Shape
	return out
}

// Backward returns the input gradient of the training mode transform.
func (b *BatchNorm) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if b.xhat == nil {
		panic("batchnorm: Backward called without a training Forward")
	}
	m := float32(len(grad.Data) / b.C)
	b.Gamma.ZeroGrad()
	b.Beta.ZeroGrad()
	for i, g := range grad.Data {
		c := i % b.C
		b.Gamma.Grad[c] += g * b.xhat[i]
		b.Beta.Grad[c] += g
	}
	dx := tensor.New(b.shape...)
	for i, g := range grad.Data {
		c := i % b.C
		k := b.Gamma.Value[c] * b.invStd[c] / m
		dx.Data[i] = k * (m*g - b.Beta.Grad[c] - b.xhat[i]*b.Gamma.Grad[c])
	}
	return dx
}
