// Package activation implements the parameterless ReLU and Sigmoid layers
package activation

import "math"

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/tensor"

// ReLU is max(x, 0).
type ReLU struct {
	out *tensor.Tensor
}

func (r *ReLU) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	if training {
		r.out = out
	}
	return out
}

func (r *ReLU) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(grad.Shape...)
	for i, g := range grad.Data {
		if r.out.Data[i] > 0 {
			dx.Data[i] = g
		}
	}
	return dx
}

func (r *ReLU) Params() []*layer.Param { return nil }

// Sigmoid is 1/(1+exp(-x)).
type Sigmoid struct {
	out *tensor.Tensor
}

// Logistic evaluates the sigmoid of one value.
func Logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func (s *Sigmoid) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = float32(Logistic(float64(v)))
	}
	if training {
		s.out = out
	}
	return out
}

func (s *Sigmoid) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(grad.Shape...)
	for i, g := range grad.Data {
		y := s.out.Data[i]
		dx.Data[i] = g * y * (1 - y)
	}
	return dx
}

func (s *Sigmoid) Params() []*layer.Param { return nil }
