// Package pool implements global average pooling
package pool

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/tensor"

// GlobalAverage reduces N×H×W×C to N×C by averaging over H and W.
type GlobalAverage struct {
	shape []int
}

func (g *GlobalAverage) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	n, h, w, c := x.Dims4()
	out := tensor.New(n, c)
	inv := 1 / float32(h*w)
	for i := 0; i < n; i++ {
		src := x.Sample(i)
		dst := out.Sample(i)
		for p := 0; p < h*w; p++ {
			for ch, v := range src[p*c : (p+1)*c] {
				dst[ch] += v
			}
		}
		for ch := range dst {
			dst[ch] *= inv
		}
	}
	g.shape = x.Shape
	return out
}

func (g *GlobalAverage) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(g.shape...)
	n, h, w, c := dx.Dims4()
	inv := 1 / float32(h*w)
	for i := 0; i < n; i++ {
		src := grad.Sample(i)
		dst := dx.Sample(i)
		for p := 0; p < h*w; p++ {
			for ch := 0; ch < c; ch++ {
				dst[p*c+ch] = src[ch] * inv
			}
		}
	}
	return dx
}

func (g *GlobalAverage) Params() []*layer.Param { return nil }
