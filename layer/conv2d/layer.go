// Package conv2d implements a 2D convolution layer with "same" padding
package conv2d

import "fmt"
import "math/rand"

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/parallel"
import "github.com/edgeml/personcar/tensor"

// Conv2D convolves NHWC input with a Size×Size×InC×OutC kernel.
type Conv2D struct {
	InC, OutC, Size, Stride int

	Kernel *layer.Param
	Bias   *layer.Param

	// Workers bounds the samples processed concurrently, 0 means parallel.Workers().
	Workers int

	input *tensor.Tensor
	cols  [][]float32
}

// OutputSize returns the output length along one spatial axis and the
// padding inserted before the first input element.
func OutputSize(in, size, stride int) (out, pad int) {
	out = (in + stride - 1) / stride
	total := (out-1)*stride + size - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

// New creates a convolution named name. The kernel is Glorot-uniform
// initialized from rng, or left zero when rng is nil.
func New(name string, inC, outC, size, stride int, rng *rand.Rand) (*Conv2D, error) {
	if inC <= 0 || outC <= 0 {
		return nil, fmt.Errorf("New Conv2D %s: channels %d -> %d must be positive", name, inC, outC)
	}
	if size <= 0 {
		return nil, fmt.Errorf("New Conv2D %s: kernel size %d must be positive", name, size)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("New Conv2D %s: stride %d must be positive", name, stride)
	}
	o := &Conv2D{
		InC:    inC,
		OutC:   outC,
		Size:   size,
		Stride: stride,
		Kernel: layer.NewParam(name+"/kernel", size, size, inC, outC),
		Bias:   layer.NewParam(name+"/bias", outC),
	}
	if rng != nil {
		o.Kernel.GlorotUniform(rng, size*size*inC, size*size*outC)
	}
	return o, nil
}

// MustNew is New that panics on invalid sizes.
func MustNew(name string, inC, outC, size, stride int, rng *rand.Rand) *Conv2D {
	o, err := New(name, inC, outC, size, stride, rng)
	if err != nil {
		panic(err.Error())
	}
	return o
}

// Params lists the kernel and the bias.
func (c *Conv2D) Params() []*layer.Param {
	return []*layer.Param{c.Kernel, c.Bias}
}

// prepare sizes one scratch buffer per worker and returns the worker count.
func (c *Conv2D) prepare(samples, size int) int {
	workers := c.Workers
	if workers <= 0 {
		workers = parallel.Workers()
	}
	if workers > samples {
		workers = samples
	}
	for len(c.cols) < workers {
		c.cols = append(c.cols, nil)
	}
	for i := 0; i < workers; i++ {
		if cap(c.cols[i]) < size {
			c.cols[i] = make([]float32, size)
		}
		c.cols[i] = c.cols[i][:size]
	}
	return workers
}

// Forward convolves x (N×H×W×InC) into N×ceil(H/Stride)×ceil(W/Stride)×OutC.
func (c *Conv2D) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	n, h, w, ch := x.Dims4()
	if ch != c.InC {
		panic(fmt.Sprintf("conv2d: input has %d channels, kernel expects %d", ch, c.InC))
	}
	oh, padT := OutputSize(h, c.Size, c.Stride)
	ow, padL := OutputSize(w, c.Size, c.Stride)
	p, k := oh*ow, c.Size*c.Size*c.InC

	out := tensor.New(n, oh, ow, c.OutC)
	workers := c.prepare(n, p*k)
	parallel.ForEachWorker(n, workers, func(wk, i int) {
		cols := c.cols[wk][:p*k]
		c.im2col(cols, x.Sample(i), h, w, oh, ow, padT, padL)
		dst := out.Sample(i)
		for q := 0; q < p; q++ {
			copy(dst[q*c.OutC:(q+1)*c.OutC], c.Bias.Value)
		}
		tensor.MatMul(dst, cols, c.Kernel.Value, p, k, c.OutC)
	})

	if training {
		c.input = x
	} else {
		c.input = nil
	}
	return out
}

// Backward computes kernel and bias gradients and the input gradient.
func (c *Conv2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	x := c.input
	if x == nil {
		panic("conv2d: Backward called without a training Forward")
	}
	n, h, w, _ := x.Dims4()
	_, oh, ow, _ := grad.Dims4()
	_, padT := OutputSize(h, c.Size, c.Stride)
	_, padL := OutputSize(w, c.Size, c.Stride)
	p, k := oh*ow, c.Size*c.Size*c.InC

	dx := tensor.New(n, h, w, c.InC)
	workers := c.prepare(n, 2*p*k)
	kgrads := make([][]float32, workers)
	bgrads := make([][]float32, workers)
	for i := range kgrads {
		kgrads[i] = make([]float32, len(c.Kernel.Value))
		bgrads[i] = make([]float32, c.OutC)
	}

	parallel.ForEachWorker(n, workers, func(wk, i int) {
		buf := c.cols[wk]
		cols, dcols := buf[:p*k], buf[p*k:2*p*k]
		c.im2col(cols, x.Sample(i), h, w, oh, ow, padT, padL)
		g := grad.Sample(i)

		tensor.MatMulTransA(kgrads[wk], cols, g, k, p, c.OutC)
		bg := bgrads[wk]
		for q := 0; q < p; q++ {
			for o, v := range g[q*c.OutC : (q+1)*c.OutC] {
				bg[o] += v
			}
		}

		for j := range dcols {
			dcols[j] = 0
		}
		tensor.MatMulTransB(dcols, g, c.Kernel.Value, p, c.OutC, k)
		c.col2im(dx.Sample(i), dcols, h, w, oh, ow, padT, padL)
	})

	c.Kernel.ZeroGrad()
	c.Bias.ZeroGrad()
	for i := range kgrads {
		for j, v := range kgrads[i] {
			c.Kernel.Grad[j] += v
		}
		for j, v := range bgrads[i] {
			c.Bias.Grad[j] += v
		}
	}
	return dx
}

// im2col lays out every receptive field of one sample as a row of cols.
func (c *Conv2D) im2col(cols, x []float32, h, w, oh, ow, padT, padL int) {
	k := c.Size * c.Size * c.InC
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := cols[(oy*ow+ox)*k : (oy*ow+ox+1)*k]
			for ky := 0; ky < c.Size; ky++ {
				iy := oy*c.Stride + ky - padT
				for kx := 0; kx < c.Size; kx++ {
					ix := ox*c.Stride + kx - padL
					dst := row[(ky*c.Size+kx)*c.InC : (ky*c.Size+kx+1)*c.InC]
					if iy < 0 || iy >= h || ix < 0 || ix >= w {
						for j := range dst {
							dst[j] = 0
						}
						continue
					}
					copy(dst, x[(iy*w+ix)*c.InC:(iy*w+ix+1)*c.InC])
				}
			}
		}
	}
}

// col2im is the adjoint of im2col, accumulating into dx.
func (c *Conv2D) col2im(dx, cols []float32, h, w, oh, ow, padT, padL int) {
	k := c.Size * c.Size * c.InC
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := cols[(oy*ow+ox)*k : (oy*ow+ox+1)*k]
			for ky := 0; ky < c.Size; ky++ {
				iy := oy*c.Stride + ky - padT
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < c.Size; kx++ {
					ix := ox*c.Stride + kx - padL
					if ix < 0 || ix >= w {
						continue
					}
					src := row[(ky*c.Size+kx)*c.InC : (ky*c.Size+kx+1)*c.InC]
					dst := dx[(iy*w+ix)*c.InC : (iy*w+ix+1)*c.InC]
					for j, v := range src {
						dst[j] += v
					}
				}
			}
		}
	}
}
