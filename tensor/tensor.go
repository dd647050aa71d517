// Package tensor implements the dense float32 tensors passed between layers.
// Image tensors are laid out NHWC.
package tensor

import "fmt"

// Tensor is a row-major float32 array with a shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, count(shape)),
	}
}

// FromData wraps data without copying. It panics when the length does not match the shape.
func FromData(data []float32, shape ...int) *Tensor {
	if len(data) != count(shape) {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(data), shape))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

func count(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Dims4 returns the NHWC dimensions of a rank 4 tensor.
func (t *Tensor) Dims4() (n, h, w, c int) {
	if len(t.Shape) != 4 {
		panic(fmt.Sprintf("tensor: want rank 4, have shape %v", t.Shape))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
}

// Dims2 returns the dimensions of a rank 2 tensor.
func (t *Tensor) Dims2() (n, c int) {
	if len(t.Shape) != 2 {
		panic(fmt.Sprintf("tensor: want rank 2, have shape %v", t.Shape))
	}
	return t.Shape[0], t.Shape[1]
}

// Channels returns the size of the last axis.
func (t *Tensor) Channels() int {
	return t.Shape[len(t.Shape)-1]
}

// Sample returns the slice of data belonging to the i-th entry of the first axis.
func (t *Tensor) Sample(i int) []float32 {
	stride := len(t.Data) / t.Shape[0]
	return t.Data[i*stride : (i+1)*stride]
}

// Reshape returns a tensor sharing the data under another shape.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	return FromData(t.Data, shape...)
}

// Zero clears the data.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// Add adds o into t elementwise.
func (t *Tensor) Add(o *Tensor) {
	if len(o.Data) != len(t.Data) {
		panic(fmt.Sprintf("tensor: add shape %v to %v", o.Shape, t.Shape))
	}
	for i, v := range o.Data {
		t.Data[i] += v
	}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}
