package layer

import "github.com/edgeml/personcar/tensor"

// Layer is a differentiable stage of the network.
type Layer interface {

	// Forward computes the output for x. In training mode the layer keeps
	// what Backward needs and updates running statistics.
	Forward(x *tensor.Tensor, training bool) *tensor.Tensor

	// Backward takes the gradient of the loss with respect to the last
	// output, stores parameter gradients and returns the input gradient.
	Backward(grad *tensor.Tensor) *tensor.Tensor

	// Params lists the trainable parameters.
	Params() []*Param
}

// Stateful is implemented by layers with non-trainable variables that must
// be saved alongside the parameters.
type Stateful interface {
	State() []*Param
}
