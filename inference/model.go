// Package inference holds the quantized model format and the integer-only
// interpreter that runs it on the edge device.
package inference

import "fmt"

import "github.com/pkg/errors"

import "github.com/edgeml/personcar/layer/conv2d"

// DType is the element type of a tensor.
type DType byte

const (
	Int8 DType = iota + 1
	Uint8
)

func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	}
	return fmt.Sprintf("dtype(%d)", byte(d))
}

// Tensor describes a quantized activation: real = Scale·(q - ZeroPoint).
type Tensor struct {
	Name      string  `json:"name"`
	Type      DType   `json:"-"`
	Shape     []int   `json:"shape"`
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	n := 1
	for _, s := range t.Shape {
		n *= s
	}
	return n
}

// Dequantize maps a stored value to its real value.
func (t *Tensor) Dequantize(q int32) float32 {
	return t.Scale * float32(q-t.ZeroPoint)
}

// OpKind identifies a kernel.
type OpKind byte

const (
	OpQuantize OpKind = iota + 1
	OpConv2D
	OpAdd
	OpMean
	OpFullyConnected
	OpLogistic
)

func (k OpKind) String() string {
	switch k {
	case OpQuantize:
		return "QUANTIZE"
	case OpConv2D:
		return "CONV_2D"
	case OpAdd:
		return "ADD"
	case OpMean:
		return "MEAN"
	case OpFullyConnected:
		return "FULLY_CONNECTED"
	case OpLogistic:
		return "LOGISTIC"
	}
	return fmt.Sprintf("op(%d)", byte(k))
}

// Op is one kernel invocation. Which fields are used depends on Kind:
//
//	Quantize        Multipliers[0], Shifts[0]
//	Conv2D          Weights (OHWI), Bias, per output channel Multipliers and Shifts, Size, Stride
//	FullyConnected  Weights (out×in), Bias, per output channel Multipliers and Shifts
//	Add             LeftShift, Multipliers and Shifts of input 1, input 2 and output
//	Mean            Multipliers[0], Shifts[0]
//	Logistic        LUT indexed by the int8 input + 128
//
// ActMin and ActMax clamp the output of every kernel but Logistic.
type Op struct {
	Kind        OpKind
	Inputs      []int
	Output      int
	Weights     []int8
	Bias        []int32
	Multipliers []int32
	Shifts      []int32
	Size        int
	Stride      int
	ActMin      int32
	ActMax      int32
	LUT         []uint8
	LeftShift   int
}

// Model is a quantized graph. Ops run in order; every op writes a tensor
// no earlier op wrote.
type Model struct {
	Name     string
	Tensors  []Tensor
	Ops      []Op
	Input    int
	Outputs  []int
	Metadata map[string]string
}

// InputTensor returns the description of the model input.
func (m *Model) InputTensor() *Tensor {
	return &m.Tensors[m.Input]
}

// OutputTensor returns the description of the i-th output.
func (m *Model) OutputTensor(i int) *Tensor {
	return &m.Tensors[m.Outputs[i]]
}

// Validate checks tensor references and kernel parameter sizes.
func (m *Model) Validate() error {
	nt := len(m.Tensors)
	if m.Input < 0 || m.Input >= nt {
		return errors.Errorf("input tensor %d out of range", m.Input)
	}
	if m.Tensors[m.Input].Type != Uint8 {
		return errors.New("input tensor must be uint8")
	}
	if len(m.Outputs) == 0 {
		return errors.New("model has no outputs")
	}
	written := make([]bool, nt)
	written[m.Input] = true
	for i := range m.Tensors {
		t := &m.Tensors[i]
		if t.Type != Int8 && t.Type != Uint8 {
			return errors.Errorf("tensor %s: unsupported type %v", t.Name, t.Type)
		}
		if t.Scale <= 0 {
			return errors.Errorf("tensor %s: scale %v must be positive", t.Name, t.Scale)
		}
		for _, d := range t.Shape {
			if d <= 0 {
				return errors.Errorf("tensor %s: dimension %d in shape %v", t.Name, d, t.Shape)
			}
		}
	}
	for i := range m.Ops {
		op := &m.Ops[i]
		if err := m.validateOp(op, written); err != nil {
			return errors.Wrapf(err, "op %d %v", i, op.Kind)
		}
		written[op.Output] = true
	}
	for _, o := range m.Outputs {
		if o < 0 || o >= nt || !written[o] {
			return errors.Errorf("output tensor %d is never written", o)
		}
	}
	return nil
}

func (m *Model) validateOp(op *Op, written []bool) error {
	if op.Output < 0 || op.Output >= len(m.Tensors) {
		return errors.Errorf("output tensor %d out of range", op.Output)
	}
	if written[op.Output] {
		return errors.Errorf("tensor %s written twice", m.Tensors[op.Output].Name)
	}
	for _, in := range op.Inputs {
		if in < 0 || in >= len(m.Tensors) || !written[in] {
			return errors.Errorf("input tensor %d not available", in)
		}
	}
	want := map[OpKind]int{OpQuantize: 1, OpConv2D: 1, OpAdd: 2, OpMean: 1, OpFullyConnected: 1, OpLogistic: 1}
	n, ok := want[op.Kind]
	if !ok {
		return errors.New("unknown kind")
	}
	if len(op.Inputs) != n {
		return errors.Errorf("%d inputs, want %d", len(op.Inputs), n)
	}
	in, out := &m.Tensors[op.Inputs[0]], &m.Tensors[op.Output]

	switch op.Kind {
	case OpConv2D:
		if len(in.Shape) != 4 || len(out.Shape) != 4 {
			return errors.New("convolution tensors must be NHWC")
		}
		if op.Size <= 0 || op.Stride <= 0 {
			return errors.Errorf("kernel size %d stride %d", op.Size, op.Stride)
		}
		if in.Type != Int8 {
			return errors.Errorf("convolution input is %v, want int8", in.Type)
		}
		if in.Shape[0] != out.Shape[0] {
			return errors.Errorf("batch %d in, %d out", in.Shape[0], out.Shape[0])
		}
		oh, _ := conv2d.OutputSize(in.Shape[1], op.Size, op.Stride)
		ow, _ := conv2d.OutputSize(in.Shape[2], op.Size, op.Stride)
		if out.Shape[1] != oh || out.Shape[2] != ow {
			return errors.Errorf("output %dx%d, want %dx%d", out.Shape[1], out.Shape[2], oh, ow)
		}
		oc, ic := out.Shape[3], in.Shape[3]
		if len(op.Weights) != oc*op.Size*op.Size*ic {
			return errors.Errorf("%d weights for %dx%dx%dx%d", len(op.Weights), oc, op.Size, op.Size, ic)
		}
		return perChannel(op, oc)
	case OpFullyConnected:
		if len(in.Shape) != 2 || len(out.Shape) != 2 {
			return errors.New("fully connected tensors must be rank 2")
		}
		if in.Shape[0] != out.Shape[0] {
			return errors.Errorf("batch %d in, %d out", in.Shape[0], out.Shape[0])
		}
		if len(op.Weights) != out.Shape[1]*in.Shape[1] {
			return errors.Errorf("%d weights for %dx%d", len(op.Weights), out.Shape[1], in.Shape[1])
		}
		return perChannel(op, out.Shape[1])
	case OpAdd:
		if in.Len() != out.Len() || m.Tensors[op.Inputs[1]].Len() != out.Len() {
			return errors.New("add operands differ in size")
		}
		if len(op.Multipliers) != 3 || len(op.Shifts) != 3 {
			return errors.New("add needs three multipliers")
		}
	case OpQuantize, OpMean:
		if len(op.Multipliers) != 1 || len(op.Shifts) != 1 {
			return errors.New("one multiplier expected")
		}
		if op.Kind == OpQuantize && in.Len() != out.Len() {
			return errors.New("quantize changes size")
		}
		if op.Kind == OpMean && (len(in.Shape) != 4 || len(out.Shape) != 2 ||
			in.Shape[0] != out.Shape[0] || in.Shape[3] != out.Shape[1]) {
			return errors.New("mean reduces NHWC to NC")
		}
	case OpLogistic:
		if len(op.LUT) != 256 {
			return errors.Errorf("lookup table has %d entries", len(op.LUT))
		}
		if in.Type != Int8 || out.Type != Uint8 {
			return errors.New("logistic maps int8 to uint8")
		}
		if in.Len() != out.Len() {
			return errors.New("logistic changes size")
		}
	}
	return nil
}

func perChannel(op *Op, channels int) error {
	if len(op.Bias) != channels || len(op.Multipliers) != channels || len(op.Shifts) != channels {
		return errors.Errorf("bias, multipliers and shifts must have %d entries", channels)
	}
	return nil
}
