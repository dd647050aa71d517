package inference

import "github.com/pkg/errors"

// Interpreter runs a Model with integer arithmetic only. It owns one
// buffer per tensor and is not safe for concurrent use.
type Interpreter struct {
	// Workers bounds the output rows computed concurrently, 0 means parallel.Workers().
	Workers int

	model *Model
	data  [][]byte
}

// NewInterpreter validates m and allocates its tensors.
func NewInterpreter(m *Model) (*Interpreter, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model")
	}
	it := &Interpreter{model: m, data: make([][]byte, len(m.Tensors))}
	for i := range m.Tensors {
		it.data[i] = make([]byte, m.Tensors[i].Len())
	}
	return it, nil
}

// Model returns the interpreted model.
func (it *Interpreter) Model() *Model {
	return it.model
}

// Invoke runs the graph on input, the raw uint8 HWC pixels of the model input.
func (it *Interpreter) Invoke(input []byte) error {
	in := it.data[it.model.Input]
	if len(input) != len(in) {
		return errors.Errorf("input has %d bytes, model expects %d", len(input), len(in))
	}
	copy(in, input)
	for i := range it.model.Ops {
		op := &it.model.Ops[i]
		switch op.Kind {
		case OpQuantize:
			it.quantize(op)
		case OpConv2D:
			it.conv(op)
		case OpAdd:
			it.add(op)
		case OpMean:
			it.mean(op)
		case OpFullyConnected:
			it.fullyConnected(op)
		case OpLogistic:
			it.logistic(op)
		default:
			return errors.Errorf("op %d: unknown kind %v", i, op.Kind)
		}
	}
	return nil
}

// Output returns the stored values of the i-th output.
func (it *Interpreter) Output(i int) []byte {
	return it.data[it.model.Outputs[i]]
}

// Dequantized returns the real values of the i-th output.
func (it *Interpreter) Dequantized(i int) []float32 {
	t := it.model.OutputTensor(i)
	out := make([]float32, len(it.Output(i)))
	for j, b := range it.Output(i) {
		out[j] = t.Dequantize(value(t, b))
	}
	return out
}

// Scores returns the person and car probabilities of the first sample.
func (it *Interpreter) Scores() (person, car float32) {
	return it.Dequantized(0)[0], it.Dequantized(1)[0]
}

func value(t *Tensor, b byte) int32 {
	if t.Type == Uint8 {
		return int32(b)
	}
	return int32(int8(b))
}

func store(t *Tensor, v int32) byte {
	if t.Type == Uint8 {
		return byte(uint8(v))
	}
	return byte(int8(v))
}

func (it *Interpreter) tensors(op *Op) (in, out *Tensor, x, y []byte) {
	m := it.model
	return &m.Tensors[op.Inputs[0]], &m.Tensors[op.Output], it.data[op.Inputs[0]], it.data[op.Output]
}
