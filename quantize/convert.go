package quantize

import "fmt"
import "math"

import "github.com/pkg/errors"
import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/inference"
import "github.com/edgeml/personcar/layer/activation"
import "github.com/edgeml/personcar/layer/conv2d"
import "github.com/edgeml/personcar/layer/dense"
import "github.com/edgeml/personcar/net/residual"

// ErrNoSamples is returned when the representative dataset yields nothing.
var ErrNoSamples = errors.New("representative dataset has no usable samples")

// Options configure Convert.
type Options struct {
	// MaxSamples limits the calibration samples, 0 uses all.
	MaxSamples int
	// BatchSize is the calibration batch size, 0 means 8.
	BatchSize int
	// Workers bounds the samples convolved concurrently during calibration.
	Workers int
}

// Input and output quantization of the converted model.
const (
	inputScale  = 1.0 / 255
	outputScale = 1.0 / 256

	addLeftShift = 20
)

func errShape(shape []int, h, w, c int) error {
	return errors.Errorf("sample shape %v, model expects %dx%dx%d", shape, h, w, c)
}

// Convert calibrates net on ds and returns the int8 model. The model takes
// uint8 pixels and returns the uint8 person and car probabilities.
func Convert(net *residual.Network, ds Dataset, opt Options) (*inference.Model, error) {
	folded := FoldNetwork(net)
	for _, b := range folded.blocks {
		b.conv1.Workers, b.conv2.Workers, b.short.Workers = opt.Workers, opt.Workers, opt.Workers
	}
	cal, err := Calibrate(folded, ds, opt.BatchSize, opt.MaxSamples)
	if err != nil {
		return nil, errors.Wrap(err, "calibrate")
	}
	if cal.Samples == 0 {
		return nil, ErrNoSamples
	}
	logrus.WithFields(logrus.Fields{
		"samples":     cal.Samples,
		"activations": len(cal.Ranges),
	}).Info("calibrated")

	b := &builder{
		m: &inference.Model{
			Name: net.Config.Name,
			Metadata: map[string]string{
				"outputs":             residual.PersonOutput + "," + residual.CarOutput,
				"calibration_samples": fmt.Sprint(cal.Samples),
				"input_layout":        "NHWC",
			},
		},
		cal: cal,
	}
	return b.build(folded)
}

type builder struct {
	m   *inference.Model
	cal *Calibration
}

func (b *builder) build(f *Folded) (*inference.Model, error) {
	cfg := f.Config
	h, w := cfg.Height, cfg.Width

	input := b.tensor(pointInput, inference.Uint8, []int{1, h, w, cfg.Channels}, inputScale, 0)
	b.m.Input = input
	x := b.tensor("input_int8", inference.Int8, []int{1, h, w, cfg.Channels}, inputScale, -128)
	b.requantize(input, x)

	for _, blk := range f.blocks {
		h, w = (h+1)/2, (w+1)/2
		shape := []int{1, h, w, blk.conv1.OutC}
		a, err := b.conv(blk.conv1, x, blk.name+suffixConv1, shape, true)
		if err != nil {
			return nil, err
		}
		m, err := b.conv(blk.conv2, a, blk.name+suffixConv2, shape, false)
		if err != nil {
			return nil, err
		}
		s, err := b.conv(blk.short, x, blk.name+suffixShort, shape, false)
		if err != nil {
			return nil, err
		}
		if x, err = b.add(m, s, blk.name+suffixOutput, shape); err != nil {
			return nil, err
		}
	}

	pooled, err := b.mean(x, pointPool)
	if err != nil {
		return nil, err
	}
	hidden, err := b.dense(f.hidden, pooled, pointHidden, true)
	if err != nil {
		return nil, err
	}
	for _, head := range []struct {
		layer  *dense.Dense
		logits string
		name   string
	}{
		{f.person, pointPerson, residual.PersonOutput},
		{f.car, pointCar, residual.CarOutput},
	} {
		logits, err := b.dense(head.layer, hidden, head.logits, false)
		if err != nil {
			return nil, err
		}
		b.m.Outputs = append(b.m.Outputs, b.logistic(logits, head.name))
	}

	if err := b.m.Validate(); err != nil {
		return nil, errors.Wrap(err, "converted model")
	}
	return b.m, nil
}

func (b *builder) tensor(name string, typ inference.DType, shape []int, scale float32, zp int32) int {
	b.m.Tensors = append(b.m.Tensors, inference.Tensor{Name: name, Type: typ, Shape: shape, Scale: scale, ZeroPoint: zp})
	return len(b.m.Tensors) - 1
}

// activation adds an int8 tensor quantized from the calibrated range of name.
func (b *builder) activation(name string, shape []int) (int, error) {
	r, ok := b.cal.Ranges[name]
	if !ok {
		return 0, errors.Errorf("activation %s was not calibrated", name)
	}
	scale, zp := r.Params()
	return b.tensor(name, inference.Int8, shape, scale, zp), nil
}

// clamp returns the output bounds, with ReLU fused as a lower bound at the
// quantized zero.
func (b *builder) clamp(out int, relu bool) (lo, hi int32) {
	if relu {
		return b.m.Tensors[out].ZeroPoint, 127
	}
	return -128, 127
}

func (b *builder) requantize(in, out int) {
	m, s := inference.QuantizeMultiplier(float64(b.m.Tensors[in].Scale) / float64(b.m.Tensors[out].Scale))
	b.m.Ops = append(b.m.Ops, inference.Op{
		Kind:        inference.OpQuantize,
		Inputs:      []int{in},
		Output:      out,
		Multipliers: []int32{m},
		Shifts:      []int32{int32(s)},
		ActMin:      -128,
		ActMax:      127,
	})
}

// channel quantizes the weights of one output channel symmetrically and
// returns their scale.
func channel(dst []int8, values func(i int) float32) float64 {
	var maxAbs float64
	for i := range dst {
		maxAbs = math.Max(maxAbs, math.Abs(float64(values(i))))
	}
	scale := maxAbs / 127
	if scale == 0 {
		scale = 1
	}
	for i := range dst {
		q := math.Round(float64(values(i)) / scale)
		dst[i] = int8(math.Max(-127, math.Min(127, q)))
	}
	return scale
}

func quantizeBias(v float32, scale float64) int32 {
	q := math.Round(float64(v) / scale)
	return int32(math.Max(math.MinInt32, math.Min(math.MaxInt32, q)))
}

// weighted fills the bias and requantization multipliers of a per-channel op.
func (b *builder) weighted(op *inference.Op, in, out int, bias []float32, scales []float64) {
	inScale := float64(b.m.Tensors[in].Scale)
	outScale := float64(b.m.Tensors[out].Scale)
	for o, ws := range scales {
		op.Bias[o] = quantizeBias(bias[o], inScale*ws)
		m, s := inference.QuantizeMultiplier(inScale * ws / outScale)
		op.Multipliers[o], op.Shifts[o] = m, int32(s)
	}
}

func newWeighted(kind inference.OpKind, in, out, weights, channels int) inference.Op {
	return inference.Op{
		Kind:        kind,
		Inputs:      []int{in},
		Output:      out,
		Weights:     make([]int8, weights),
		Bias:        make([]int32, channels),
		Multipliers: make([]int32, channels),
		Shifts:      make([]int32, channels),
	}
}

func (b *builder) conv(c *conv2d.Conv2D, in int, name string, shape []int, relu bool) (int, error) {
	out, err := b.activation(name, shape)
	if err != nil {
		return 0, err
	}
	k := c.Size * c.Size * c.InC
	op := newWeighted(inference.OpConv2D, in, out, c.OutC*k, c.OutC)
	op.Size, op.Stride = c.Size, c.Stride
	scales := make([]float64, c.OutC)
	for o := range scales {
		// HWIO to OHWI
		scales[o] = channel(op.Weights[o*k:(o+1)*k], func(i int) float32 {
			return c.Kernel.Value[i*c.OutC+o]
		})
	}
	b.weighted(&op, in, out, c.Bias.Value, scales)
	op.ActMin, op.ActMax = b.clamp(out, relu)
	b.m.Ops = append(b.m.Ops, op)
	return out, nil
}

func (b *builder) dense(d *dense.Dense, in int, name string, relu bool) (int, error) {
	out, err := b.activation(name, []int{1, d.Out})
	if err != nil {
		return 0, err
	}
	op := newWeighted(inference.OpFullyConnected, in, out, d.Out*d.In, d.Out)
	scales := make([]float64, d.Out)
	for o := range scales {
		scales[o] = channel(op.Weights[o*d.In:(o+1)*d.In], func(i int) float32 {
			return d.Kernel.Value[i*d.Out+o]
		})
	}
	b.weighted(&op, in, out, d.Bias.Value, scales)
	op.ActMin, op.ActMax = b.clamp(out, relu)
	b.m.Ops = append(b.m.Ops, op)
	return out, nil
}

// add sums two int8 tensors and applies a fused ReLU.
func (b *builder) add(x, y int, name string, shape []int) (int, error) {
	out, err := b.activation(name, shape)
	if err != nil {
		return 0, err
	}
	s1 := float64(b.m.Tensors[x].Scale)
	s2 := float64(b.m.Tensors[y].Scale)
	so := float64(b.m.Tensors[out].Scale)
	twiceMax := 2 * math.Max(s1, s2)

	op := inference.Op{
		Kind:        inference.OpAdd,
		Inputs:      []int{x, y},
		Output:      out,
		LeftShift:   addLeftShift,
		Multipliers: make([]int32, 3),
		Shifts:      make([]int32, 3),
	}
	for i, r := range []float64{s1 / twiceMax, s2 / twiceMax, twiceMax / (float64(int64(1)<<addLeftShift) * so)} {
		m, s := inference.QuantizeMultiplier(r)
		op.Multipliers[i], op.Shifts[i] = m, int32(s)
	}
	op.ActMin, op.ActMax = b.clamp(out, true)
	b.m.Ops = append(b.m.Ops, op)
	return out, nil
}

func (b *builder) mean(in int, name string) (int, error) {
	shape := b.m.Tensors[in].Shape
	out, err := b.activation(name, []int{shape[0], shape[3]})
	if err != nil {
		return 0, err
	}
	count := float64(shape[1] * shape[2])
	m, s := inference.QuantizeMultiplier(float64(b.m.Tensors[in].Scale) / (float64(b.m.Tensors[out].Scale) * count))
	b.m.Ops = append(b.m.Ops, inference.Op{
		Kind:        inference.OpMean,
		Inputs:      []int{in},
		Output:      out,
		Multipliers: []int32{m},
		Shifts:      []int32{int32(s)},
		ActMin:      -128,
		ActMax:      127,
	})
	return out, nil
}

// logistic maps int8 logits to uint8 probabilities through a lookup table.
func (b *builder) logistic(in int, name string) int {
	t := b.m.Tensors[in]
	out := b.tensor(name, inference.Uint8, t.Shape, outputScale, 0)
	lut := make([]uint8, 256)
	for i := range lut {
		p := activation.Logistic(float64(t.Dequantize(int32(i - 128))))
		lut[i] = uint8(math.Max(0, math.Min(255, math.Round(p/outputScale))))
	}
	b.m.Ops = append(b.m.Ops, inference.Op{
		Kind:   inference.OpLogistic,
		Inputs: []int{in},
		Output: out,
		LUT:    lut,
	})
	return out
}
