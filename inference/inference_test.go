package inference

import (
	"bytes"
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFixedPoint(t *testing.T) {
	require.Equal(t, int32(1<<29), SaturatingRoundingDoublingHighMul(1<<30, 1<<30))
	require.Equal(t, int32(math.MaxInt32), SaturatingRoundingDoublingHighMul(math.MinInt32, math.MinInt32))
	require.Equal(t, int32(-50), SaturatingRoundingDoublingHighMul(-100, 1<<30))

	require.Equal(t, int32(3), RoundingDivideByPOT(5, 1))
	require.Equal(t, int32(-3), RoundingDivideByPOT(-5, 1))
	require.Equal(t, int32(2), RoundingDivideByPOT(7, 2))
	require.Equal(t, int32(-2), RoundingDivideByPOT(-7, 2))
	require.Equal(t, int32(9), RoundingDivideByPOT(9, 0))

	for _, tc := range []struct {
		real  float64
		mult  int32
		shift int
	}{
		{0, 0, 0},
		{0.5, 1 << 30, 0},
		{0.25, 1 << 30, -1},
		{1, 1 << 30, 1},
		{3, 1610612736, 2},
		{1e-12, 0, 0},
		{1e12, math.MaxInt32, 30},
	} {
		m, s := QuantizeMultiplier(tc.real)
		require.Equal(t, tc.mult, m, "multiplier of %v", tc.real)
		require.Equal(t, tc.shift, s, "shift of %v", tc.real)
	}

	m, s := QuantizeMultiplier(0.25)
	require.Equal(t, int32(25), MultiplyByQuantizedMultiplier(100, m, s))
	m, s = QuantizeMultiplier(3)
	require.Equal(t, int32(30), MultiplyByQuantizedMultiplier(10, m, s))
	m, s = QuantizeMultiplier(0.3)
	require.Equal(t, int32(-30), MultiplyByQuantizedMultiplier(-100, m, s))
}

func lut(f func(i int) uint8) []uint8 {
	t := make([]uint8, 256)
	for i := range t {
		t[i] = f(i)
	}
	return t
}

// tinyModel quantizes a 2×2 grey image, averages it twice (mean and a
// 3×3 stride 2 convolution), adds both averages and feeds the sum through
// a dense unit into two lookup table heads.
func tinyModel() *Model {
	const s = float32(1) / 255
	return &Model{
		Name: "tiny",
		Tensors: []Tensor{
			{Name: "input", Type: Uint8, Shape: []int{1, 2, 2, 1}, Scale: s},
			{Name: "quantized", Type: Int8, Shape: []int{1, 2, 2, 1}, Scale: s, ZeroPoint: -128},
			{Name: "mean", Type: Int8, Shape: []int{1, 1}, Scale: s, ZeroPoint: -128},
			{Name: "conv", Type: Int8, Shape: []int{1, 1, 1, 1}, Scale: s, ZeroPoint: -128},
			{Name: "add", Type: Int8, Shape: []int{1, 1}, Scale: 2 * s, ZeroPoint: -128},
			{Name: "dense", Type: Int8, Shape: []int{1, 1}, Scale: 2 * s, ZeroPoint: -128},
			{Name: "person_pred", Type: Uint8, Shape: []int{1, 1}, Scale: 1.0 / 256},
			{Name: "car_pred", Type: Uint8, Shape: []int{1, 1}, Scale: 1.0 / 256},
		},
		Ops: []Op{
			{Kind: OpQuantize, Inputs: []int{0}, Output: 1, Multipliers: []int32{1 << 30}, Shifts: []int32{1}, ActMin: -128, ActMax: 127},
			{Kind: OpMean, Inputs: []int{1}, Output: 2, Multipliers: []int32{1 << 30}, Shifts: []int32{-1}, ActMin: -128, ActMax: 127},
			{
				Kind: OpConv2D, Inputs: []int{1}, Output: 3,
				Weights: []int8{1, 1, 1, 1, 1, 1, 1, 1, 1}, Bias: []int32{0},
				Multipliers: []int32{1 << 30}, Shifts: []int32{-1},
				Size: 3, Stride: 2, ActMin: -128, ActMax: 127,
			},
			{
				Kind: OpAdd, Inputs: []int{2, 3}, Output: 4, LeftShift: 20,
				Multipliers: []int32{1 << 30, 1 << 30, 1 << 30}, Shifts: []int32{0, 0, -19},
				ActMin: -128, ActMax: 127,
			},
			{
				Kind: OpFullyConnected, Inputs: []int{4}, Output: 5,
				Weights: []int8{1}, Bias: []int32{-39},
				Multipliers: []int32{1 << 30}, Shifts: []int32{1}, ActMin: -128, ActMax: 127,
			},
			{Kind: OpLogistic, Inputs: []int{5}, Output: 6, LUT: lut(func(i int) uint8 { return uint8(i) })},
			{Kind: OpLogistic, Inputs: []int{5}, Output: 7, LUT: lut(func(i int) uint8 { return uint8(255 - i) })},
		},
		Input:    0,
		Outputs:  []int{6, 7},
		Metadata: map[string]string{"source": "test", "outputs": "person_pred,car_pred"},
	}
}

func TestInterpreter(t *testing.T) {
	it, err := NewInterpreter(tinyModel())
	require.NoError(t, err)
	it.Workers = 2

	require.NoError(t, it.Invoke([]byte{0, 100, 200, 255}))
	require.Equal(t, []byte{128, 228, 72, 127}, it.data[1])
	require.Equal(t, int8(11), int8(it.data[2][0]))
	require.Equal(t, int8(11), int8(it.data[3][0]))
	require.Equal(t, int8(11), int8(it.data[4][0]))
	require.Equal(t, int8(-28), int8(it.data[5][0]))
	require.Equal(t, []byte{100}, it.Output(0))
	require.Equal(t, []byte{155}, it.Output(1))

	person, car := it.Scores()
	require.Equal(t, float32(100)/256, person)
	require.Equal(t, float32(155)/256, car)

	require.Error(t, it.Invoke([]byte{1, 2, 3}))
}

func TestValidate(t *testing.T) {
	require.NoError(t, tinyModel().Validate())

	m := tinyModel()
	m.Ops[0], m.Ops[1] = m.Ops[1], m.Ops[0]
	require.Error(t, m.Validate())

	m = tinyModel()
	m.Ops[2].Weights = m.Ops[2].Weights[:4]
	require.Error(t, m.Validate())

	m = tinyModel()
	m.Ops[5].LUT = nil
	require.Error(t, m.Validate())

	m = tinyModel()
	m.Tensors[0].Type = Int8
	_, err := NewInterpreter(m)
	require.Error(t, err)

	m = tinyModel()
	m.Outputs = nil
	require.Error(t, m.Validate())

	for name, mutate := range map[string]func(m *Model){
		"negative dim":     func(m *Model) { m.Tensors[2].Shape = []int{-1, -1} },
		"zero dim":         func(m *Model) { m.Tensors[5].Shape = []int{1, 0} },
		"conv batch":       func(m *Model) { m.Tensors[3].Shape = []int{2, 1, 1, 1} },
		"conv height":      func(m *Model) { m.Tensors[3].Shape = []int{1, 2, 1, 1} },
		"conv width":       func(m *Model) { m.Tensors[3].Shape = []int{1, 1, 3, 1} },
		"conv uint8 input": func(m *Model) { m.Tensors[1].Type = Uint8 },
		"dense batch":      func(m *Model) { m.Tensors[5].Shape = []int{2, 1} },
		"mean batch":       func(m *Model) { m.Tensors[2].Shape = []int{3, 1} },
	} {
		m := tinyModel()
		mutate(m)
		require.Error(t, m.Validate(), name)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	m := tinyModel()
	path := filepath.Join(t.TempDir(), "converted_model.qmodel")
	require.NoError(t, WriteFile(path, m))

	back, err := ReadFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(m, back, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
	require.Equal(t, Digest(m), Digest(back))

	it, err := NewInterpreter(back)
	require.NoError(t, err)
	require.NoError(t, it.Invoke([]byte{0, 100, 200, 255}))
	require.Equal(t, []byte{100}, it.Output(0))
}

func TestDecodeRejects(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tinyModel()))
	good := buf.Bytes()

	tampered := append([]byte(nil), good...)
	tampered[len(tampered)-3] ^= 0x40
	_, err := Decode(bytes.NewReader(tampered))
	require.True(t, errors.Is(err, ErrDigest))

	_, err = Decode(bytes.NewReader(good[:10]))
	require.Error(t, err)

	_, err = Decode(bytes.NewReader(good[:len(good)-5]))
	require.Error(t, err)

	magic := append([]byte("XXXX"), good[4:]...)
	_, err = Decode(bytes.NewReader(magic))
	require.Error(t, err)

	version := append([]byte(nil), good...)
	version[4] = 9
	_, err = Decode(bytes.NewReader(version))
	require.Error(t, err)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	it, err := NewInterpreter(tinyModel())
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i, v := range []uint8{0, 100, 200, 255} {
		img.Pix[4*i], img.Pix[4*i+1], img.Pix[4*i+2], img.Pix[4*i+3] = v, v, v, 255
	}
	// tinyModel takes a single channel, Pixels wants RGB
	_, err = it.Classify(img)
	require.Error(t, err)

	m := tinyModel()
	m.Tensors[0].Shape = []int{1, 2, 2, 3}
	buf, err := m.Pixels(img)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 100, 100, 100, 200, 200, 200, 255, 255, 255}, buf)
}
