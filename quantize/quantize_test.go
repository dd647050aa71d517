package quantize

import (
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeml/personcar/inference"
	"github.com/edgeml/personcar/layer/batchnorm"
	"github.com/edgeml/personcar/layer/conv2d"
	"github.com/edgeml/personcar/net/residual"
	"github.com/edgeml/personcar/tensor"
)

func randomize(rng *rand.Rand, bn *batchnorm.BatchNorm) {
	for c := 0; c < bn.C; c++ {
		bn.Gamma.Value[c] = 0.5 + rng.Float32()
		bn.Beta.Value[c] = rng.Float32() - 0.5
		bn.MovingMean.Value[c] = rng.Float32() - 0.5
		bn.MovingVar.Value[c] = 0.5 + rng.Float32()
	}
}

func TestFold(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := conv2d.MustNew("c", 3, 5, 3, 2, rng)
	for i := range c.Bias.Value {
		c.Bias.Value[i] = rng.Float32() - 0.5
	}
	bn := batchnorm.MustNew("bn", 5)
	randomize(rng, bn)

	x := tensor.New(2, 7, 7, 3)
	for i := range x.Data {
		x.Data[i] = rng.Float32()
	}
	want := bn.Forward(c.Forward(x, false), false)
	got := Fold(c, bn).Forward(x, false)
	require.Equal(t, want.Shape, got.Shape)
	for i := range want.Data {
		require.InDelta(t, want.Data[i], got.Data[i], 1e-4)
	}
	require.Equal(t, "c/kernel", Fold(c, bn).Kernel.Name)
}

func TestRangeParams(t *testing.T) {
	s, zp := Range{Min: 0, Max: 2.55}.Params()
	require.InDelta(t, 0.01, s, 1e-7)
	require.Equal(t, int32(-128), zp)

	s, zp = Range{Min: -1, Max: 1.55}.Params()
	require.InDelta(t, 0.01, s, 1e-7)
	require.Equal(t, int32(-28), zp)

	// ranges are widened to include zero
	s, zp = Range{Min: 1, Max: 2}.Params()
	require.InDelta(t, 2.0/255, s, 1e-7)
	require.Equal(t, int32(-128), zp)
	s, zp = Range{Min: -3, Max: -1}.Params()
	require.InDelta(t, 3.0/255, s, 1e-7)
	require.Equal(t, int32(127), zp)

	s, _ = Range{}.Params()
	require.Greater(t, s, float32(0))
}

func small(rng *rand.Rand) *residual.Network {
	cfg := residual.DefaultConfig()
	cfg.Height, cfg.Width = 16, 16
	cfg.Blocks = 2
	cfg.Filters = 4
	cfg.Hidden = 8
	net := residual.MustNew(cfg)
	for _, b := range net.Blocks {
		randomize(rng, b.BN1)
		randomize(rng, b.BN2)
		randomize(rng, b.ShortBN)
	}
	net.Person.Bias.Value[0] = 0.3
	net.Car.Bias.Value[0] = -0.2
	return net
}

// samples returns images whose pixels are exact multiples of 1/255.
func samples(rng *rand.Rand, n int) ([]*tensor.Tensor, [][]byte) {
	var ts []*tensor.Tensor
	var raw [][]byte
	for i := 0; i < n; i++ {
		t := tensor.New(1, 16, 16, 3)
		b := make([]byte, len(t.Data))
		for j := range b {
			b[j] = byte(rng.Intn(256))
			t.Data[j] = float32(b[j]) / 255
		}
		ts = append(ts, t)
		raw = append(raw, b)
	}
	return ts, raw
}

func TestFoldedMatchesNetwork(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net := small(rng)
	ts, _ := samples(rng, 3)
	x := tensor.New(3, 16, 16, 3)
	for i, s := range ts {
		copy(x.Sample(i), s.Data)
	}
	wantP, wantC := net.Predict(x)
	p, c := FoldNetwork(net).Forward(x, nil)
	for i := range wantP {
		require.InDelta(t, wantP[i], p.Data[i], 1e-4)
		require.InDelta(t, wantC[i], c.Data[i], 1e-4)
	}
}

func TestConvert(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net := small(rng)
	ts, raw := samples(rng, 12)

	m, err := Convert(net, SliceDataset(ts...), Options{BatchSize: 5, Workers: 2})
	require.NoError(t, err)
	require.Equal(t, "12", m.Metadata["calibration_samples"])
	require.Equal(t, inference.Uint8, m.InputTensor().Type)
	require.Equal(t, []int{1, 16, 16, 3}, m.InputTensor().Shape)
	require.Equal(t, residual.PersonOutput, m.OutputTensor(0).Name)
	require.Equal(t, residual.CarOutput, m.OutputTensor(1).Name)
	require.Equal(t, float32(1.0/256), m.OutputTensor(0).Scale)

	kinds := map[inference.OpKind]int{}
	for _, op := range m.Ops {
		kinds[op.Kind]++
	}
	require.Equal(t, map[inference.OpKind]int{
		inference.OpQuantize:       1,
		inference.OpConv2D:         6,
		inference.OpAdd:            2,
		inference.OpMean:           1,
		inference.OpFullyConnected: 3,
		inference.OpLogistic:       2,
	}, kinds)

	it, err := inference.NewInterpreter(m)
	require.NoError(t, err)
	for i, s := range ts {
		wantP, wantC := net.Predict(s)
		require.NoError(t, it.Invoke(raw[i]))
		p, c := it.Scores()
		require.InDelta(t, wantP[0], p, 0.1, "person score of sample %d", i)
		require.InDelta(t, wantC[0], c, 0.1, "car score of sample %d", i)
	}
}

func TestConvertLimitsSamples(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net := small(rng)
	ts, _ := samples(rng, 6)
	m, err := Convert(net, SliceDataset(ts...), Options{MaxSamples: 4})
	require.NoError(t, err)
	require.Equal(t, "4", m.Metadata["calibration_samples"])

	counted := &countingDataset{Slice: SliceDataset(ts...)}
	_, err = Convert(net, counted, Options{MaxSamples: 4, BatchSize: 3})
	require.NoError(t, err)
	require.Equal(t, 4, counted.served, "samples read past the limit")
}

type countingDataset struct {
	Slice
	served int
}

func (c *countingDataset) Each(f func(*tensor.Tensor) error) error {
	return c.Slice.Each(func(t *tensor.Tensor) error {
		c.served++
		return f(t)
	})
}

func TestConvertErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net := small(rng)

	_, err := Convert(net, SliceDataset(), Options{})
	require.Equal(t, ErrNoSamples, err)

	_, err = Convert(net, SliceDataset(tensor.New(1, 8, 8, 3)), Options{})
	require.Error(t, err)

	_, err = Convert(net, DirectoryDataset(filepath.Join(t.TempDir(), "missing"), 16, 16, 0), Options{})
	require.Error(t, err)
}

func TestDirectoryDataset(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, img image.Image) {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	rgb := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for i := range rgb.Pix {
		rgb.Pix[i] = 255
	}
	write("a.png", rgb)
	write("b.png", rgb)
	write("grey.png", image.NewGray(image.Rect(0, 0, 4, 4)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	ds := DirectoryDataset(dir, 16, 16, 0)
	var got []*tensor.Tensor
	require.NoError(t, ds.Each(func(s *tensor.Tensor) error {
		got = append(got, s)
		return nil
	}))
	require.Len(t, got, 2)
	require.Equal(t, 2, ds.Skipped)
	require.Equal(t, []int{1, 16, 16, 3}, got[0].Shape)
	require.InDelta(t, 1.0, got[0].Data[100], 0.01)

	ds.Max = 1
	count := 0
	require.NoError(t, ds.Each(func(*tensor.Tensor) error { count++; return nil }))
	require.Equal(t, 1, count)

}
