package residual

import (
	"bytes"
	"io/ioutil"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/edgeml/personcar/layer/layertest"
	"github.com/edgeml/personcar/tensor"
)

func small() Config {
	cfg := DefaultConfig()
	cfg.Height, cfg.Width = 16, 16
	cfg.Blocks = 2
	cfg.Filters = 4
	cfg.Hidden = 8
	return cfg
}

func TestForwardShapes(t *testing.T) {
	n := MustNew(small())
	x := layertest.Random(rand.New(rand.NewSource(1)), 3, 16, 16, 3)
	person, car := n.Forward(x, false)
	require.Equal(t, []int{3, 1}, person.Shape)
	require.Equal(t, []int{3, 1}, car.Shape)
	for _, p := range append(person.Data, car.Data...) {
		require.True(t, p > 0 && p < 1, "probability %v", p)
	}
	require.Equal(t, 8, n.Features())

	require.Len(t, n.Variables(), 2*18+6)
	require.Len(t, n.Params(), 2*12+6)
	require.Equal(t, "block1/conv1/kernel", n.Variables()[0].Name)
	require.Equal(t, []int{3, 3, 3, 4}, n.Variables()[0].Shape)

	require.Panics(t, func() { n.Forward(tensor.New(1, 8, 8, 3), false) })
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := small()
	cfg.Filters = 0
	_, err := New(cfg)
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MustNew(DefaultConfig()).Summary(&buf))
	out := buf.String()
	require.Contains(t, out, "block5")
	require.Contains(t, out, "[8 8 256]")
	require.Contains(t, out, PersonOutput)
	require.Contains(t, out, "Trainable params:")
}

func bce(p, t []float32, grad []float32) float64 {
	var loss float64
	for i := range p {
		pi := math.Min(math.Max(float64(p[i]), 1e-7), 1-1e-7)
		if t[i] > 0 {
			loss -= math.Log(pi)
		} else {
			loss -= math.Log(1 - pi)
		}
		if grad != nil {
			grad[i] = float32((pi - float64(t[i])) / (pi * (1 - pi)) / float64(len(p)))
		}
	}
	return loss / float64(len(p))
}

func TestGradientStepReducesLoss(t *testing.T) {
	n := MustNew(small())
	x := layertest.Random(rand.New(rand.NewSource(2)), 4, 16, 16, 3)
	tp := []float32{1, 0, 1, 0}
	tc := []float32{0, 0, 1, 1}

	step := func() float64 {
		p, c := n.Forward(x, true)
		gp, gc := tensor.New(4, 1), tensor.New(4, 1)
		loss := bce(p.Data, tp, gp.Data) + bce(c.Data, tc, gc.Data)
		n.Backward(gp, gc)
		for _, v := range n.Params() {
			for i, g := range v.Grad {
				v.Value[i] -= 0.01 * g
			}
		}
		return loss
	}
	first := step()
	var last float64
	for i := 0; i < 30; i++ {
		last = step()
	}
	require.Less(t, last, first)
}

func TestSaveLoad(t *testing.T) {
	n := MustNew(small())
	x := layertest.Random(rand.New(rand.NewSource(3)), 2, 16, 16, 3)
	n.Forward(x, true) // moves the batch norm statistics away from their defaults
	wantP, wantC := n.Predict(x)

	dir := filepath.Join(t.TempDir(), "saved_model")
	require.NoError(t, n.Save(dir))

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, []string{PersonOutput, CarOutput}, m.Outputs)
	require.False(t, m.Variables[4].Trainable)

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, n.Config, loaded.Config)
	gotP, gotC := loaded.Predict(x)
	require.Equal(t, wantP, gotP)
	require.Equal(t, wantC, gotC)

	m.Config.Blocks = 1
	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644))
	_, err = Load(dir)
	require.Error(t, err)

	_, err = Load(t.TempDir())
	require.Error(t, err)
}
