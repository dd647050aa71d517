package activation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeml/personcar/layer/layertest"
	"github.com/edgeml/personcar/tensor"
)

func TestReLU(t *testing.T) {
	var r ReLU
	y := r.Forward(tensor.FromData([]float32{-1, 0, 2}, 3), true)
	require.Equal(t, []float32{0, 0, 2}, y.Data)
	dx := r.Backward(tensor.FromData([]float32{5, 5, 5}, 3))
	require.Equal(t, []float32{0, 0, 5}, dx.Data)
}

func TestLogisticStable(t *testing.T) {
	require.InDelta(t, 0.5, Logistic(0), 1e-12)
	require.InDelta(t, 1, Logistic(800), 1e-12)
	require.InDelta(t, 0, Logistic(-800), 1e-12)
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	layertest.CheckGradients(t, &Sigmoid{}, layertest.Random(rng, 3, 4), 1)

	x := layertest.Random(rng, 2, 6)
	for i, v := range x.Data {
		if v > -0.1 && v < 0.1 {
			x.Data[i] = 0.5
		}
	}
	layertest.CheckGradients(t, &ReLU{}, x, 2)
}
