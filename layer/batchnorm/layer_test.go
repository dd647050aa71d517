package batchnorm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeml/personcar/layer/layertest"
	"github.com/edgeml/personcar/tensor"
)

func TestTrainingOutputIsNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := MustNew("bn", 2)
	x := layertest.Random(rng, 4, 3, 3, 2)
	for i := range x.Data {
		x.Data[i] = x.Data[i]*5 + 3
	}
	y := b.Forward(x, true)

	for c := 0; c < 2; c++ {
		var mean, sq float64
		n := 0
		for i := c; i < len(y.Data); i += 2 {
			mean += float64(y.Data[i])
			n++
		}
		mean /= float64(n)
		for i := c; i < len(y.Data); i += 2 {
			d := float64(y.Data[i]) - mean
			sq += d * d
		}
		require.InDelta(t, 0, mean, 1e-4)
		require.InDelta(t, 1, math.Sqrt(sq/float64(n)), 1e-2)
	}
	// the moving statistics moved from their initial values toward the batch
	require.Greater(t, b.MovingMean.Value[0], float32(0))
	require.NotEqual(t, float32(1), b.MovingVar.Value[0])
}

func TestInferenceUsesMovingStatistics(t *testing.T) {
	b := MustNew("bn", 1)
	b.MovingMean.Value[0] = 2
	b.MovingVar.Value[0] = 4 - b.Epsilon
	b.Gamma.Value[0] = 3
	b.Beta.Value[0] = 1
	y := b.Forward(tensor.FromData([]float32{2, 4}, 2, 1), false)
	require.InDeltaSlice(t, []float32{1, 4}, y.Data, 1e-5)

	scale, shift := b.Scale()
	require.InDelta(t, 1.5, scale[0], 1e-6)
	require.InDelta(t, -2, shift[0], 1e-6)
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	b := MustNew("bn", 3)
	for i := range b.Gamma.Value {
		b.Gamma.Value[i] = rng.Float32() + 0.5
		b.Beta.Value[i] = rng.Float32()
	}
	layertest.CheckGradients(t, b, layertest.Random(rng, 3, 2, 2, 3), 8)
	layertest.CheckGradients(t, b, layertest.Random(rng, 6, 3), 9)
}
