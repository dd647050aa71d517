package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeml/personcar/layer/layertest"
	"github.com/edgeml/personcar/tensor"
)

func TestGlobalAverage(t *testing.T) {
	var g GlobalAverage
	x := tensor.FromData([]float32{1, 10, 3, 30, 5, 50, 7, 70}, 1, 2, 2, 2)
	y := g.Forward(x, true)
	require.Equal(t, []int{1, 2}, y.Shape)
	require.Equal(t, []float32{4, 40}, y.Data)
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	layertest.CheckGradients(t, &GlobalAverage{}, layertest.Random(rng, 2, 3, 3, 4), 3)
}
