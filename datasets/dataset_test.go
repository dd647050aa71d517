package datasets

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBalance(t *testing.T) {
	w := Balance(25, 100)
	require.InDelta(t, 2.0, w.Positive, 1e-6)
	require.InDelta(t, 100.0/150, w.Negative, 1e-6)

	// positives and negatives carry the same total weight
	require.InDelta(t, 25*w.Positive, 75*w.Negative, 1e-4)

	require.Equal(t, float32(2), w.Of(true))
	require.Equal(t, Unweighted, Balance(0, 0))
	require.Equal(t, float32(1), Balance(0, 10).Positive)
	require.Equal(t, float32(1), Balance(10, 10).Negative)
}

func TestSplitIndices(t *testing.T) {
	train, val := SplitIndices(10, 0.3, rand.New(rand.NewSource(1)))
	require.Len(t, val, 3)
	require.Len(t, train, 7)
	seen := map[int]bool{}
	for _, i := range append(append([]int{}, train...), val...) {
		require.False(t, seen[i])
		seen[i] = true
	}
	require.Len(t, seen, 10)

	again, _ := SplitIndices(10, 0.3, rand.New(rand.NewSource(1)))
	require.Equal(t, train, again)

	train, val = SplitIndices(4, 0, rand.New(rand.NewSource(1)))
	require.Len(t, train, 4)
	require.Empty(t, val)
}
