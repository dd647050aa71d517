package parallel

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// every index is visited exactly once
func TestForEachVisitsAll(t *testing.T) {
	const n = 1000
	var seen [n]int32
	ForEach(n, 7, func(i int) {
		atomic.AddInt32(&seen[i], 1)
	})
	for i := range seen {
		require.Equal(t, int32(1), seen[i], "index %d", i)
	}
}

func TestForEachWorkerIndexInRange(t *testing.T) {
	const limit = 4
	var busy [limit]int32
	ForEachWorker(200, limit, func(w, i int) {
		if w < 0 || w >= limit {
			t.Errorf("worker index %d out of range", w)
			return
		}
		if atomic.AddInt32(&busy[w], 1) != 1 {
			t.Errorf("worker %d used concurrently", w)
		}
		atomic.AddInt32(&busy[w], -1)
	})
}

func TestForEachEmpty(t *testing.T) {
	ForEach(0, 3, func(i int) {
		t.Fatalf("body called for empty range")
	})
	require.NoError(t, ForEachErr(0, 3, func(i int) error { return errors.New("x") }))
}

func TestForEachErrLowestIndex(t *testing.T) {
	err := ForEachErr(10, 3, func(i int) error {
		if i == 4 || i == 8 {
			return errors.New("fail " + string(rune('0'+i)))
		}
		return nil
	})
	require.EqualError(t, err, "fail 4")
}

func TestWorkersPositive(t *testing.T) {
	require.Greater(t, Workers(), 0)
}
