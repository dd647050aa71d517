// Package parallel contains the bounded worker pools used by data loading and the layer kernels.
package parallel

import "sync"
import "sync/atomic"

import "github.com/klauspost/cpuid/v2"

// Workers reports the default pool width on this machine.
func Workers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}

// ForEach executes body for every integer from 0 to length with at most limit
// goroutines running at once. A limit below 1 means Workers().
func ForEach(length, limit int, body func(i int)) {
	ForEachWorker(length, limit, func(_, i int) {
		body(i)
	})
}

// ForEachWorker is ForEach that also passes the index of the goroutine
// running the body, in the range [0, limit). Bodies sharing a worker index
// never run concurrently, so per-worker scratch buffers need no locking.
func ForEachWorker(length, limit int, body func(worker, i int)) {
	if length <= 0 {
		return
	}
	if limit <= 0 {
		limit = Workers()
	}
	if limit > length {
		limit = length
	}
	if limit == 1 {
		for i := 0; i < length; i++ {
			body(0, i)
		}
		return
	}

	var next int64 = -1
	var wg sync.WaitGroup
	wg.Add(limit)
	for w := 0; w < limit; w++ {
		go func(w int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1))
				if i >= length {
					return
				}
				body(w, i)
			}
		}(w)
	}
	wg.Wait()
}

// ForEachErr is ForEach for bodies that can fail. All bodies run; the error
// of the lowest failing index is returned.
func ForEachErr(length, limit int, body func(i int) error) error {
	if length <= 0 {
		return nil
	}
	errs := make([]error, length)
	ForEach(length, limit, func(i int) {
		errs[i] = body(i)
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
