// Package layertest holds helpers shared by the layer tests.
package layertest

import "math"
import "math/rand"
import "testing"

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/tensor"

const (
	step      = 1e-2
	tolerance = 2e-2
	maxChecks = 40
)

// Random returns a tensor with values from U(-1, 1).
func Random(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float32()*2 - 1
	}
	return t
}

// CheckGradients compares the gradients reported by Backward with central
// differences of L = Σ r·Forward(x) for a fixed random r. It checks the
// input and every trainable parameter.
func CheckGradients(t testing.TB, l layer.Layer, x *tensor.Tensor, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	y := l.Forward(x, true)
	r := Random(rng, y.Shape...)
	dx := l.Backward(r)

	analytic := make(map[*layer.Param][]float32)
	for _, p := range l.Params() {
		analytic[p] = append([]float32(nil), p.Grad...)
	}

	loss := func() float64 {
		out := l.Forward(x, true)
		var s float64
		for i, v := range out.Data {
			s += float64(v) * float64(r.Data[i])
		}
		return s
	}

	check := func(name string, values, grad []float32) {
		stride := 1
		if len(values) > maxChecks {
			stride = len(values) / maxChecks
		}
		for i := 0; i < len(values); i += stride {
			orig := values[i]
			values[i] = orig + step
			lp := loss()
			values[i] = orig - step
			lm := loss()
			values[i] = orig

			num := (lp - lm) / (2 * step)
			have := float64(grad[i])
			if math.Abs(num-have) > tolerance*math.Max(1, math.Abs(num)) {
				t.Errorf("%s[%d]: analytic %.5f numeric %.5f", name, i, have, num)
			}
		}
	}

	check("input", x.Data, dx.Data)
	for _, p := range l.Params() {
		check(p.Name, p.Value, analytic[p])
	}
}
