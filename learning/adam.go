// Package learning implements the optimizer, the loss and the metrics used to train the network
package learning

import "math"

import "github.com/edgeml/personcar/layer"

// Adam is the Adam optimizer with bias corrected step size.
type Adam struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32

	iterations int
	moments    map[*layer.Param]*moment
}

type moment struct {
	m, v []float32
}

// Iterations returns the number of steps taken.
func (a *Adam) Iterations() int {
	return a.iterations
}

// Step updates every parameter from its gradient.
func (a *Adam) Step(params []*layer.Param) {
	if a.moments == nil {
		a.moments = make(map[*layer.Param]*moment)
	}
	a.iterations++
	t := float64(a.iterations)
	lr := float64(a.LearningRate) * math.Sqrt(1-math.Pow(float64(a.Beta2), t)) / (1 - math.Pow(float64(a.Beta1), t))
	b1, b2, eps := a.Beta1, a.Beta2, a.Epsilon

	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		mo := a.moments[p]
		if mo == nil {
			mo = &moment{m: make([]float32, len(p.Value)), v: make([]float32, len(p.Value))}
			a.moments[p] = mo
		}
		for i, g := range p.Grad {
			m := b1*mo.m[i] + (1-b1)*g
			v := b2*mo.v[i] + (1-b2)*g*g
			mo.m[i], mo.v[i] = m, v
			p.Value[i] -= float32(lr * float64(m) / (math.Sqrt(float64(v)) + float64(eps)))
		}
	}
}
