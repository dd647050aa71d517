package learning

import "math"

// DefaultEpsilon is the probability clipping bound of the loss.
const DefaultEpsilon = 1e-7

// BinaryCrossentropy returns the mean over the batch of the weighted
// per-sample cross entropy of the probabilities pred against the 0/1
// targets. Probabilities are clipped to [ε, 1-ε]. When grad is not nil it
// receives the gradient with respect to pred, zero where pred was clipped.
// A nil weight weighs every sample 1.
func BinaryCrossentropy(pred, target, weight, grad []float32) float64 {
	if len(pred) == 0 {
		return 0
	}
	n := float64(len(pred))
	var sum float64
	for i, p := range pred {
		w := 1.0
		if weight != nil {
			w = float64(weight[i])
		}
		t := float64(target[i])
		q := float64(p)
		clipped := false
		if q < DefaultEpsilon {
			q, clipped = DefaultEpsilon, true
		} else if q > 1-DefaultEpsilon {
			q, clipped = 1-DefaultEpsilon, true
		}
		l := -(t*math.Log(q+DefaultEpsilon) + (1-t)*math.Log(1-q+DefaultEpsilon))
		sum += w * l
		if grad != nil {
			if clipped {
				grad[i] = 0
			} else {
				grad[i] = float32(-w * (t/(q+DefaultEpsilon) - (1-t)/(1-q+DefaultEpsilon)) / n)
			}
		}
	}
	return sum / n
}

// BinaryAccuracy returns the fraction of predictions on the same side of
// 0.5 as their target.
func BinaryAccuracy(pred, target []float32) float64 {
	if len(pred) == 0 {
		return 0
	}
	var hit int
	for i, p := range pred {
		if (p > 0.5) == (target[i] > 0.5) {
			hit++
		}
	}
	return float64(hit) / float64(len(pred))
}
