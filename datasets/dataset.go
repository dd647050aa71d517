// Package datasets implements class balancing and splitting shared by the dataset loaders
package datasets

import "math/rand"

// ClassWeights are the loss weights of positive and negative samples of one
// binary output.
type ClassWeights struct {
	Positive float32 `yaml:"positive"`
	Negative float32 `yaml:"negative"`
}

// Unweighted weights both classes equally.
var Unweighted = ClassWeights{Positive: 1, Negative: 1}

// Of returns the weight of a sample with the given label.
func (w ClassWeights) Of(positive bool) float32 {
	if positive {
		return w.Positive
	}
	return w.Negative
}

// Balance returns weights that make both classes contribute equally to the
// loss: total/(2·count) for each class. A class without samples gets 1.
func Balance(positives, total int) ClassWeights {
	w := Unweighted
	negatives := total - positives
	if positives > 0 {
		w.Positive = float32(total) / float32(2*positives)
	}
	if negatives > 0 {
		w.Negative = float32(total) / float32(2*negatives)
	}
	return w
}

// SplitIndices shuffles 0..n-1 with rng and moves round(fraction·n) of them
// into the validation set. Both sets are returned in ascending order.
func SplitIndices(n int, fraction float64, rng *rand.Rand) (train, validation []int) {
	perm := rng.Perm(n)
	k := int(fraction*float64(n) + 0.5)
	if fraction <= 0 {
		k = 0
	}
	if k > n {
		k = n
	}
	mark := make([]bool, n)
	for _, i := range perm[:k] {
		mark[i] = true
	}
	for i := 0; i < n; i++ {
		if mark[i] {
			validation = append(validation, i)
		} else {
			train = append(train, i)
		}
	}
	return
}
