package trainer

import "context"
import "math"

import "github.com/pkg/errors"

import "github.com/edgeml/personcar/learning"
import "github.com/edgeml/personcar/net/residual"

// sampleSize calculates the statistically sufficient sample size
// for a given dataset size N and significance level (0–100).
func sampleSize(N int, significance byte) int {

	// Convert significance level to Z-score
	z := zScoreFromAlpha(100 - significance)

	// Assume worst-case proportion p = 0.5 for max variability
	p := 0.5
	e := float64(100-significance) * 0.01

	numerator := math.Pow(z, 2) * p * (1 - p)
	denominator := math.Pow(e, 2)

	ss := numerator / denominator

	// Apply finite population correction
	correctedSS := ss * float64(N) / (float64(N) - 1 + ss)

	if int(correctedSS) > N {
		return N
	}
	if correctedSS < 1 && N > 0 {
		return 1
	}
	return int(correctedSS)
}

// zScoreFromAlpha returns the Z-score for a given alpha level
// Common: 90% => 1.645, 95% => 1.96, 99% => 2.576
func zScoreFromAlpha(alpha byte) float64 {
	switch {
	case alpha <= 1:
		return 2.576
	case alpha <= 5:
		return 1.96
	case alpha <= 10:
		return 1.645
	default:
		return 1.96
	}
}

// HeadResult is the loss and accuracy of one output.
type HeadResult struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// Evaluation summarises an inference pass over some batches.
type Evaluation struct {
	Batches int        `json:"batches"`
	Samples int        `json:"samples"`
	Person  HeadResult `json:"person"`
	Car     HeadResult `json:"car"`
}

// Loss is the sum of both head losses.
func (e *Evaluation) Loss() float64 {
	return e.Person.Loss + e.Car.Loss
}

// Evaluate runs the network in inference mode over a sample of the batches
// of src large enough for the given significance (0-100). Significance 0
// evaluates every batch. Batches are picked evenly across the source.
func Evaluate(ctx context.Context, net *residual.Network, src BatchSource, significance byte) (*Evaluation, error) {
	total := src.Len()
	count := total
	if significance > 0 && significance < 100 {
		count = sampleSize(total, significance)
	}
	ev := &Evaluation{}
	for k := 0; k < count; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		i := k * total / count
		b, err := src.Batch(i)
		if err != nil {
			return nil, errors.Wrap(err, "validation")
		}
		if b.Images == nil {
			return nil, errors.New("validation batches must carry float images")
		}
		person, car := net.Predict(b.Images)
		n := float64(b.Size())
		ev.Person.Loss += n * learning.BinaryCrossentropy(person, b.Person, b.PersonWeight, nil)
		ev.Car.Loss += n * learning.BinaryCrossentropy(car, b.Car, b.CarWeight, nil)
		ev.Person.Accuracy += n * learning.BinaryAccuracy(person, b.Person)
		ev.Car.Accuracy += n * learning.BinaryAccuracy(car, b.Car)
		ev.Batches++
		ev.Samples += b.Size()
	}
	if ev.Samples > 0 {
		s := float64(ev.Samples)
		ev.Person.Loss /= s
		ev.Car.Loss /= s
		ev.Person.Accuracy /= s
		ev.Car.Accuracy /= s
	}
	return ev, nil
}
