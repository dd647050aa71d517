package quantize

import "math"

import "github.com/pkg/errors"

import "github.com/edgeml/personcar/tensor"

// errEnough ends a dataset pass once the sample limit is reached.
var errEnough = errors.New("calibration sample limit reached")

// Range is the observed real interval of an activation.
type Range struct {
	Min, Max float32
	seen     bool
}

// Observe widens r to cover every value of t.
func (r *Range) Observe(t *tensor.Tensor) {
	for _, v := range t.Data {
		if !r.seen {
			r.Min, r.Max, r.seen = v, v, true
			continue
		}
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
	}
}

// Params returns the asymmetric int8 scale and zero point of r. The range
// is first widened to include zero so that zero is exactly representable.
func (r Range) Params() (scale float32, zeroPoint int32) {
	lo := math.Min(float64(r.Min), 0)
	hi := math.Max(float64(r.Max), 0)
	if hi-lo < 1e-8 {
		hi = lo + 1e-8
	}
	s := (hi - lo) / 255
	zp := math.Round(-128 - lo/s)
	if zp < -128 {
		zp = -128
	}
	if zp > 127 {
		zp = 127
	}
	return float32(s), int32(zp)
}

// Calibration collects the ranges of every named activation.
type Calibration struct {
	Ranges  map[string]*Range
	Samples int
}

func newCalibration() *Calibration {
	return &Calibration{Ranges: map[string]*Range{}}
}

func (c *Calibration) observe(name string, t *tensor.Tensor) {
	r := c.Ranges[name]
	if r == nil {
		r = &Range{}
		c.Ranges[name] = r
	}
	r.Observe(t)
}

// Calibrate runs folded over every sample of ds, batchSize samples at a
// time, and records the activation ranges. max > 0 limits the samples used.
func Calibrate(folded *Folded, ds Dataset, batchSize, max int) (*Calibration, error) {
	if batchSize <= 0 {
		batchSize = 8
	}
	cal := newCalibration()
	h, w, ch := folded.Config.Height, folded.Config.Width, folded.Config.Channels
	var pending []*tensor.Tensor

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := tensor.New(len(pending), h, w, ch)
		for i, t := range pending {
			copy(batch.Sample(i), t.Data)
		}
		folded.Forward(batch, cal.observe)
		cal.Samples += len(pending)
		pending = pending[:0]
	}

	err := ds.Each(func(t *tensor.Tensor) error {
		if t.Len() != h*w*ch {
			return errShape(t.Shape, h, w, ch)
		}
		pending = append(pending, t)
		if len(pending) == batchSize {
			flush()
		}
		if max > 0 && cal.Samples+len(pending) >= max {
			return errEnough
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEnough) {
		return nil, err
	}
	flush()
	return cal, nil
}
