package journal

import "github.com/edgeml/personcar/trainer"

// Recorder stores the epochs of one run as trainer.Run finishes them.
type Recorder struct {
	Journal *Journal
	Run     *Run
}

// RecordEpoch implements trainer.Recorder.
func (r Recorder) RecordEpoch(res trainer.EpochResult) error {
	return r.Journal.RecordEpoch(r.Run, EpochFrom(res))
}

// EpochFrom converts a trainer epoch summary into a journal row.
func EpochFrom(res trainer.EpochResult) *Epoch {
	e := &Epoch{
		Number:         res.Epoch,
		PersonLoss:     res.Person.Loss,
		CarLoss:        res.Car.Loss,
		PersonAccuracy: res.Person.Accuracy,
		CarAccuracy:    res.Car.Accuracy,
		ImagesPerSec:   res.ImagesPerSec,
		DurationMS:     res.Duration.Milliseconds(),
	}
	if v := res.Validation; v != nil {
		e.Validated = true
		e.ValLoss = v.Loss()
		e.ValPersonAccuracy = v.Person.Accuracy
		e.ValCarAccuracy = v.Car.Accuracy
	}
	return e
}
