package trainer

import "context"
import "time"

import "github.com/pkg/errors"
import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/datasets/coco"
import "github.com/edgeml/personcar/learning"
import "github.com/edgeml/personcar/metrics"
import "github.com/edgeml/personcar/net/residual"
import "github.com/edgeml/personcar/tensor"

// BatchSource serves the batches of one epoch. *coco.Generator implements it.
type BatchSource interface {
	Len() int
	Batch(i int) (*coco.Batch, error)
	OnEpochEnd()
}

// Recorder receives the result of every finished epoch.
type Recorder interface {
	RecordEpoch(EpochResult) error
}

// Options configure Run.
type Options struct {
	// LogEvery logs throughput every this many steps, 0 means 50.
	LogEvery int

	// Validation is evaluated after every epoch when set.
	Validation BatchSource
	// Significance (0-100) sizes the validation sample, 0 means 95.
	Significance byte

	Recorder Recorder
}

// EpochResult summarises one epoch.
type EpochResult struct {
	Epoch        int           `json:"epoch"`
	Steps        int           `json:"steps"`
	Samples      int           `json:"samples"`
	Person       HeadResult    `json:"person"`
	Car          HeadResult    `json:"car"`
	ImagesPerSec float64       `json:"images_per_sec"`
	Duration     time.Duration `json:"duration"`
	Validation   *Evaluation   `json:"validation,omitempty"`
}

// Loss is the sum of both head losses.
func (r *EpochResult) Loss() float64 {
	return r.Person.Loss + r.Car.Loss
}

// Run trains net with Adam for h.Epochs epochs over train. It stops between
// batches when ctx is cancelled and returns the finished epochs with ctx.Err().
func Run(ctx context.Context, net *residual.Network, train BatchSource, h learning.HyperParameters, opt Options) ([]EpochResult, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if train.Len() == 0 {
		return nil, errors.New("trainer: no training batches")
	}
	if opt.LogEvery <= 0 {
		opt.LogEvery = 50
	}
	if opt.Significance == 0 {
		opt.Significance = 95
	}
	net.SetWorkers(h.Threads)
	adam := h.NewAdam()

	var results []EpochResult
	for epoch := 1; epoch <= h.Epochs; epoch++ {
		res, err := runEpoch(ctx, net, train, adam, epoch, opt.LogEvery)
		if err != nil {
			return results, err
		}
		if opt.Validation != nil {
			res.Validation, err = Evaluate(ctx, net, opt.Validation, opt.Significance)
			if err != nil {
				return results, err
			}
		}
		logEpoch(res, h.Epochs)
		if opt.Recorder != nil {
			if err := opt.Recorder.RecordEpoch(*res); err != nil {
				logrus.WithError(err).Warn("recording epoch")
			}
		}
		results = append(results, *res)
		train.OnEpochEnd()
	}
	return results, nil
}

func runEpoch(ctx context.Context, net *residual.Network, train BatchSource, adam *learning.Adam, epoch, logEvery int) (*EpochResult, error) {
	res := &EpochResult{Epoch: epoch}
	var window metrics.Window
	var busy time.Duration
	start := time.Now()

	for i := 0; i < train.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		startData := time.Now()
		b, err := train.Batch(i)
		if err != nil {
			return nil, err
		}
		if b.Images == nil {
			return nil, errors.New("trainer: batches must carry float images")
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		person, car := net.Forward(b.Images, true)
		n := b.Size()
		gp, gc := tensor.New(n, 1), tensor.New(n, 1)
		lp := learning.BinaryCrossentropy(person.Data, b.Person, b.PersonWeight, gp.Data)
		lc := learning.BinaryCrossentropy(car.Data, b.Car, b.CarWeight, gc.Data)
		net.Backward(gp, gc)
		adam.Step(net.Params())
		computeTime := time.Since(startCompute)

		w := float64(n)
		res.Person.Loss += w * lp
		res.Car.Loss += w * lc
		res.Person.Accuracy += w * learning.BinaryAccuracy(person.Data, b.Person)
		res.Car.Accuracy += w * learning.BinaryAccuracy(car.Data, b.Car)
		res.Samples += n
		res.Steps++
		busy += dataTime + computeTime

		window.Record(n, dataTime, computeTime, lp+lc)
		if res.Steps%logEvery == 0 {
			snap := window.Snapshot()
			logrus.WithFields(snap.Fields()).WithFields(logrus.Fields{
				"epoch": epoch,
				"step":  res.Steps,
				"of":    train.Len(),
			}).Info("training")
		}
	}

	s := float64(res.Samples)
	res.Person.Loss /= s
	res.Car.Loss /= s
	res.Person.Accuracy /= s
	res.Car.Accuracy /= s
	res.Duration = time.Since(start)
	if busy > 0 {
		res.ImagesPerSec = s / busy.Seconds()
	}
	return res, nil
}

func logEpoch(res *EpochResult, epochs int) {
	fields := logrus.Fields{
		"epoch":           res.Epoch,
		"of":              epochs,
		"loss":            res.Loss(),
		"person_loss":     res.Person.Loss,
		"car_loss":        res.Car.Loss,
		"person_accuracy": res.Person.Accuracy,
		"car_accuracy":    res.Car.Accuracy,
		"images_per_sec":  res.ImagesPerSec,
		"duration":        res.Duration.Round(time.Millisecond),
	}
	if v := res.Validation; v != nil {
		fields["val_loss"] = v.Loss()
		fields["val_person_accuracy"] = v.Person.Accuracy
		fields["val_car_accuracy"] = v.Car.Accuracy
	}
	logrus.WithFields(fields).Info("epoch finished")
}
