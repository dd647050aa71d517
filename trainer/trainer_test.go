package trainer

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/edgeml/personcar/datasets/coco"
	"github.com/edgeml/personcar/learning"
	"github.com/edgeml/personcar/net/residual"
	"github.com/edgeml/personcar/tensor"
)

// memory serves fixed batches: bright images contain a person, images with
// a dominant red channel contain a car.
type memory struct {
	batches []*coco.Batch
	epochs  int
}

func newMemory(batches, size int, seed int64) *memory {
	rng := rand.New(rand.NewSource(seed))
	m := &memory{}
	for b := 0; b < batches; b++ {
		batch := &coco.Batch{
			Images:       tensor.New(size, 8, 8, 3),
			Person:       make([]float32, size),
			Car:          make([]float32, size),
			PersonWeight: make([]float32, size),
			CarWeight:    make([]float32, size),
			Records:      make([]coco.Record, size),
		}
		for i := 0; i < size; i++ {
			bright := rng.Intn(2) == 1
			red := rng.Intn(2) == 1
			base := float32(0.2)
			if bright {
				base = 0.7
				batch.Person[i] = 1
			}
			if red {
				batch.Car[i] = 1
			}
			px := batch.Images.Sample(i)
			for p := 0; p < len(px); p += 3 {
				px[p] = base + rng.Float32()*0.1
				px[p+1] = base + rng.Float32()*0.1
				px[p+2] = base + rng.Float32()*0.1
				if red {
					px[p] += 0.25
				}
			}
			batch.PersonWeight[i], batch.CarWeight[i] = 1, 1
		}
		m.batches = append(m.batches, batch)
	}
	return m
}

func (m *memory) Len() int { return len(m.batches) }

func (m *memory) Batch(i int) (*coco.Batch, error) {
	if i < 0 || i >= len(m.batches) {
		return nil, errors.Errorf("batch %d out of range", i)
	}
	return m.batches[i], nil
}

func (m *memory) OnEpochEnd() { m.epochs++ }

type recorder struct {
	epochs []EpochResult
}

func (r *recorder) RecordEpoch(e EpochResult) error {
	r.epochs = append(r.epochs, e)
	return nil
}

func tiny() residual.Config {
	cfg := residual.DefaultConfig()
	cfg.Height, cfg.Width = 8, 8
	cfg.Blocks = 2
	cfg.Filters = 4
	cfg.Hidden = 8
	return cfg
}

func TestSampleSize(t *testing.T) {
	require.Equal(t, 277, sampleSize(1000, 95))
	require.Equal(t, 9, sampleSize(10, 95))
	require.Equal(t, 0, sampleSize(0, 95))
	require.Equal(t, 2.576, zScoreFromAlpha(1))
	require.Equal(t, 1.645, zScoreFromAlpha(10))
}

func TestRun(t *testing.T) {
	net := residual.MustNew(tiny())
	train := newMemory(4, 8, 1)
	val := newMemory(2, 8, 2)
	rec := &recorder{}

	h := learning.Default()
	h.LearningRate = 0.01
	h.Epochs = 8
	h.BatchSize = 8
	h.Threads = 2

	results, err := Run(context.Background(), net, train, h, Options{
		LogEvery:   2,
		Validation: val,
		Recorder:   rec,
	})
	require.NoError(t, err)
	require.Len(t, results, 8)
	require.Equal(t, results, rec.epochs)
	require.Equal(t, 8, train.epochs)

	first, last := results[0], results[len(results)-1]
	require.Equal(t, 4, first.Steps)
	require.Equal(t, 32, first.Samples)
	require.Less(t, last.Loss(), first.Loss())
	require.NotNil(t, last.Validation)
	require.Equal(t, 8, last.Validation.Samples)
	require.True(t, last.Person.Accuracy >= 0 && last.Person.Accuracy <= 1)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := learning.Default()
	h.Epochs = 1
	results, err := Run(ctx, residual.MustNew(tiny()), newMemory(1, 2, 1), h, Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, results)
}

func TestRunRejectsBadInput(t *testing.T) {
	h := learning.Default()
	h.Epochs = 0
	_, err := Run(context.Background(), residual.MustNew(tiny()), newMemory(1, 2, 1), h, Options{})
	require.Error(t, err)

	_, err = Run(context.Background(), residual.MustNew(tiny()), &memory{}, learning.Default(), Options{})
	require.Error(t, err)

	raw := newMemory(1, 2, 1)
	raw.batches[0].Images = nil
	_, err = Run(context.Background(), residual.MustNew(tiny()), raw, learning.Default(), Options{})
	require.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	net := residual.MustNew(tiny())
	src := newMemory(3, 4, 5)
	ev, err := Evaluate(context.Background(), net, src, 0)
	require.NoError(t, err)
	require.Equal(t, 3, ev.Batches)
	require.Equal(t, 12, ev.Samples)
	require.Greater(t, ev.Loss(), 0.0)
}

func TestResume(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saved_model")
	cfg := tiny()

	fresh, err := Resume(true, dir, cfg)
	require.NoError(t, err)
	fresh.Person.Bias.Value[0] = 0.5
	require.NoError(t, fresh.Save(dir))

	resumed, err := Resume(true, dir, cfg)
	require.NoError(t, err)
	require.Equal(t, float32(0.5), resumed.Person.Bias.Value[0])

	again, err := Resume(false, dir, cfg)
	require.NoError(t, err)
	require.Equal(t, float32(0), again.Person.Bias.Value[0])
}
