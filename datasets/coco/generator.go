package coco

import "math/rand"
import "path/filepath"
import "sync"

import "github.com/pkg/errors"

import "github.com/edgeml/personcar/datasets"
import "github.com/edgeml/personcar/imageio"
import "github.com/edgeml/personcar/parallel"
import "github.com/edgeml/personcar/tensor"

// Weights holds the class weights of both outputs.
type Weights struct {
	Person datasets.ClassWeights `yaml:"person"`
	Car    datasets.ClassWeights `yaml:"car"`
}

// BalancedWeights computes balanced class weights of both outputs over recs.
func BalancedWeights(recs []Record) Weights {
	persons, cars := Count(recs)
	return Weights{
		Person: datasets.Balance(persons, len(recs)),
		Car:    datasets.Balance(cars, len(recs)),
	}
}

// Options configure a Generator.
type Options struct {
	Dir        string
	Width      int
	Height     int
	BatchSize  int
	Shuffle    bool
	Flip       bool
	FloatInput bool
	DropLast   bool
	Seed       int64
	Workers    int

	// Weights are applied per sample; nil weighs every sample 1.
	Weights *Weights
}

// DefaultOptions returns the options the model is trained with.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:        dir,
		Width:      256,
		Height:     256,
		BatchSize:  32,
		Shuffle:    true,
		Flip:       true,
		FloatInput: true,
		DropLast:   true,
		Seed:       1,
	}
}

// Batch is one slice of the shuffled dataset.
type Batch struct {
	// Images is N×H×W×3 in [0, 1]; nil when the generator serves raw bytes.
	Images *tensor.Tensor
	// Raw is N×H×W×3 bytes when FloatInput is off.
	Raw []uint8

	Person       []float32
	Car          []float32
	PersonWeight []float32
	CarWeight    []float32
	Records      []Record
}

// Size returns the number of samples.
func (b *Batch) Size() int {
	return len(b.Records)
}

// Generator serves fixed size batches of records, reshuffled once per epoch.
type Generator struct {
	recs []Record
	opt  Options

	mu      sync.RWMutex
	rng     *rand.Rand
	indices []int
	flips   []bool
}

// NewGenerator validates opt and prepares the first epoch.
func NewGenerator(recs []Record, opt Options) (*Generator, error) {
	if len(recs) == 0 {
		return nil, errors.New("no usable images")
	}
	if opt.Width <= 0 || opt.Height <= 0 {
		return nil, errors.Errorf("bad image size %dx%d", opt.Width, opt.Height)
	}
	if opt.BatchSize <= 0 {
		return nil, errors.Errorf("bad batch size %d", opt.BatchSize)
	}
	g := &Generator{
		recs: recs,
		opt:  opt,
		rng:  rand.New(rand.NewSource(opt.Seed)),
	}
	if g.Len() == 0 {
		return nil, errors.Errorf("%d images do not fill a batch of %d", len(recs), opt.BatchSize)
	}
	g.OnEpochEnd()
	return g, nil
}

// Len returns the number of batches per epoch.
func (g *Generator) Len() int {
	if g.opt.DropLast {
		return len(g.recs) / g.opt.BatchSize
	}
	return (len(g.recs) + g.opt.BatchSize - 1) / g.opt.BatchSize
}

// Samples returns the number of records served by the generator.
func (g *Generator) Samples() int {
	return len(g.recs)
}

// Records returns the records in input order.
func (g *Generator) Records() []Record {
	return g.recs
}

// OnEpochEnd rebuilds the index array, reshuffles it and draws the flip
// decisions of the next epoch.
func (g *Generator) OnEpochEnd() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.indices == nil {
		g.indices = make([]int, len(g.recs))
		g.flips = make([]bool, len(g.recs))
	}
	for i := range g.indices {
		g.indices[i] = i
	}
	if g.opt.Shuffle {
		g.rng.Shuffle(len(g.indices), func(i, j int) {
			g.indices[i], g.indices[j] = g.indices[j], g.indices[i]
		})
	}
	for i := range g.flips {
		g.flips[i] = g.opt.Flip && g.rng.Float64() < 0.5
	}
}

// Batch loads the i-th batch of the current epoch.
func (g *Generator) Batch(i int) (*Batch, error) {
	if i < 0 || i >= g.Len() {
		return nil, errors.Errorf("batch %d out of range [0, %d)", i, g.Len())
	}
	g.mu.RLock()
	lo := i * g.opt.BatchSize
	hi := lo + g.opt.BatchSize
	if hi > len(g.indices) {
		hi = len(g.indices)
	}
	idx := append([]int(nil), g.indices[lo:hi]...)
	flips := append([]bool(nil), g.flips[lo:hi]...)
	g.mu.RUnlock()

	n := len(idx)
	w, h := g.opt.Width, g.opt.Height
	pixels := h * w * 3
	b := &Batch{
		Person:       make([]float32, n),
		Car:          make([]float32, n),
		PersonWeight: make([]float32, n),
		CarWeight:    make([]float32, n),
		Records:      make([]Record, n),
	}
	if g.opt.FloatInput {
		b.Images = tensor.New(n, h, w, 3)
	} else {
		b.Raw = make([]uint8, n*pixels)
	}

	for j, k := range idx {
		rec := g.recs[k]
		b.Records[j] = rec
		b.PersonWeight[j], b.CarWeight[j] = 1, 1
		if rec.HasPerson {
			b.Person[j] = 1
		}
		if rec.HasCar {
			b.Car[j] = 1
		}
		if g.opt.Weights != nil {
			b.PersonWeight[j] = g.opt.Weights.Person.Of(rec.HasPerson)
			b.CarWeight[j] = g.opt.Weights.Car.Of(rec.HasCar)
		}
	}

	err := parallel.ForEachErr(n, g.opt.Workers, func(j int) error {
		img, err := imageio.Open(filepath.Join(g.opt.Dir, b.Records[j].FileName))
		if err != nil {
			return err
		}
		rgba := imageio.Resize(img, w, h)
		if flips[j] {
			imageio.FlipHorizontal(rgba)
		}
		if b.Images != nil {
			imageio.WriteFloat(b.Images.Data[j*pixels:(j+1)*pixels], rgba)
		} else {
			imageio.WriteUint8(b.Raw[j*pixels:(j+1)*pixels], rgba)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "batch %d", i)
	}
	return b, nil
}
