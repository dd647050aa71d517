// Package residual implements the person/car indicator: a stack of
// downsampling residual blocks followed by global average pooling, a shared
// hidden dense layer and two sigmoid outputs.
package residual

import "fmt"
import "io"
import "math/rand"
import "strings"

import "github.com/pkg/errors"

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/layer/activation"
import "github.com/edgeml/personcar/layer/dense"
import "github.com/edgeml/personcar/layer/pool"
import "github.com/edgeml/personcar/tensor"

// Output names of the two heads.
const (
	PersonOutput = "person_pred"
	CarOutput    = "car_pred"
)

// Config describes the topology.
type Config struct {
	Name     string `yaml:"name"`
	Height   int    `yaml:"height"`
	Width    int    `yaml:"width"`
	Channels int    `yaml:"channels"`
	Blocks   int    `yaml:"blocks"`
	Filters  int    `yaml:"filters"`
	Hidden   int    `yaml:"hidden"`
	Seed     int64  `yaml:"seed"`
}

// DefaultConfig is the 256×256 five block model.
func DefaultConfig() Config {
	return Config{
		Name:     "person_car_indicator",
		Height:   256,
		Width:    256,
		Channels: 3,
		Blocks:   5,
		Filters:  16,
		Hidden:   64,
		Seed:     1,
	}
}

// Validate checks that every size is positive.
func (c Config) Validate() error {
	for _, v := range []struct {
		name  string
		value int
	}{
		{"height", c.Height},
		{"width", c.Width},
		{"channels", c.Channels},
		{"blocks", c.Blocks},
		{"filters", c.Filters},
		{"hidden", c.Hidden},
	} {
		if v.value <= 0 {
			return errors.Errorf("model %s must be positive, have %d", v.name, v.value)
		}
	}
	return nil
}

// Network is the person/car indicator model.
type Network struct {
	Config Config

	Blocks []*Block
	Hidden *dense.Dense
	Person *dense.Dense
	Car    *dense.Dense

	gap       pool.GlobalAverage
	relu      activation.ReLU
	personAct activation.Sigmoid
	carAct    activation.Sigmoid
}

// New builds a network with Glorot-uniform weights drawn from cfg.Seed.
func New(cfg Config) (*Network, error) {
	return build(cfg, rand.New(rand.NewSource(cfg.Seed)))
}

// MustNew is New that panics on an invalid config.
func MustNew(cfg Config) *Network {
	n, err := New(cfg)
	if err != nil {
		panic(err.Error())
	}
	return n
}

func build(cfg Config, rng *rand.Rand) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Network{Config: cfg}
	in, filters := cfg.Channels, cfg.Filters
	for i := 0; i < cfg.Blocks; i++ {
		b, err := newBlock(fmt.Sprintf("block%d", i+1), in, filters, rng)
		if err != nil {
			return nil, err
		}
		n.Blocks = append(n.Blocks, b)
		in, filters = filters, filters*2
	}
	var err error
	if n.Hidden, err = dense.New("dense", in, cfg.Hidden, rng); err != nil {
		return nil, err
	}
	if n.Person, err = dense.New(PersonOutput, cfg.Hidden, 1, rng); err != nil {
		return nil, err
	}
	if n.Car, err = dense.New(CarOutput, cfg.Hidden, 1, rng); err != nil {
		return nil, err
	}
	return n, nil
}

// SetWorkers bounds the samples every convolution processes concurrently.
func (n *Network) SetWorkers(workers int) {
	for _, b := range n.Blocks {
		b.setWorkers(workers)
	}
}

// Features returns the width of the pooled feature vector.
func (n *Network) Features() int {
	return n.Blocks[len(n.Blocks)-1].Filters()
}

// Forward maps N×H×W×C images to the N×1 person and car probabilities.
func (n *Network) Forward(x *tensor.Tensor, training bool) (person, car *tensor.Tensor) {
	_, h, w, c := x.Dims4()
	if h != n.Config.Height || w != n.Config.Width || c != n.Config.Channels {
		panic(fmt.Sprintf("residual: input %v, model expects %dx%dx%d", x.Shape, n.Config.Height, n.Config.Width, n.Config.Channels))
	}
	y := x
	for _, b := range n.Blocks {
		y = b.Forward(y, training)
	}
	y = n.gap.Forward(y, training)
	y = n.Hidden.Forward(y, training)
	y = n.relu.Forward(y, training)
	person = n.personAct.Forward(n.Person.Forward(y, training), training)
	car = n.carAct.Forward(n.Car.Forward(y, training), training)
	return
}

// Backward propagates the gradients of the loss with respect to both
// probabilities and leaves every parameter gradient set.
func (n *Network) Backward(gPerson, gCar *tensor.Tensor) {
	g := n.Person.Backward(n.personAct.Backward(gPerson))
	g.Add(n.Car.Backward(n.carAct.Backward(gCar)))
	g = n.relu.Backward(g)
	g = n.Hidden.Backward(g)
	g = n.gap.Backward(g)
	for i := len(n.Blocks) - 1; i >= 0; i-- {
		g = n.Blocks[i].Backward(g)
	}
}

// Predict runs an inference pass and returns the probabilities per sample.
func (n *Network) Predict(x *tensor.Tensor) (person, car []float32) {
	p, c := n.Forward(x, false)
	return p.Data, c.Data
}

// layers lists every layer owning variables, in save order.
func (n *Network) layers() (ls []layer.Layer) {
	for _, b := range n.Blocks {
		ls = append(ls, b.layers()...)
	}
	return append(ls, n.Hidden, n.Person, n.Car)
}

// Params lists the trainable parameters.
func (n *Network) Params() (ps []*layer.Param) {
	for _, l := range n.layers() {
		ps = append(ps, l.Params()...)
	}
	return
}

// Variables lists every variable including the batch norm moving statistics.
func (n *Network) Variables() (vs []*layer.Param) {
	for _, l := range n.layers() {
		vs = append(vs, l.Params()...)
		if s, ok := l.(layer.Stateful); ok {
			vs = append(vs, s.State()...)
		}
	}
	return
}

// CountParams returns the number of trainable and non-trainable values.
func (n *Network) CountParams() (trainable, fixed int) {
	for _, v := range n.Variables() {
		if v.Grad != nil {
			trainable += len(v.Value)
		} else {
			fixed += len(v.Value)
		}
	}
	return
}

// Summary writes a per-layer table of output shapes and parameter counts.
func (n *Network) Summary(w io.Writer) error {
	var sb strings.Builder
	row := func(name string, shape []int, params int) {
		fmt.Fprintf(&sb, "%-28s %-20s %10d\n", name, fmt.Sprint(shape), params)
	}
	count := func(ls ...layer.Layer) (c int) {
		for _, l := range ls {
			for _, p := range l.Params() {
				c += len(p.Value)
			}
			if s, ok := l.(layer.Stateful); ok {
				for _, p := range s.State() {
					c += len(p.Value)
				}
			}
		}
		return
	}

	fmt.Fprintf(&sb, "Model: %s\n", n.Config.Name)
	fmt.Fprintf(&sb, "%-28s %-20s %10s\n", "Layer", "Output shape", "Params")
	h, wd := n.Config.Height, n.Config.Width
	row("input", []int{h, wd, n.Config.Channels}, 0)
	for i, b := range n.Blocks {
		h, wd = (h+1)/2, (wd+1)/2
		row(fmt.Sprintf("block%d", i+1), []int{h, wd, b.Filters()}, count(b.layers()...))
	}
	row("global_average_pooling", []int{n.Features()}, 0)
	row("dense", []int{n.Config.Hidden}, count(n.Hidden))
	row(PersonOutput, []int{1}, count(n.Person))
	row(CarOutput, []int{1}, count(n.Car))
	trainable, fixed := n.CountParams()
	fmt.Fprintf(&sb, "Trainable params: %d\nNon-trainable params: %d\n", trainable, fixed)

	_, err := io.WriteString(w, sb.String())
	return err
}
