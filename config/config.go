// Package config loads the training configuration from YAML and merges
// command line overrides into it.
package config

import "io/ioutil"

import "github.com/pkg/errors"
import "gopkg.in/yaml.v2"

import "github.com/edgeml/personcar/datasets/coco"
import "github.com/edgeml/personcar/learning"
import "github.com/edgeml/personcar/net/residual"

// Class weighting modes.
const (
	WeightsBalanced = "balanced"
	WeightsNone     = "none"
)

// Config captures the knobs of a training run.
type Config struct {
	Images      string `yaml:"images"`
	Annotations string `yaml:"annotations"`
	Output      string `yaml:"output"`
	Journal     string `yaml:"journal"`
	LogEvery    int    `yaml:"log_every"`

	Model    residual.Config          `yaml:"model"`
	Training learning.HyperParameters `yaml:"training"`
	Data     Data                     `yaml:"data"`
}

// Data configures the batch generator.
type Data struct {
	Shuffle      bool    `yaml:"shuffle"`
	Flip         bool    `yaml:"flip"`
	DropLast     bool    `yaml:"drop_last"`
	ClassWeights string  `yaml:"class_weights"`
	Validation   float64 `yaml:"validation_split"`
	Seed         int64   `yaml:"seed"`
	Workers      int     `yaml:"workers"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Images      string
	Annotations string
	Output      string
	Journal     string
	Epochs      int
	BatchSize   int
	Workers     int
	Seed        int64
	LogEvery    int
}

// Default returns the configuration of the reference training run.
func Default() *Config {
	return &Config{
		Output:   "models/saved_model",
		LogEvery: 50,
		Model:    residual.DefaultConfig(),
		Training: learning.Default(),
		Data: Data{
			Shuffle:      true,
			Flip:         true,
			DropLast:     true,
			ClassWeights: WeightsBalanced,
			Seed:         1,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value. Paths may still be empty; call Validate after
// applying overrides.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Images != "" {
		c.Images = o.Images
	}
	if o.Annotations != "" {
		c.Annotations = o.Annotations
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.Journal != "" {
		c.Journal = o.Journal
	}
	if o.Epochs > 0 {
		c.Training.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Training.BatchSize = o.BatchSize
	}
	if o.Workers > 0 {
		c.Data.Workers = o.Workers
		c.Training.Threads = o.Workers
	}
	if o.Seed != 0 {
		c.Data.Seed = o.Seed
		c.Model.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Images == "" {
		return errors.New("image directory must be set")
	}
	if c.Annotations == "" {
		return errors.New("annotation file must be set")
	}
	if c.Output == "" {
		return errors.New("output directory must be set")
	}
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Training.Validate(); err != nil {
		return err
	}
	switch c.Data.ClassWeights {
	case WeightsBalanced, WeightsNone:
	default:
		return errors.Errorf("class_weights must be %q or %q (got %q)", WeightsBalanced, WeightsNone, c.Data.ClassWeights)
	}
	if c.Data.Validation < 0 || c.Data.Validation >= 1 {
		return errors.Errorf("validation_split must be in [0, 1) (got %v)", c.Data.Validation)
	}
	if c.Data.Workers < 0 {
		return errors.Errorf("workers must not be negative (got %d)", c.Data.Workers)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}

// GeneratorOptions returns the batch generator options for the model input.
func (c *Config) GeneratorOptions() coco.Options {
	opt := coco.DefaultOptions(c.Images)
	opt.Width, opt.Height = c.Model.Width, c.Model.Height
	opt.BatchSize = c.Training.BatchSize
	opt.Shuffle = c.Data.Shuffle
	opt.Flip = c.Data.Flip
	opt.DropLast = c.Data.DropLast
	opt.Seed = c.Data.Seed
	opt.Workers = c.Data.Workers
	return opt
}
