package learning

import "github.com/pkg/errors"

// HyperParameters configure the optimizer and the training loop.
type HyperParameters struct {
	LearningRate float32 `yaml:"learning_rate"`
	Beta1        float32 `yaml:"beta1"`
	Beta2        float32 `yaml:"beta2"`
	Epsilon      float32 `yaml:"epsilon"`

	Epochs    int `yaml:"epochs"`
	BatchSize int `yaml:"batch_size"`

	Threads int `yaml:"threads"` // samples processed concurrently, 0 means all cores
}

// Default returns the Adam defaults with 5 epochs of 32 image batches.
func Default() HyperParameters {
	return HyperParameters{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		Epochs:       5,
		BatchSize:    32,
	}
}

// Validate reports the first out of range value.
func (h HyperParameters) Validate() error {
	switch {
	case h.LearningRate <= 0:
		return errors.Errorf("learning rate %v must be positive", h.LearningRate)
	case h.Beta1 < 0 || h.Beta1 >= 1:
		return errors.Errorf("beta1 %v must be in [0, 1)", h.Beta1)
	case h.Beta2 < 0 || h.Beta2 >= 1:
		return errors.Errorf("beta2 %v must be in [0, 1)", h.Beta2)
	case h.Epsilon <= 0:
		return errors.Errorf("epsilon %v must be positive", h.Epsilon)
	case h.Epochs <= 0:
		return errors.Errorf("epochs %d must be positive", h.Epochs)
	case h.BatchSize <= 0:
		return errors.Errorf("batch size %d must be positive", h.BatchSize)
	case h.Threads < 0:
		return errors.Errorf("threads %d must not be negative", h.Threads)
	}
	return nil
}

// NewAdam returns an optimizer with these hyper parameters.
func (h HyperParameters) NewAdam() *Adam {
	return &Adam{
		LearningRate: h.LearningRate,
		Beta1:        h.Beta1,
		Beta2:        h.Beta2,
		Epsilon:      h.Epsilon,
	}
}
