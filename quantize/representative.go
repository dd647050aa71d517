// Package quantize converts a trained network into an int8 model using a
// representative dataset to calibrate activation ranges.
package quantize

import "io/ioutil"
import "path/filepath"

import "github.com/pkg/errors"
import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/imageio"
import "github.com/edgeml/personcar/tensor"

// Dataset yields 1×H×W×3 float samples scaled to [0, 1].
type Dataset interface {
	Each(f func(*tensor.Tensor) error) error
}

// Directory reads the images of a directory in name order.
type Directory struct {
	Dir    string
	Width  int
	Height int
	// Max stops after this many samples, 0 reads them all.
	Max int

	// Skipped counts the files of the last pass that were not RGB images.
	Skipped int
}

// DirectoryDataset returns a representative dataset reading dir.
func DirectoryDataset(dir string, width, height, max int) *Directory {
	return &Directory{Dir: dir, Width: width, Height: height, Max: max}
}

// Each decodes, resizes and scales every usable image. Files that are not
// images or not three channel colour images are skipped with a warning.
func (d *Directory) Each(f func(*tensor.Tensor) error) error {
	entries, err := ioutil.ReadDir(d.Dir)
	if err != nil {
		return errors.Wrap(err, "representative dataset")
	}
	d.Skipped = 0
	served := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if d.Max > 0 && served >= d.Max {
			break
		}
		path := filepath.Join(d.Dir, e.Name())
		img, err := imageio.Open(path)
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("skipping representative file")
			d.Skipped++
			continue
		}
		if !imageio.IsRGBModel(img.ColorModel()) {
			logrus.WithField("file", path).Warn("skipping image that is not RGB")
			d.Skipped++
			continue
		}
		t := tensor.New(1, d.Height, d.Width, 3)
		imageio.WriteFloat(t.Data, imageio.Resize(img, d.Width, d.Height))
		if err := f(t); err != nil {
			return err
		}
		served++
	}
	return nil
}

// Slice serves in-memory samples.
type Slice []*tensor.Tensor

// SliceDataset wraps samples as a Dataset.
func SliceDataset(samples ...*tensor.Tensor) Slice {
	return Slice(samples)
}

func (s Slice) Each(f func(*tensor.Tensor) error) error {
	for _, t := range s {
		if err := f(t); err != nil {
			return err
		}
	}
	return nil
}
