// Package coco reads COCO instance annotations and serves person/car batches from them
package coco

import "io"
import "os"

import "github.com/goccy/go-json"
import "github.com/pkg/errors"

// COCO category ids of the two detected classes.
const (
	CategoryPerson = 1
	CategoryCar    = 3
)

// File is the subset of a COCO instances document the loader uses.
type File struct {
	Images      []Image      `json:"images"`
	Annotations []Annotation `json:"annotations"`
	Categories  []Category   `json:"categories,omitempty"`
}

type Image struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type Annotation struct {
	ID         int64 `json:"id"`
	ImageID    int64 `json:"image_id"`
	CategoryID int   `json:"category_id"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Record is one image with its presence flags.
type Record struct {
	ID        int64
	FileName  string
	HasPerson bool
	HasCar    bool
}

// Load reads the annotation document at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open annotations")
	}
	defer f.Close()
	doc, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "annotations %s", path)
	}
	return doc, nil
}

// Decode parses an annotation document from r.
func Decode(r io.Reader) (*File, error) {
	var doc File
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "malformed json")
	}
	return &doc, nil
}

// Records collapses the annotations into one record per image, in the order
// of the images array. Images without annotations have both flags unset.
// Annotations of unknown images are ignored.
func (f *File) Records() []Record {
	index := make(map[int64]int, len(f.Images))
	recs := make([]Record, len(f.Images))
	for i, img := range f.Images {
		index[img.ID] = i
		recs[i] = Record{ID: img.ID, FileName: img.FileName}
	}
	for _, a := range f.Annotations {
		i, ok := index[a.ImageID]
		if !ok {
			continue
		}
		switch a.CategoryID {
		case CategoryPerson:
			recs[i].HasPerson = true
		case CategoryCar:
			recs[i].HasCar = true
		}
	}
	return recs
}

// Count returns how many records contain a person and a car.
func Count(recs []Record) (persons, cars int) {
	for _, r := range recs {
		if r.HasPerson {
			persons++
		}
		if r.HasCar {
			cars++
		}
	}
	return
}
