package coco

import "os"
import "path/filepath"

import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/imageio"
import "github.com/edgeml/personcar/parallel"

// FilterStats counts why records were dropped by Usable.
type FilterStats struct {
	Total      int
	Missing    int
	NotRGB     int
	Unreadable int
	Kept       int
}

// Fields formats the statistics for structured logging.
func (s FilterStats) Fields() logrus.Fields {
	return logrus.Fields{
		"total":      s.Total,
		"missing":    s.Missing,
		"not_rgb":    s.NotRGB,
		"unreadable": s.Unreadable,
		"kept":       s.Kept,
	}
}

const (
	usable = iota
	missing
	notRGB
	unreadable
)

// Usable keeps the records whose image exists under dir and decodes to a
// three channel colour image. The order of recs is preserved. Headers are
// checked by up to workers goroutines.
func Usable(dir string, recs []Record, workers int) ([]Record, FilterStats) {
	verdict := make([]byte, len(recs))
	parallel.ForEach(len(recs), workers, func(i int) {
		ok, err := imageio.IsRGB(filepath.Join(dir, recs[i].FileName))
		switch {
		case os.IsNotExist(err):
			verdict[i] = missing
		case err != nil:
			logrus.WithError(err).Debug("unreadable image")
			verdict[i] = unreadable
		case !ok:
			verdict[i] = notRGB
		}
	})

	stats := FilterStats{Total: len(recs)}
	kept := make([]Record, 0, len(recs))
	for i, v := range verdict {
		switch v {
		case usable:
			kept = append(kept, recs[i])
		case missing:
			stats.Missing++
		case notRGB:
			stats.NotRGB++
		case unreadable:
			stats.Unreadable++
		}
	}
	stats.Kept = len(kept)
	return kept, stats
}
