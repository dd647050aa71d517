package main

import "encoding/hex"
import "flag"
import "strconv"

import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/inference"
import "github.com/edgeml/personcar/journal"
import "github.com/edgeml/personcar/net/residual"
import "github.com/edgeml/personcar/quantize"

func main() {
	src := flag.String("i", "models/saved_model", "SavedModel directory")
	dataset := flag.String("d", "", "directory of representative images")
	dst := flag.String("o", "converted_model.qmodel", "quantized model destination")
	maxSamples := flag.Int("max-samples", 0, "calibrate on at most this many images, 0 uses all")
	workers := flag.Int("workers", 0, "worker goroutines, 0 uses every logical core")
	journalPath := flag.String("journal", "", "sqlite journal recording the conversion")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *dataset == "" {
		logrus.Fatal("representative dataset directory (-d) must be set")
	}

	net, err := residual.Load(*src)
	if err != nil {
		logrus.Fatal(err)
	}
	ds := quantize.DirectoryDataset(*dataset, net.Config.Width, net.Config.Height, *maxSamples)
	m, err := quantize.Convert(net, ds, quantize.Options{MaxSamples: *maxSamples, Workers: *workers})
	if err != nil {
		logrus.Fatal(err)
	}
	if ds.Skipped > 0 {
		logrus.WithField("skipped", ds.Skipped).Warn("representative files skipped")
	}
	if err := inference.WriteFile(*dst, m); err != nil {
		logrus.Fatal(err)
	}
	digest := inference.Digest(m)
	logrus.WithFields(logrus.Fields{
		"path":    *dst,
		"tensors": len(m.Tensors),
		"ops":     len(m.Ops),
		"digest":  hex.EncodeToString(digest[:]),
	}).Info("converted model written")

	j, err := journal.Open(*journalPath)
	if err != nil {
		logrus.Fatal(err)
	}
	defer j.Close()
	err = j.RecordConversion(&journal.Conversion{
		Source:  *src,
		Output:  *dst,
		Samples: samples(m),
		Tensors: len(m.Tensors),
		Ops:     len(m.Ops),
		Digest:  hex.EncodeToString(digest[:]),
	})
	if err != nil {
		logrus.WithError(err).Warn("journal")
	}
}

func samples(m *inference.Model) int {
	n, _ := strconv.Atoi(m.Metadata["calibration_samples"])
	return n
}
