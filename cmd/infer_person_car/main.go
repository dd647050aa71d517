package main

import "flag"
import "fmt"
import "os"

import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/imageio"
import "github.com/edgeml/personcar/inference"

func main() {
	modelPath := flag.String("m", "converted_model.qmodel", "quantized model file")
	threshold := flag.Float64("threshold", 0.5, "score above which an object is reported present")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: infer_person_car -m model.qmodel image...")
		os.Exit(2)
	}

	m, err := inference.ReadFile(*modelPath)
	if err != nil {
		logrus.Fatal(err)
	}
	it, err := inference.NewInterpreter(m)
	if err != nil {
		logrus.Fatal(err)
	}

	failed := false
	for _, path := range flag.Args() {
		img, err := imageio.Open(path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Error("skipping image")
			failed = true
			continue
		}
		p, err := it.Classify(img)
		if err != nil {
			logrus.Fatal(err)
		}
		fmt.Printf("%s\tperson=%.3f (%v)\tcar=%.3f (%v)\n", path,
			p.Person.Score, float64(p.Person.Score) > *threshold,
			p.Car.Score, float64(p.Car.Score) > *threshold)
	}
	if failed {
		os.Exit(1)
	}
}
