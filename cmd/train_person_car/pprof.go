package main

import "os"
import "runtime/pprof"

import "github.com/sirupsen/logrus"

// profile collects CPU profile data into path until the returned function
// is called.
func profile(path string) (stop func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
		logrus.WithField("path", path).Info("cpu profile written")
	}, nil
}
