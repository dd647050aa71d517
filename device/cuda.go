//go:build cuda

package device

import "gorgonia.org/cu"
import "github.com/sirupsen/logrus"

func gpus() (out []GPU) {
	n, err := cu.NumDevices()
	if err != nil {
		logrus.WithError(err).Warn("cuda")
		return nil
	}
	for d := 0; d < n; d++ {
		dev := cu.Device(d)
		name, _ := dev.Name()
		mem, _ := dev.TotalMem()
		maj, _ := dev.Attribute(cu.ComputeCapabilityMajor)
		min, _ := dev.Attribute(cu.ComputeCapabilityMinor)
		out = append(out, GPU{Index: d, Name: name, Memory: mem, Major: maj, Minor: min})
	}
	return out
}
