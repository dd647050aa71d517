// Package device reports the hardware the trainer runs on.
package device

import "github.com/klauspost/cpuid/v2"
import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/parallel"

// GPU describes one accelerator visible to the process.
type GPU struct {
	Index  int
	Name   string
	Memory int64
	Major  int
	Minor  int
}

// Info is what Probe found.
type Info struct {
	CPU     string
	Cores   int
	Threads int
	Workers int
	L1D     int
	L2      int
	AVX2    bool
	AVX512  bool
	GPUs    []GPU
}

// Fields returns i as log fields.
func (i Info) Fields() logrus.Fields {
	return logrus.Fields{
		"cpu":     i.CPU,
		"cores":   i.Cores,
		"threads": i.Threads,
		"workers": i.Workers,
		"l1d":     i.L1D,
		"l2":      i.L2,
		"avx2":    i.AVX2,
		"avx512":  i.AVX512,
		"gpus":    len(i.GPUs),
	}
}

// Probe inspects the CPU and any accelerators and logs what it found.
// Training always runs on the CPU; accelerators are only reported.
func Probe() Info {
	info := Info{
		CPU:     cpuid.CPU.BrandName,
		Cores:   cpuid.CPU.PhysicalCores,
		Threads: cpuid.CPU.LogicalCores,
		Workers: parallel.Workers(),
		L1D:     cpuid.CPU.Cache.L1D,
		L2:      cpuid.CPU.Cache.L2,
		AVX2:    cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:  cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		GPUs:    gpus(),
	}
	logrus.WithFields(info.Fields()).Info("device")
	for _, g := range info.GPUs {
		logrus.WithFields(logrus.Fields{
			"index":   g.Index,
			"name":    g.Name,
			"memory":  g.Memory,
			"compute": g.Major*10 + g.Minor,
		}).Info("gpu visible, not used for training")
	}
	return info
}
