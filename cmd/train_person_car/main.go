package main

import "context"
import "flag"
import "math/rand"
import "os"
import "os/signal"
import "syscall"

import "github.com/pkg/errors"
import "github.com/sirupsen/logrus"
import "gopkg.in/yaml.v2"

import "github.com/edgeml/personcar/config"
import "github.com/edgeml/personcar/datasets"
import "github.com/edgeml/personcar/datasets/coco"
import "github.com/edgeml/personcar/device"
import "github.com/edgeml/personcar/journal"
import "github.com/edgeml/personcar/trainer"

func main() {
	var o config.Overrides
	flag.StringVar(&o.Images, "i", "", "directory of training images")
	flag.StringVar(&o.Annotations, "a", "", "COCO instances annotation json")
	configPath := flag.String("config", "", "training config yaml")
	flag.StringVar(&o.Output, "o", "", "SavedModel output directory (default models/saved_model)")
	flag.IntVar(&o.Epochs, "epochs", 0, "number of epochs")
	flag.IntVar(&o.BatchSize, "batch-size", 0, "batch size")
	flag.IntVar(&o.Workers, "workers", 0, "worker goroutines, 0 uses every logical core")
	flag.Int64Var(&o.Seed, "seed", 0, "seed for weights, split and shuffling")
	flag.StringVar(&o.Journal, "journal", "", "sqlite journal recording the run")
	resume := flag.Bool("resume", false, "resume training from the output SavedModel")
	pgo := flag.Bool("pgo", false, "write a cpu profile to default.pgo")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	var profilePath string
	if *pgo {
		profilePath = "default.pgo"
	}
	os.Exit(run(o, *configPath, profilePath, *resume))
}

// run returns the process exit code so deferred cleanup happens before exit.
func run(o config.Overrides, configPath, profilePath string, resume bool) int {
	if profilePath != "" {
		stop, err := profile(profilePath)
		if err != nil {
			logrus.Error(err)
			return 1
		}
		defer stop()
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			logrus.Error(err)
			return 1
		}
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		logrus.Error(err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := train(ctx, cfg, resume)
	if errors.Is(err, context.Canceled) {
		logrus.Warn("training interrupted")
		return 0
	}
	if err != nil {
		logrus.Error(err)
		return 1
	}
	return 0
}

func train(ctx context.Context, cfg *config.Config, resume bool) error {
	file, err := coco.Load(cfg.Annotations)
	if err != nil {
		return err
	}
	recs := file.Records()
	usable, stats := coco.Usable(cfg.Images, recs, cfg.Data.Workers)
	logrus.WithFields(stats.Fields()).Info("filtered training images")
	persons, cars := coco.Count(usable)
	logrus.WithFields(logrus.Fields{"images": len(usable), "persons": persons, "cars": cars}).Info("dataset")

	device.Probe()
	net, err := trainer.Resume(resume, cfg.Output, cfg.Model)
	if err != nil {
		return err
	}
	if err := net.Summary(os.Stdout); err != nil {
		return err
	}

	trainIdx, valIdx := datasets.SplitIndices(len(usable), cfg.Data.Validation, rand.New(rand.NewSource(cfg.Data.Seed)))
	opt := cfg.GeneratorOptions()
	opt.Width, opt.Height = net.Config.Width, net.Config.Height
	trainRecs := pick(usable, trainIdx)
	if cfg.Data.ClassWeights == config.WeightsBalanced {
		w := coco.BalancedWeights(trainRecs)
		opt.Weights = &w
		logrus.WithFields(logrus.Fields{
			"person_positive": w.Person.Positive,
			"person_negative": w.Person.Negative,
			"car_positive":    w.Car.Positive,
			"car_negative":    w.Car.Negative,
		}).Info("class weights")
	}
	gen, err := coco.NewGenerator(trainRecs, opt)
	if err != nil {
		return errors.Wrap(err, "training set")
	}

	topt := trainer.Options{LogEvery: cfg.LogEvery}
	if len(valIdx) > 0 {
		vopt := opt
		vopt.Shuffle, vopt.Flip, vopt.DropLast, vopt.Weights = false, false, false, nil
		val, err := coco.NewGenerator(pick(usable, valIdx), vopt)
		if err != nil {
			return errors.Wrap(err, "validation set")
		}
		topt.Validation = val
	}
	logrus.WithFields(logrus.Fields{
		"train":      gen.Samples(),
		"validation": len(valIdx),
		"batches":    gen.Len(),
	}).Info("split")

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()
	dump, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	run := &journal.Run{Images: cfg.Images, Annotations: cfg.Annotations, Output: cfg.Output, Config: string(dump)}
	if err := j.StartRun(run); err != nil {
		return err
	}
	topt.Recorder = journal.Recorder{Journal: j, Run: run}

	results, err := trainer.Run(ctx, net, gen, cfg.Training, topt)
	if err != nil && !(errors.Is(err, context.Canceled) && len(results) > 0) {
		if ferr := j.FinishRun(run, err); ferr != nil {
			logrus.WithError(ferr).Warn("journal")
		}
		return err
	}
	if serr := net.Save(cfg.Output); serr != nil {
		return serr
	}
	logrus.WithFields(logrus.Fields{"dir": cfg.Output, "epochs": len(results)}).Info("saved model")
	if ferr := j.FinishRun(run, err); ferr != nil {
		logrus.WithError(ferr).Warn("journal")
	}
	return err
}

func pick(recs []coco.Record, idx []int) []coco.Record {
	out := make([]coco.Record, len(idx))
	for i, j := range idx {
		out[i] = recs[j]
	}
	return out
}
