package trainer

import "os"
import "path/filepath"

import "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/net/residual"

// Resume loads the saved model in dir when resume is set and the directory
// holds one, and builds a fresh network from cfg otherwise.
func Resume(resume bool, dir string, cfg residual.Config) (*residual.Network, error) {
	if resume && dir != "" {
		_, err := os.Stat(filepath.Join(dir, residual.ManifestFile))
		if err == nil {
			net, err := residual.Load(dir)
			if err != nil {
				return nil, err
			}
			logrus.WithField("dir", dir).Info("resuming from saved model")
			return net, nil
		}
		logrus.WithField("dir", dir).Warn("no saved model to resume from")
	}
	return residual.New(cfg)
}
