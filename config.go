// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// simConfig holds the simulation parameters that are not positional
// arguments. Any subset can be overridden by a YAML file.
type simConfig struct {
	PatchSize    int            `yaml:"patchSize"`
	Stride       int            `yaml:"stride"`
	MaxFracEmpty float64        `yaml:"maxFracEmpty"`
	Epochs       int            `yaml:"epochs"`
	StopAfter    int            `yaml:"stopAfter"` // 0 means read all samples
	Noises       []float64      `yaml:"noises"`
	Signal       signalParams   `yaml:"signal"`
	Training     trainingParams `yaml:"training"`
	Assoc        assocParams    `yaml:"assoc"`
}

func defaultSimConfig() *simConfig {
	return &simConfig{
		PatchSize:    40,
		Stride:       10,
		MaxFracEmpty: 0.8,
		Epochs:       10,
		Noises:       []float64{0, 0.1, 0.2},
		Signal: signalParams{
			Channel:   0,
			Shapes:    5,
			Radius:    4,
			Intensity: 2,
		},
		Training: trainingParams{
			BatchSize: 256,
			TrainFrac: 0.8,
			LR:        1e-4,
			Gamma:     0.9,
			NFilters1: 512,
			NFilters2: 1024,
		},
		Assoc: assocParams{
			Clusters:       8,
			KMeansIter:     100,
			KNN:            15,
			DiffusionSteps: 3,
			CNAPCs:         5,
			FlagQuantile:   0.9,
		},
	}
}

// loadSimConfig returns the default configuration overlaid with the
// YAML file at path (if path is not empty).
func loadSimConfig(path string) (*simConfig, error) {
	cfg := defaultSimConfig()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	err = dec.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	err = cfg.check()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// debug reduces the run to a quick smoke test.
func (cfg *simConfig) debug() {
	cfg.StopAfter = 10
	cfg.MaxFracEmpty = 0.2
	cfg.Epochs = 1
}

func (cfg *simConfig) check() error {
	switch {
	case cfg.PatchSize < 1:
		return fmt.Errorf("patchSize %d < 1", cfg.PatchSize)
	case cfg.Stride < 1:
		return fmt.Errorf("stride %d < 1", cfg.Stride)
	case cfg.MaxFracEmpty < 0 || cfg.MaxFracEmpty > 1:
		return fmt.Errorf("maxFracEmpty %g out of range [0, 1]", cfg.MaxFracEmpty)
	case cfg.Epochs < 0:
		return fmt.Errorf("epochs %d < 0", cfg.Epochs)
	case cfg.StopAfter < 0:
		return fmt.Errorf("stopAfter %d < 0", cfg.StopAfter)
	case len(cfg.Noises) == 0:
		return errors.New("noises: empty list")
	case cfg.Training.BatchSize < 1:
		return fmt.Errorf("training.batchSize %d < 1", cfg.Training.BatchSize)
	case cfg.Training.TrainFrac <= 0 || cfg.Training.TrainFrac > 1:
		return fmt.Errorf("training.trainFrac %g out of range (0, 1]", cfg.Training.TrainFrac)
	case cfg.Training.LR <= 0:
		return fmt.Errorf("training.lr %g <= 0", cfg.Training.LR)
	case cfg.Training.Gamma <= 0 || cfg.Training.Gamma > 1:
		return fmt.Errorf("training.gamma %g out of range (0, 1]", cfg.Training.Gamma)
	case cfg.Training.NFilters1 < 1:
		return fmt.Errorf("training.nfilters1 %d < 1", cfg.Training.NFilters1)
	case cfg.Training.NFilters2 < 1:
		return fmt.Errorf("training.nfilters2 %d < 1", cfg.Training.NFilters2)
	case cfg.Signal.Channel < 0:
		return fmt.Errorf("signal.channel %d < 0", cfg.Signal.Channel)
	case cfg.Signal.Shapes < 1:
		return fmt.Errorf("signal.shapes %d < 1", cfg.Signal.Shapes)
	case cfg.Signal.Radius < 1:
		return fmt.Errorf("signal.radius %d < 1", cfg.Signal.Radius)
	case cfg.Signal.Intensity < 0:
		return fmt.Errorf("signal.intensity %g < 0", cfg.Signal.Intensity)
	case cfg.Assoc.Clusters < 1:
		return fmt.Errorf("assoc.clusters %d < 1", cfg.Assoc.Clusters)
	case cfg.Assoc.KMeansIter < 1:
		return fmt.Errorf("assoc.kmeansIter %d < 1", cfg.Assoc.KMeansIter)
	case cfg.Assoc.KNN < 1:
		return fmt.Errorf("assoc.knn %d < 1", cfg.Assoc.KNN)
	case cfg.Assoc.DiffusionSteps < 0:
		return fmt.Errorf("assoc.diffusionSteps %d < 0", cfg.Assoc.DiffusionSteps)
	case cfg.Assoc.CNAPCs < 1:
		return fmt.Errorf("assoc.cnaPCs %d < 1", cfg.Assoc.CNAPCs)
	case cfg.Assoc.FlagQuantile < 0 || cfg.Assoc.FlagQuantile > 1:
		return fmt.Errorf("assoc.flagQuantile %g out of range [0, 1]", cfg.Assoc.FlagQuantile)
	}
	for _, noise := range cfg.Noises {
		if noise < 0 || noise > 1 {
			return fmt.Errorf("noise level %g out of range [0, 1]", noise)
		}
	}
	return nil
}
