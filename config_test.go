// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

type configSuite struct{}

var _ = check.Suite(&configSuite{})

func (s *configSuite) TestDefaults(c *check.C) {
	cfg, err := loadSimConfig("")
	c.Assert(err, check.IsNil)
	c.Check(cfg.PatchSize, check.Equals, 40)
	c.Check(cfg.Stride, check.Equals, 10)
	c.Check(cfg.MaxFracEmpty, check.Equals, 0.8)
	c.Check(cfg.Epochs, check.Equals, 10)
	c.Check(cfg.StopAfter, check.Equals, 0)
	c.Check(cfg.Noises, check.DeepEquals, []float64{0, 0.1, 0.2})
	c.Check(cfg.Training.BatchSize, check.Equals, 256)
	c.Check(cfg.check(), check.IsNil)
	cfg.debug()
	c.Check(cfg.StopAfter, check.Equals, 10)
	c.Check(cfg.MaxFracEmpty, check.Equals, 0.2)
	c.Check(cfg.Epochs, check.Equals, 1)
}

func (s *configSuite) TestOverlay(c *check.C) {
	fnm := filepath.Join(c.MkDir(), "sim.yaml")
	err := os.WriteFile(fnm, []byte(`
patchSize: 20
noises: [0, 0.5]
signal:
  intensity: 3.5
assoc:
  clusters: 4
`), 0666)
	c.Assert(err, check.IsNil)
	cfg, err := loadSimConfig(fnm)
	c.Assert(err, check.IsNil)
	c.Check(cfg.PatchSize, check.Equals, 20)
	c.Check(cfg.Stride, check.Equals, 10)
	c.Check(cfg.Noises, check.DeepEquals, []float64{0, 0.5})
	c.Check(cfg.Signal.Intensity, check.Equals, 3.5)
	c.Check(cfg.Signal.Radius, check.Equals, 4)
	c.Check(cfg.Assoc.Clusters, check.Equals, 4)
	c.Check(cfg.Assoc.KNN, check.Equals, 15)

	err = os.WriteFile(fnm, nil, 0666)
	c.Assert(err, check.IsNil)
	cfg, err = loadSimConfig(fnm)
	c.Assert(err, check.IsNil)
	c.Check(cfg.PatchSize, check.Equals, 40)
}

func (s *configSuite) TestInvalid(c *check.C) {
	dir := c.MkDir()
	for _, trial := range []struct {
		yaml string
		err  string
	}{
		{"patchSize: 0\n", `.*patchSize 0 < 1`},
		{"noises: [0, 2]\n", `.*noise level 2 out of range.*`},
		{"noises: []\n", `.*noises: empty list`},
		{"bogus: 1\n", `(?s).*field bogus not found.*`},
		{"assoc:\n  clusters: 0\n", `.*assoc.clusters 0 < 1`},
		{"training:\n  nfilters1: 0\n", `.*training.nfilters1 0 < 1`},
		{"training:\n  nfilters2: -3\n", `.*training.nfilters2 -3 < 1`},
		{"training:\n  lr: 0\n", `.*training.lr 0 <= 0`},
		{"training:\n  gamma: 1.5\n", `.*training.gamma 1.5 out of range.*`},
		{"signal:\n  shapes: 0\n", `.*signal.shapes 0 < 1`},
		{"signal:\n  radius: 0\n", `.*signal.radius 0 < 1`},
		{"signal:\n  channel: -1\n", `.*signal.channel -1 < 0`},
		{"assoc:\n  knn: 0\n", `.*assoc.knn 0 < 1`},
		{"assoc:\n  diffusionSteps: -1\n", `.*assoc.diffusionSteps -1 < 0`},
		{"assoc:\n  cnaPCs: 0\n", `.*assoc.cnaPCs 0 < 1`},
	} {
		fnm := filepath.Join(dir, "bad.yaml")
		c.Assert(os.WriteFile(fnm, []byte(trial.yaml), 0666), check.IsNil)
		_, err := loadSimConfig(fnm)
		c.Check(err, check.ErrorMatches, trial.err, check.Commentf("%q", trial.yaml))
	}
	_, err := loadSimConfig(filepath.Join(dir, "nonexistent.yaml"))
	c.Check(err, check.NotNil)
}
