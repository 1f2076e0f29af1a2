// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type noiseSuite struct{}

var _ = check.Suite(&noiseSuite{})

func (s *noiseSuite) TestNoiseLevels(c *check.C) {
	labels := []float64{1, 0, 1, 1, 0, 0, 1, 0}
	src := rand.NewSource(11)

	same, err := noisyLabels(labels, 0, src)
	c.Assert(err, check.IsNil)
	c.Check(same, check.DeepEquals, labels)

	flipped, err := noisyLabels(labels, 1, src)
	c.Assert(err, check.IsNil)
	for i, l := range labels {
		c.Check(flipped[i], check.Equals, 1-l)
	}

	_, err = noisyLabels(labels, 1.5, src)
	c.Check(err, check.ErrorMatches, `noise level 1.5 out of range.*`)
	_, err = noisyLabels(labels, -0.1, src)
	c.Check(err, check.NotNil)
}

func (s *noiseSuite) TestNoiseRate(c *check.C) {
	labels := make([]float64, 10000)
	for i := range labels {
		labels[i] = float64(i % 2)
	}
	noisy, err := noisyLabels(labels, 0.2, rand.NewSource(1))
	c.Assert(err, check.IsNil)
	flips := 0
	for i, l := range noisy {
		c.Check(l == 0 || l == 1, check.Equals, true)
		if l != labels[i] {
			flips++
		}
	}
	c.Check(flips > 1800 && flips < 2200, check.Equals, true, check.Commentf("flips %d", flips))
	again, err := noisyLabels(labels, 0.2, rand.NewSource(1))
	c.Assert(err, check.IsNil)
	c.Check(again, check.DeepEquals, noisy)
}
