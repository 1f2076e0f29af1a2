// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type samplesSuite struct{}

var _ = check.Suite(&samplesSuite{})

func (s *samplesSuite) TestRoundTrip(c *check.C) {
	dir := c.MkDir()
	rnd := rand.New(rand.NewSource(1))
	var written []*sample
	for i, fnm := range []string{"b.npy", "a.npy.gz", "c.npy"} {
		smp := syntheticSample("x", 12, 10, 3, rnd)
		smp.Pixels[0] = float64(i)
		err := writeSample(filepath.Join(dir, fnm), smp)
		c.Assert(err, check.IsNil)
		written = append(written, smp)
	}
	samples, err := readSamples(dir, "*.npy*", 0)
	c.Assert(err, check.IsNil)
	c.Assert(samples, check.HasLen, 3)
	c.Check(samples[0].ID, check.Equals, "a")
	c.Check(samples[1].ID, check.Equals, "b")
	c.Check(samples[2].ID, check.Equals, "c")
	for _, smp := range samples {
		c.Check(smp.Height, check.Equals, 12)
		c.Check(smp.Width, check.Equals, 10)
		c.Check(smp.Channels, check.Equals, 3)
	}
	c.Check(samples[0].Pixels, check.DeepEquals, written[1].Pixels)
	c.Check(samples[1].Pixels, check.DeepEquals, written[0].Pixels)

	samples, err = readSamples(dir, "*.npy*", 2)
	c.Assert(err, check.IsNil)
	c.Check(samples, check.HasLen, 2)

	_, err = readSamples(dir, "*.nc", 0)
	c.Check(err, check.ErrorMatches, `no input files found.*`)
}

func (s *samplesSuite) TestChannelMismatch(c *check.C) {
	dir := c.MkDir()
	rnd := rand.New(rand.NewSource(1))
	c.Assert(writeSample(filepath.Join(dir, "a.npy"), syntheticSample("a", 5, 5, 2, rnd)), check.IsNil)
	c.Assert(writeSample(filepath.Join(dir, "b.npy"), syntheticSample("b", 5, 5, 3, rnd)), check.IsNil)
	_, err := readSamples(dir, "*.npy", 0)
	c.Check(err, check.ErrorMatches, `.*b.npy: 3 channels, but a has 2`)
}

func (s *samplesSuite) TestSyntheticSample(c *check.C) {
	smp := syntheticSample("t", 100, 80, 2, rand.New(rand.NewSource(2)))
	tissue := len(tissuePixels(smp))
	c.Check(tissue > 100*80/5, check.Equals, true)
	c.Check(tissue < 100*80, check.Equals, true)
	c.Check(smp.empty(0, 0), check.Equals, true)
	c.Check(smp.empty(50, 40), check.Equals, false)
}

func (s *samplesSuite) TestMakeSamples(c *check.C) {
	dir := filepath.Join(c.MkDir(), "data")
	code := (&makeSamples{}).RunCommand("tpaesim make-samples", []string{"-o", dir, "-n", "3", "-size", "30", "-channels", "4", "-gzip"}, bytes.NewReader(nil), io.Discard, os.Stderr)
	c.Assert(code, check.Equals, 0)
	samples, err := readSamples(dir, "*.npy.gz", 0)
	c.Assert(err, check.IsNil)
	c.Assert(samples, check.HasLen, 3)
	c.Check(samples[2].ID, check.Equals, "sample002")
	c.Check(samples[2].Channels, check.Equals, 4)

	code = (&makeSamples{}).RunCommand("tpaesim make-samples", []string{"-n", "0"}, bytes.NewReader(nil), io.Discard, io.Discard)
	c.Check(code, check.Equals, 2)
	code = (&makeSamples{}).RunCommand("tpaesim make-samples", []string{"-o", dir, "extra"}, bytes.NewReader(nil), io.Discard, io.Discard)
	c.Check(code, check.Equals, 2)
}

func (s *samplesSuite) TestSampleID(c *check.C) {
	c.Check(sampleIDFromFilename("/data/x/s01.npy.gz"), check.Equals, "s01")
	c.Check(sampleIDFromFilename("s01.npy"), check.Equals, "s01")
	c.Check(sampleIDFromFilename("s01.raw"), check.Equals, "s01.raw")
}
