// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

type sampleMeta struct {
	ID   string
	Case bool
}

// regionMask[y*width+x] is true where signal was added.
type regionMask []bool

type signalParams struct {
	Channel   int     `yaml:"channel"`
	Shapes    int     `yaml:"shapes"`
	Radius    int     `yaml:"radius"`
	Intensity float64 `yaml:"intensity"` // in units of the channel's standard deviation
}

type signalAdder func(samples []*sample, rnd *rand.Rand, params signalParams) ([]sampleMeta, []regionMask, error)

var signalAdders = map[string]signalAdder{
	"agg_v_diffuse":     addAggregatesVDiffuse,
	"linear_v_circular": addLinearVCircular,
}

// Cases get dense discs, controls get the same number of pixels
// scattered individually over the tissue.
func addAggregatesVDiffuse(samples []*sample, rnd *rand.Rand, params signalParams) ([]sampleMeta, []regionMask, error) {
	return addSignal(samples, rnd, params, func(s *sample, tissue []int, isCase bool) regionMask {
		discs := drawShapes(s, tissue, rnd, params.Shapes, func(m regionMask, y, x int) {
			drawDisc(m, s.Height, s.Width, y, x, params.Radius)
		})
		if isCase {
			return discs
		}
		return scatter(s, tissue, rnd, countTrue(discs))
	})
}

// Cases get thin line segments, controls get discs of the same area.
func addLinearVCircular(samples []*sample, rnd *rand.Rand, params signalParams) ([]sampleMeta, []regionMask, error) {
	length := int(math.Round(math.Pi * float64(params.Radius*params.Radius)))
	return addSignal(samples, rnd, params, func(s *sample, tissue []int, isCase bool) regionMask {
		if isCase {
			return drawShapes(s, tissue, rnd, params.Shapes, func(m regionMask, y, x int) {
				drawLine(m, s.Height, s.Width, y, x, length, rnd.Float64()*math.Pi)
			})
		}
		return drawShapes(s, tissue, rnd, params.Shapes, func(m regionMask, y, x int) {
			drawDisc(m, s.Height, s.Width, y, x, params.Radius)
		})
	})
}

func addSignal(samples []*sample, rnd *rand.Rand, params signalParams, shape func(s *sample, tissue []int, isCase bool) regionMask) ([]sampleMeta, []regionMask, error) {
	if len(samples) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 samples to make cases and controls, have %d", len(samples))
	}
	meta := make([]sampleMeta, len(samples))
	for i, idx := range rnd.Perm(len(samples)) {
		meta[idx] = sampleMeta{ID: samples[idx].ID, Case: i%2 == 0}
	}
	masks := make([]regionMask, len(samples))
	for i, s := range samples {
		if params.Channel < 0 || params.Channel >= s.Channels {
			return nil, nil, fmt.Errorf("%s: signal channel %d out of range (sample has %d channels)", s.ID, params.Channel, s.Channels)
		}
		tissue := tissuePixels(s)
		masks[i] = shape(s, tissue, meta[i].Case)
		delta := params.Intensity * channelStdDev(s, tissue, params.Channel)
		added := 0
		for px, in := range masks[i] {
			if !in {
				continue
			}
			if s.empty(px/s.Width, px%s.Width) {
				// empty pixels stay empty, so patch
				// selection is unaffected
				masks[i][px] = false
				continue
			}
			s.Pixels[px*s.Channels+params.Channel] += delta
			added++
		}
		log.WithFields(log.Fields{
			"sample": s.ID,
			"case":   meta[i].Case,
			"pixels": added,
		}).Debug("added signal")
	}
	return meta, masks, nil
}

// tissuePixels returns the indices of non-empty pixels, or all
// pixels if the sample is entirely empty.
func tissuePixels(s *sample) []int {
	var tissue []int
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if !s.empty(y, x) {
				tissue = append(tissue, y*s.Width+x)
			}
		}
	}
	if len(tissue) == 0 {
		tissue = make([]int, s.Height*s.Width)
		for i := range tissue {
			tissue[i] = i
		}
	}
	return tissue
}

func channelStdDev(s *sample, tissue []int, channel int) float64 {
	vals := make([]float64, len(tissue))
	for i, px := range tissue {
		vals[i] = s.Pixels[px*s.Channels+channel]
	}
	std := stat.StdDev(vals, nil)
	if std == 0 || math.IsNaN(std) {
		return 1
	}
	return std
}

func drawShapes(s *sample, tissue []int, rnd *rand.Rand, n int, draw func(m regionMask, y, x int)) regionMask {
	m := make(regionMask, s.Height*s.Width)
	for i := 0; i < n; i++ {
		px := tissue[rnd.Intn(len(tissue))]
		draw(m, px/s.Width, px%s.Width)
	}
	return m
}

func drawDisc(m regionMask, height, width, cy, cx, radius int) {
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if y < 0 || x < 0 || y >= height || x >= width {
				continue
			}
			if (y-cy)*(y-cy)+(x-cx)*(x-cx) <= radius*radius {
				m[y*width+x] = true
			}
		}
	}
}

// drawLine draws a 1-pixel-wide segment of the given length centered
// on (cy, cx).
func drawLine(m regionMask, height, width, cy, cx, length int, angle float64) {
	dy, dx := math.Sin(angle), math.Cos(angle)
	for t := -length / 2; t < length-length/2; t++ {
		y := cy + int(math.Round(float64(t)*dy))
		x := cx + int(math.Round(float64(t)*dx))
		if y < 0 || x < 0 || y >= height || x >= width {
			continue
		}
		m[y*width+x] = true
	}
}

func scatter(s *sample, tissue []int, rnd *rand.Rand, n int) regionMask {
	m := make(regionMask, s.Height*s.Width)
	if n > len(tissue) {
		n = len(tissue)
	}
	picked := append([]int(nil), tissue...)
	rnd.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	picked = picked[:n]
	sort.Ints(picked)
	for _, px := range picked {
		m[px] = true
	}
	return m
}

func countTrue(m regionMask) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// annotatePatches sets FracRegion and InRegion on each patch from the
// region mask of its sample.
func annotatePatches(patches []patchMeta, masks []regionMask, samples []*sample, patchSize int) {
	for i := range patches {
		p := &patches[i]
		s := samples[p.Sample]
		m := masks[p.Sample]
		in := 0
		for y := p.Y; y < p.Y+patchSize; y++ {
			for x := p.X; x < p.X+patchSize; x++ {
				if m[y*s.Width+x] {
					in++
				}
			}
		}
		p.FracRegion = float64(in) / float64(patchSize*patchSize)
		p.InRegion = in > 0
	}
}
