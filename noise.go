// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// noisyLabels flips each 0/1 label independently with probability
// noise: (label + Bernoulli(noise)) mod 2.
func noisyLabels(labels []float64, noise float64, src rand.Source) ([]float64, error) {
	if noise < 0 || noise > 1 {
		return nil, fmt.Errorf("noise level %g out of range [0, 1]", noise)
	}
	flip := distuv.Bernoulli{P: noise, Src: src}
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = math.Mod(l+flip.Rand(), 2)
	}
	return out, nil
}
