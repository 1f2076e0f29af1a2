// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package autoencoder

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	params []*param
	m, v   []*mat.Dense
	t      int
}

// NewAdamW returns an optimizer for m's parameters with the usual
// defaults (betas 0.9/0.999, eps 1e-8, weight decay 0.01).
func NewAdamW(m *Model, lr float64) *AdamW {
	opt := &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: 0.01,
		params:      m.params(),
	}
	for _, p := range opt.params {
		r, c := p.w.Dims()
		opt.m = append(opt.m, mat.NewDense(r, c, nil))
		opt.v = append(opt.v, mat.NewDense(r, c, nil))
	}
	return opt
}

func (opt *AdamW) zeroGrad() {
	for _, p := range opt.params {
		p.g.Zero()
	}
}

func (opt *AdamW) step() {
	opt.t++
	bc1 := 1 - math.Pow(opt.Beta1, float64(opt.t))
	bc2 := 1 - math.Pow(opt.Beta2, float64(opt.t))
	for i, p := range opt.params {
		w, g := p.w.RawMatrix(), p.g.RawMatrix()
		m, v := opt.m[i].RawMatrix(), opt.v[i].RawMatrix()
		for k := range w.Data {
			w.Data[k] -= opt.LR * opt.WeightDecay * w.Data[k]
			m.Data[k] = opt.Beta1*m.Data[k] + (1-opt.Beta1)*g.Data[k]
			v.Data[k] = opt.Beta2*v.Data[k] + (1-opt.Beta2)*g.Data[k]*g.Data[k]
			w.Data[k] -= opt.LR * (m.Data[k] / bc1) / (math.Sqrt(v.Data[k]/bc2) + opt.Eps)
		}
	}
}

// ExponentialLR multiplies the optimizer's learning rate by Gamma
// once per epoch.
type ExponentialLR struct {
	Opt   *AdamW
	Gamma float64
}

func (s *ExponentialLR) Step() {
	s.Opt.LR *= s.Gamma
}
