// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package autoencoder

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// param is a trainable parameter and its accumulated gradient.
type param struct {
	w *mat.Dense
	g *mat.Dense
}

type layer interface {
	// forward maps a (batch x in) matrix to (batch x out). The
	// layer keeps whatever it needs for the following backward
	// call.
	forward(x *mat.Dense) *mat.Dense
	// backward accumulates parameter gradients and returns the
	// gradient with respect to the last forward input.
	backward(dy *mat.Dense) *mat.Dense
	params() []*param
}

type dense struct {
	weight param // out x in
	bias   param // 1 x out
	x      *mat.Dense
}

func newDense(in, out int, rnd *rand.Rand) *dense {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rnd.Float64()*2 - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (rnd.Float64()*2 - 1) * bound
	}
	return &dense{
		weight: param{w: mat.NewDense(out, in, w), g: mat.NewDense(out, in, nil)},
		bias:   param{w: mat.NewDense(1, out, b), g: mat.NewDense(1, out, nil)},
	}
}

func (d *dense) forward(x *mat.Dense) *mat.Dense {
	d.x = x
	rows, _ := x.Dims()
	_, out := d.bias.w.Dims()
	y := mat.NewDense(rows, out, nil)
	y.Mul(x, d.weight.w.T())
	b := d.bias.w.RawRowView(0)
	for r := 0; r < rows; r++ {
		row := y.RawRowView(r)
		for j := range row {
			row[j] += b[j]
		}
	}
	return y
}

func (d *dense) backward(dy *mat.Dense) *mat.Dense {
	var dw mat.Dense
	dw.Mul(dy.T(), d.x)
	d.weight.g.Add(d.weight.g, &dw)
	rows, _ := dy.Dims()
	gb := d.bias.g.RawRowView(0)
	for r := 0; r < rows; r++ {
		for j, v := range dy.RawRowView(r) {
			gb[j] += v
		}
	}
	_, in := d.x.Dims()
	dx := mat.NewDense(rows, in, nil)
	dx.Mul(dy, d.weight.w)
	return dx
}

func (d *dense) params() []*param { return []*param{&d.weight, &d.bias} }

const leak = 0.01

type leakyReLU struct {
	x *mat.Dense
}

func (a *leakyReLU) forward(x *mat.Dense) *mat.Dense {
	a.x = x
	y := mat.DenseCopyOf(x)
	applyLeak(y, x)
	return y
}

func (a *leakyReLU) backward(dy *mat.Dense) *mat.Dense {
	dx := mat.DenseCopyOf(dy)
	applyLeak(dx, a.x)
	return dx
}

func (a *leakyReLU) params() []*param { return nil }

// applyLeak scales y[i,j] by leak wherever ref[i,j] is negative.
func applyLeak(y, ref *mat.Dense) {
	rows, _ := y.Dims()
	for r := 0; r < rows; r++ {
		yrow, refrow := y.RawRowView(r), ref.RawRowView(r)
		for j, v := range refrow {
			if v < 0 {
				yrow[j] *= leak
			}
		}
	}
}

// residual computes relu(x + f(x)) where f is dense-relu-dense with
// the same width in and out.
type residual struct {
	inner []layer
	out   leakyReLU
}

func newResidual(width int, rnd *rand.Rand) *residual {
	return &residual{inner: []layer{
		newDense(width, width, rnd),
		&leakyReLU{},
		newDense(width, width, rnd),
	}}
}

func (r *residual) forward(x *mat.Dense) *mat.Dense {
	h := x
	for _, l := range r.inner {
		h = l.forward(h)
	}
	var sum mat.Dense
	sum.Add(x, h)
	return r.out.forward(&sum)
}

func (r *residual) backward(dy *mat.Dense) *mat.Dense {
	d := r.out.backward(dy)
	dh := d
	for i := len(r.inner) - 1; i >= 0; i-- {
		dh = r.inner[i].backward(dh)
	}
	dx := mat.NewDense(d.RawMatrix().Rows, d.RawMatrix().Cols, nil)
	dx.Add(d, dh)
	return dx
}

func (r *residual) params() []*param {
	var ps []*param
	for _, l := range r.inner {
		ps = append(ps, l.params()...)
	}
	return ps
}

type sequential []layer

func (s sequential) forward(x *mat.Dense) *mat.Dense {
	for _, l := range s {
		x = l.forward(x)
	}
	return x
}

func (s sequential) backward(dy *mat.Dense) *mat.Dense {
	for i := len(s) - 1; i >= 0; i-- {
		dy = s[i].backward(dy)
	}
	return dy
}

func (s sequential) params() []*param {
	var ps []*param
	for _, l := range s {
		ps = append(ps, l.params()...)
	}
	return ps
}
