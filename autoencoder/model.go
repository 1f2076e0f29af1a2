// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package autoencoder implements small variational autoencoders for
// image patches, trained on the CPU with gonum.
//
// Models see each patch as a flat vector of size*size*channels
// values. The encoder maps it to a penultimate embedding, then to the
// mean and log-variance of a Gaussian latent; the decoder maps a
// latent sample back to pixel space.
package autoencoder

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const (
	ArchSimple      = "simple"
	ArchResnetLight = "resnet-light"

	// PenultimateGroups is the number of groups the resnet
	// penultimate embedding is organized into.
	PenultimateGroups = 64
)

type Config struct {
	Arch      string
	NColors   int
	PatchSize int
	NFilters1 int
	NFilters2 int
	Latent    int
	Seed      uint64
}

func (cfg Config) inputDim() int {
	return cfg.PatchSize * cfg.PatchSize * cfg.NColors
}

type Model struct {
	Config Config

	encoder sequential
	mu      *dense
	logvar  *dense
	decoder sequential
}

// NewSimple returns a model with a two-layer encoder whose widths
// are nfilters1 and nfilters2.
func NewSimple(ncolors, patchSize, nfilters1, nfilters2 int) *Model {
	return build(Config{
		Arch:      ArchSimple,
		NColors:   ncolors,
		PatchSize: patchSize,
		NFilters1: nfilters1,
		NFilters2: nfilters2,
		Latent:    32,
	})
}

// NewResnet returns a model with a residual encoder. Only the "light"
// network is available.
func NewResnet(network string, ncolors, patchSize int) (*Model, error) {
	if network != "light" {
		return nil, fmt.Errorf("unknown resnet network %q (available: light)", network)
	}
	return build(Config{
		Arch:      ArchResnetLight,
		NColors:   ncolors,
		PatchSize: patchSize,
		NFilters1: PenultimateGroups * 4,
		Latent:    32,
	}), nil
}

// WithSeed rebuilds the model with freshly initialized parameters
// drawn from the given seed.
func (m *Model) WithSeed(seed uint64) *Model {
	cfg := m.Config
	cfg.Seed = seed
	return build(cfg)
}

func build(cfg Config) *Model {
	rnd := rand.New(rand.NewSource(cfg.Seed))
	in := cfg.inputDim()
	m := &Model{Config: cfg}
	var width int
	switch cfg.Arch {
	case ArchSimple:
		m.encoder = sequential{
			newDense(in, cfg.NFilters1, rnd), &leakyReLU{},
			newDense(cfg.NFilters1, cfg.NFilters2, rnd), &leakyReLU{},
		}
		width = cfg.NFilters2
		m.decoder = sequential{
			newDense(cfg.Latent, cfg.NFilters2, rnd), &leakyReLU{},
			newDense(cfg.NFilters2, cfg.NFilters1, rnd), &leakyReLU{},
			newDense(cfg.NFilters1, in, rnd),
		}
	case ArchResnetLight:
		width = cfg.NFilters1
		m.encoder = sequential{
			newDense(in, width, rnd), &leakyReLU{},
			newResidual(width, rnd),
			newResidual(width, rnd),
		}
		m.decoder = sequential{
			newDense(cfg.Latent, width, rnd), &leakyReLU{},
			newResidual(width, rnd),
			newDense(width, in, rnd),
		}
	default:
		panic(fmt.Sprintf("bug: unknown arch %q", cfg.Arch))
	}
	m.mu = newDense(width, cfg.Latent, rnd)
	m.logvar = newDense(width, cfg.Latent, rnd)
	return m
}

func (m *Model) params() []*param {
	var ps []*param
	ps = append(ps, m.encoder.params()...)
	ps = append(ps, m.mu.params()...)
	ps = append(ps, m.logvar.params()...)
	ps = append(ps, m.decoder.params()...)
	return ps
}

// PenultimateDim returns the width of the embedding returned by
// Penultimate.
func (m *Model) PenultimateDim() int {
	_, cols := m.mu.weight.w.Dims()
	return cols
}

// Penultimate returns the encoder output that feeds the latent heads.
func (m *Model) Penultimate(x *mat.Dense) *mat.Dense {
	return m.encoder.forward(x)
}

// Encode returns the latent mean for each row of x.
func (m *Model) Encode(x *mat.Dense) *mat.Dense {
	return m.mu.forward(m.encoder.forward(x))
}

type lossParts struct {
	Recon float64
	KL    float64
}

// step runs forward and backward passes on one batch and returns the
// loss. Gradients are accumulated into the parameters' grad
// matrices; the caller zeroes them.
func (m *Model) step(x *mat.Dense, klWeight float64, rnd *rand.Rand) lossParts {
	batch, in := x.Dims()
	h := m.encoder.forward(x)
	mu := m.mu.forward(h)
	lv := m.logvar.forward(h)

	latent := m.Config.Latent
	eps := mat.NewDense(batch, latent, nil)
	z := mat.NewDense(batch, latent, nil)
	var kl float64
	for r := 0; r < batch; r++ {
		for j := 0; j < latent; j++ {
			e := rnd.NormFloat64()
			eps.Set(r, j, e)
			mv, v := mu.At(r, j), lv.At(r, j)
			z.Set(r, j, mv+e*math.Exp(0.5*v))
			kl += -0.5 * (1 + v - mv*mv - math.Exp(v))
		}
	}
	kl /= float64(batch)

	xhat := m.decoder.forward(z)
	dxhat := mat.NewDense(batch, in, nil)
	var recon float64
	scale := 2 / float64(batch*in)
	for r := 0; r < batch; r++ {
		xr, xhr, dr := x.RawRowView(r), xhat.RawRowView(r), dxhat.RawRowView(r)
		for j := range xr {
			d := xhr[j] - xr[j]
			recon += d * d
			dr[j] = scale * d
		}
	}
	recon /= float64(batch * in)

	dz := m.decoder.backward(dxhat)
	dmu := mat.NewDense(batch, latent, nil)
	dlv := mat.NewDense(batch, latent, nil)
	kscale := klWeight / float64(batch)
	for r := 0; r < batch; r++ {
		for j := 0; j < latent; j++ {
			mv, v := mu.At(r, j), lv.At(r, j)
			sd := math.Exp(0.5 * v)
			g := dz.At(r, j)
			dmu.Set(r, j, g+kscale*mv)
			dlv.Set(r, j, g*eps.At(r, j)*0.5*sd+kscale*0.5*(math.Exp(v)-1))
		}
	}
	dh := m.mu.backward(dmu)
	dh.Add(dh, m.logvar.backward(dlv))
	m.encoder.backward(dh)
	return lossParts{Recon: recon, KL: kl}
}

// evalLoss returns the loss on x without touching gradients. The
// latent mean is used instead of a sample.
func (m *Model) evalLoss(x *mat.Dense, klWeight float64) float64 {
	batch, in := x.Dims()
	h := m.encoder.forward(x)
	mu := m.mu.forward(h)
	lv := m.logvar.forward(h)
	var kl float64
	rows, cols := mu.Dims()
	for r := 0; r < rows; r++ {
		for j := 0; j < cols; j++ {
			mv, v := mu.At(r, j), lv.At(r, j)
			kl += -0.5 * (1 + v - mv*mv - math.Exp(v))
		}
	}
	xhat := m.decoder.forward(mu)
	var recon float64
	for r := 0; r < batch; r++ {
		xr, xhr := x.RawRowView(r), xhat.RawRowView(r)
		for j := range xr {
			d := xhr[j] - xr[j]
			recon += d * d
		}
	}
	return recon/float64(batch*in) + klWeight*kl/float64(batch)
}
