// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package autoencoder

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// A Dataset is an indexable collection of equal-length examples.
type Dataset interface {
	Len() int
	Dim() int
	// Example copies example i into dst (len(dst) == Dim()). If
	// rnd is not nil, the example is randomly augmented.
	Example(i int, dst []float64, rnd *rand.Rand)
}

type TrainConfig struct {
	BatchSize int
	Epochs    int
	KLWeight  float64
	Seed      uint64
}

type EpochLoss struct {
	Epoch int
	LR    float64
	Train float64
	Recon float64
	KL    float64
	Val   float64
}

var ErrDiverged = errors.New("training diverged (loss is not finite)")

// FullTraining trains m for cfg.Epochs epochs, stepping sched after
// each epoch, and returns per-epoch losses. Training examples are
// augmented; validation examples are not.
func FullTraining(m *Model, train, val Dataset, opt *AdamW, sched *ExponentialLR, cfg TrainConfig) ([]EpochLoss, error) {
	if train.Len() == 0 {
		return nil, errors.New("empty training set")
	}
	if train.Dim() != m.Config.inputDim() {
		return nil, fmt.Errorf("dataset dimension %d does not match model input dimension %d", train.Dim(), m.Config.inputDim())
	}
	rnd := rand.New(rand.NewSource(cfg.Seed))
	var losslog []EpochLoss
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		el := EpochLoss{Epoch: epoch, LR: opt.LR}
		order := rnd.Perm(train.Len())
		batches := 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			x := gather(train, order[start:end], rnd)
			opt.zeroGrad()
			lp := m.step(x, cfg.KLWeight, rnd)
			loss := lp.Recon + cfg.KLWeight*lp.KL
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return losslog, fmt.Errorf("epoch %d batch %d: %w", epoch, batches, ErrDiverged)
			}
			opt.step()
			el.Train += loss
			el.Recon += lp.Recon
			el.KL += lp.KL
			batches++
		}
		el.Train /= float64(batches)
		el.Recon /= float64(batches)
		el.KL /= float64(batches)
		el.Val = Loss(m, val, cfg.BatchSize, cfg.KLWeight)
		log.WithFields(log.Fields{
			"epoch": epoch,
			"lr":    el.LR,
			"train": el.Train,
			"recon": el.Recon,
			"kl":    el.KL,
			"val":   el.Val,
		}).Info("epoch done")
		losslog = append(losslog, el)
		sched.Step()
	}
	return losslog, nil
}

// Loss returns the mean loss over ds, or NaN if ds is empty.
func Loss(m *Model, ds Dataset, batchSize int, klWeight float64) float64 {
	if ds == nil || ds.Len() == 0 {
		return math.NaN()
	}
	var sum float64
	for start := 0; start < ds.Len(); start += batchSize {
		end := start + batchSize
		if end > ds.Len() {
			end = ds.Len()
		}
		x := gather(ds, seq(start, end), nil)
		sum += m.evalLoss(x, klWeight) * float64(end-start)
	}
	return sum / float64(ds.Len())
}

// Apply runs embed on every example of ds (not augmented) in batches
// and returns the stacked results.
func Apply(m *Model, ds Dataset, batchSize int, embed func(*Model, *mat.Dense) *mat.Dense) *mat.Dense {
	var out *mat.Dense
	for start := 0; start < ds.Len(); start += batchSize {
		end := start + batchSize
		if end > ds.Len() {
			end = ds.Len()
		}
		z := embed(m, gather(ds, seq(start, end), nil))
		if out == nil {
			_, cols := z.Dims()
			out = mat.NewDense(ds.Len(), cols, nil)
		}
		out.Slice(start, end, 0, out.RawMatrix().Cols).(*mat.Dense).Copy(z)
	}
	return out
}

// Latent and Penultimate are embed functions for Apply.
func Latent(m *Model, x *mat.Dense) *mat.Dense      { return m.Encode(x) }
func Penultimate(m *Model, x *mat.Dense) *mat.Dense { return m.Penultimate(x) }

func gather(ds Dataset, idx []int, rnd *rand.Rand) *mat.Dense {
	dim := ds.Dim()
	x := mat.NewDense(len(idx), dim, nil)
	for r, i := range idx {
		ds.Example(i, x.RawRowView(r), rnd)
	}
	return x
}

func seq(start, end int) []int {
	idx := make([]int, end-start)
	for i := range idx {
		idx[i] = start + i
	}
	return idx
}
