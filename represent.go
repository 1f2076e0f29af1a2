// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"bufio"
	"fmt"
	"os"

	"github.com/arvados/tpaesim/autoencoder"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// A representation is one numeric embedding of every patch
// (patches x features).
type representation struct {
	Name string
	Z    *mat.Dense
}

type trainingParams struct {
	BatchSize int     `yaml:"batchSize"`
	TrainFrac float64 `yaml:"trainFrac"`
	LR        float64 `yaml:"lr"`
	Gamma     float64 `yaml:"gamma"`
	NFilters1 int     `yaml:"nfilters1"`
	NFilters2 int     `yaml:"nfilters2"`
}

type makerOptions struct {
	Seed     uint64
	Training trainingParams
}

type repMaker func(P *patchCollection, modelFilename string, nEpochs int, opts makerOptions) ([]representation, error)

var repMakers = map[string]repMaker{
	"trivial":   makeTrivial,
	"simplecnn": makeSimpleCNN,
	"resnet":    makeResnet,
}

func makeTrivial(P *patchCollection, modelFilename string, nEpochs int, opts makerOptions) ([]representation, error) {
	n, npix, nch := P.Len(), P.PatchPixels(), P.Channels
	avg := mat.NewDense(n, nch, nil)
	pixels := mat.NewDense(n, P.PatchDim(), nil)
	cov := mat.NewDense(n, nch*(nch+1)/2, nil)
	var zz mat.Dense
	for i := 0; i < n; i++ {
		patch := P.Numeric(i, accessOptions{})
		copy(pixels.RawRowView(i), patch)
		row := avg.RawRowView(i)
		for px := 0; px < npix; px++ {
			for ch, v := range patch[px*nch : (px+1)*nch] {
				row[ch] += v
			}
		}
		for ch := range row {
			row[ch] /= float64(npix)
		}
		z := mat.NewDense(npix, nch, patch)
		zz.Reset()
		zz.Mul(z.T(), z)
		upperTriangle(&zz, cov.RawRowView(i))
	}
	return []representation{
		{"trivial-avg", avg},
		{"trivial-pixels", pixels},
		{"trivial-cov", cov},
	}, nil
}

func makeSimpleCNN(P *patchCollection, modelFilename string, nEpochs int, opts makerOptions) ([]representation, error) {
	model := autoencoder.NewSimple(P.Channels, P.Size, opts.Training.NFilters1, opts.Training.NFilters2).WithSeed(opts.Seed)
	err := trainAndSave(P, model, modelFilename, nEpochs, opts)
	if err != nil {
		return nil, err
	}
	return []representation{
		{"simplecnn-latent", autoencoder.Apply(model, allPatches(P), opts.Training.BatchSize, autoencoder.Latent)},
	}, nil
}

func makeResnet(P *patchCollection, modelFilename string, nEpochs int, opts makerOptions) ([]representation, error) {
	model, err := autoencoder.NewResnet("light", P.Channels, P.Size)
	if err != nil {
		return nil, err
	}
	model = model.WithSeed(opts.Seed)
	err = trainAndSave(P, model, modelFilename, nEpochs, opts)
	if err != nil {
		return nil, err
	}

	Z := autoencoder.Apply(model, allPatches(P), opts.Training.BatchSize, autoencoder.Penultimate)
	n, dim := Z.Dims()
	if dim != model.PenultimateDim() {
		return nil, fmt.Errorf("bug: embedding width %d, model penultimate width %d", dim, model.PenultimateDim())
	}
	groups := autoencoder.PenultimateGroups
	if dim%groups != 0 {
		return nil, fmt.Errorf("bug: penultimate width %d is not a multiple of %d", dim, groups)
	}
	per := dim / groups
	avg := mat.NewDense(n, groups, nil)
	cov := mat.NewDense(n, groups*(groups+1)/2, nil)
	var gg mat.Dense
	for i := 0; i < n; i++ {
		z := mat.NewDense(groups, per, append([]float64(nil), Z.RawRowView(i)...))
		row := avg.RawRowView(i)
		for g := range row {
			var sum float64
			for _, v := range z.RawRowView(g) {
				sum += v
			}
			row[g] = sum / float64(per)
		}
		// each group against itself, not channels against
		// channels as in trivial-cov
		gg.Reset()
		gg.Mul(z, z.T())
		upperTriangle(&gg, cov.RawRowView(i))
	}
	return []representation{
		{"resnet-pixels", Z},
		{"resnet-avg", avg},
		{"resnet-cov", cov},
	}, nil
}

func trainAndSave(P *patchCollection, model *autoencoder.Model, modelFilename string, nEpochs int, opts makerOptions) error {
	rnd := rand.New(rand.NewSource(opts.Seed))
	train, val := trainTestSplit(P, opts.Training.TrainFrac, rnd)
	log.Infof("training %s model: %d training patches, %d validation patches, %d epochs", model.Config.Arch, train.Len(), val.Len(), nEpochs)
	opt := autoencoder.NewAdamW(model, opts.Training.LR)
	sched := &autoencoder.ExponentialLR{Opt: opt, Gamma: opts.Training.Gamma}
	_, err := autoencoder.FullTraining(model, train, val, opt, sched, autoencoder.TrainConfig{
		BatchSize: opts.Training.BatchSize,
		Epochs:    nEpochs,
		KLWeight:  1 / float64(P.PatchDim()),
		Seed:      opts.Seed + 1,
	})
	if err != nil {
		return err
	}
	log.Infof("writing model parameters to %s", modelFilename)
	return model.Save(modelFilename)
}

// upperTriangle copies the upper triangle (including the diagonal) of
// square matrix m to dst, row by row.
func upperTriangle(m mat.Matrix, dst []float64) {
	n, _ := m.Dims()
	k := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst[k] = m.At(i, j)
			k++
		}
	}
}

func writeNumpyFloat64(fnm string, m *mat.Dense) error {
	rows, cols := m.Dims()
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(mat.DenseCopyOf(m).RawMatrix().Data)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
