// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"fmt"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// annData combines one representation with patch and sample
// metadata.
type annData struct {
	Name    string
	X       *mat.Dense // patches x features
	UseRep  *mat.Dense // X, or its PCA view
	Patches []patchMeta
	Samples []sampleMeta

	// PatchSample[i] is the Samples index of patch i.
	PatchSample []int
	// Samplem holds one value per sample for each named
	// attribute. "case" is 1 for cases, 0 for controls.
	Samplem map[string][]float64
	// N is the number of samples.
	N int
}

// tableConfig selects the representation view used by association
// tests: NPCs > 0 means a PCA view with that many components.
type tableConfig struct {
	NPCs int
}

func (cfg tableConfig) suffix() string {
	if cfg.NPCs > 0 {
		return fmt.Sprintf("-%dpcs", cfg.NPCs)
	}
	return "-raw"
}

func newAnnData(rep representation, patches []patchMeta, samples []sampleMeta, cfg tableConfig) (*annData, error) {
	rows, _ := rep.Z.Dims()
	if rows != len(patches) {
		return nil, fmt.Errorf("%s: %d rows, but %d patches", rep.Name, rows, len(patches))
	}
	D := &annData{
		Name:        rep.Name + cfg.suffix(),
		X:           rep.Z,
		UseRep:      rep.Z,
		Patches:     patches,
		Samples:     samples,
		PatchSample: make([]int, len(patches)),
		Samplem:     map[string][]float64{},
		N:           len(samples),
	}
	sampleIdx := map[string]int{}
	isCase := make([]float64, len(samples))
	for i, s := range samples {
		sampleIdx[s.ID] = i
		if s.Case {
			isCase[i] = 1
		}
	}
	D.Samplem["case"] = isCase
	for i, p := range patches {
		idx, ok := sampleIdx[p.SampleID]
		if !ok {
			return nil, fmt.Errorf("patch %d: sample %q not in sample metadata", i, p.SampleID)
		}
		D.PatchSample[i] = idx
	}
	if cfg.NPCs > 0 {
		var err error
		D.UseRep, err = pcaView(rep.Z, cfg.NPCs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rep.Name, err)
		}
	}
	return D, nil
}

// pcaView returns the projection of the column-centered x onto its
// first k principal components (fewer if x has fewer rows or
// columns).
func pcaView(x *mat.Dense, k int) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if k > rows {
		k = rows
	}
	if k > cols {
		k = cols
	}
	centered := centerColumns(x)
	log.Debugf("fitting pca: %d rows, %d cols, %d components", rows, cols, k)
	transformer := nlp.NewPCA(k)
	transformer.Fit(centered.T())
	pca, err := transformer.Transform(centered.T())
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(pca.T()), nil
}

func centerColumns(x mat.Matrix) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.DenseCopyOf(x)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += out.At(i, j)
		}
		mean := sum / float64(rows)
		for i := 0; i < rows; i++ {
			out.Set(i, j, out.At(i, j)-mean)
		}
	}
	return out
}
