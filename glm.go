// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// Logistic regression likelihood-ratio test.
//
// outcome is 0/1 per sample. Each covariate is a series of the same
// length; covariates with no variance are dropped. The full model
// (intercept + covariates) is compared to the intercept-only model.
// Returns the p-value, McFadden's pseudo-R² of the full model, and
// the number of covariates used. p and r2 are NaN if the test is
// undefined (constant outcome, no usable covariates, or a singular
// fit).
func glmLRT(outcome []float64, covariates [][]float64) (p, r2 float64, df int) {
	p, r2 = math.NaN(), math.NaN()
	n := float64(len(outcome))
	ncase := 0.0
	for _, y := range outcome {
		ncase += y
	}
	if ncase == 0 || ncase == n {
		return
	}
	phat := ncase / n
	logNull := ncase*math.Log(phat) + (n-ncase)*math.Log(1-phat)

	constants := make([]statmodel.Dtype, len(outcome))
	for i := range constants {
		constants[i] = 1
	}
	data := [][]statmodel.Dtype{outcome, constants}
	names := []string{"outcome", "constants"}
	for _, cov := range covariates {
		if stat.Variance(cov, nil) == 0 {
			continue
		}
		series := append([]statmodel.Dtype(nil), cov...)
		normalize(series)
		data = append(data, series)
		names = append(names, fmt.Sprintf("x%d", df))
		df++
	}
	if df == 0 {
		return
	}
	logFull, ok := glmLogLike(data, names)
	if !ok {
		return
	}
	dist := distuv.ChiSquared{K: float64(df)}
	p = dist.Survival(-2 * (logNull - logFull))
	r2 = 1 - logFull/logNull
	return
}

func glmLogLike(data [][]statmodel.Dtype, names []string) (ll float64, ok bool) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			ll, ok = math.NaN(), false
		}
	}()
	dataset := statmodel.NewDataset(data, names)
	model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
	if err != nil {
		return math.NaN(), false
	}
	ll = model.Fit().LogLike()
	return ll, !math.IsNaN(ll) && !math.IsInf(ll, 0)
}
