// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1}

// contingency[i][j] counts items with x==(i==0) and y==(j==0).
type contingency [2][2]float64

func crosstab(x, y []bool) contingency {
	var t contingency
	for i, yi := range y {
		r, c := 1, 1
		if x[i] {
			r = 0
		}
		if yi {
			c = 0
		}
		t[r][c]++
	}
	return t
}

// pvalue returns the Pearson χ² (1 degree of freedom) p-value for
// independence of x and y. A table with an empty row or column gives
// 1.
func (t contingency) pvalue() float64 {
	var rows, cols [2]float64
	var n float64
	for i := range t {
		for j, v := range t[i] {
			rows[i] += v
			cols[j] += v
			n += v
		}
	}
	var sum float64
	for i := range t {
		for j, v := range t[i] {
			exp := rows[i] * cols[j] / n
			if exp == 0 {
				return 1
			}
			d := v - exp
			sum += d * d / exp
		}
	}
	return chisquared.Survival(sum)
}

// pvalue tests association between two boolean labelings of the same
// items, e.g., "patch flagged" and "patch in signal region".
func pvalue(x, y []bool) float64 {
	return crosstab(x, y).pvalue()
}
