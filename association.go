// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"math"
	"runtime"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type assocParams struct {
	Clusters       int     `yaml:"clusters"`
	KMeansIter     int     `yaml:"kmeansIter"`
	KNN            int     `yaml:"knn"`
	DiffusionSteps int     `yaml:"diffusionSteps"`
	CNAPCs         int     `yaml:"cnaPCs"`
	FlagQuantile   float64 `yaml:"flagQuantile"`
}

// A ccTest tests association between the per-sample label stored
// in D.Samplem[labelKey] and the patch representation D.UseRep. It
// returns a p-value and the metrics named by metricNames().
type ccTest func(D *annData, labelKey string, params assocParams, rnd *rand.Rand) (float64, map[string]float64)

var ccStyles = []struct {
	Name string
	Test ccTest
}{
	{"clust", clusterCC},
	{"cna", cnaCC},
}

func metricNames() []string {
	return []string{"k", "r2", "region_corr", "region_p"}
}

// clusterCC clusters patches with k-means, then tests each cluster's
// per-sample abundance for association with the label. The p-value is
// the smallest per-cluster p-value, Bonferroni-corrected.
func clusterCC(D *annData, labelKey string, params assocParams, rnd *rand.Rand) (float64, map[string]float64) {
	metrics := nanMetrics()
	npatches, _ := D.UseRep.Dims()
	k := params.Clusters
	if k > npatches {
		k = npatches
	}
	assign := kmeans(D.UseRep, k, params.KMeansIter, rnd)

	present, outcome := presentSamples(D, labelKey)
	row := make(map[int]int, len(present))
	for r, s := range present {
		row[s] = r
	}
	counts := make([]float64, len(present))
	frac := make([][]float64, k)
	for c := range frac {
		frac[c] = make([]float64, len(present))
	}
	for i, c := range assign {
		r := row[D.PatchSample[i]]
		frac[c][r]++
		counts[r]++
	}
	for c := range frac {
		for r := range frac[c] {
			frac[c][r] /= counts[r]
		}
	}

	best, bestP, bestR2 := -1, math.NaN(), math.NaN()
	for c := 0; c < k; c++ {
		p, r2, _ := glmLRT(outcome, [][]float64{frac[c]})
		if !math.IsNaN(p) && (best < 0 || p < bestP) {
			best, bestP, bestR2 = c, p, r2
		}
	}
	metrics["k"] = float64(k)
	if best < 0 {
		return math.NaN(), metrics
	}
	metrics["r2"] = bestR2

	clusterScore := make([]float64, k)
	for c := range clusterScore {
		clusterScore[c] = correlation(frac[c], outcome)
	}
	score := make([]float64, npatches)
	flagged := make([]bool, npatches)
	for i, c := range assign {
		score[i] = clusterScore[c]
		flagged[i] = c == best
	}
	regionMetrics(D, score, flagged, metrics)
	return math.Min(1, bestP*float64(k)), metrics
}

// cnaCC builds a nearest-neighbor graph of patches, diffuses each
// sample's patches over the graph to get a neighborhood abundance
// matrix (samples x patches), and tests the label against the top
// principal components of that matrix.
func cnaCC(D *annData, labelKey string, params assocParams, rnd *rand.Rand) (float64, map[string]float64) {
	metrics := nanMetrics()
	present, outcome := presentSamples(D, labelKey)
	npatches, _ := D.UseRep.Dims()
	m := params.CNAPCs
	if m > len(present)-2 {
		m = len(present) - 2
	}
	if m > npatches {
		m = npatches
	}
	metrics["k"] = float64(m)
	if m < 1 {
		return math.NaN(), metrics
	}

	nbrs := knnGraph(D.UseRep, params.KNN)
	nam := neighborhoodAbundance(D, present, nbrs, params.DiffusionSteps)
	pcs, err := pcaView(nam, m)
	if err != nil {
		log.Warnf("%s: nam pca: %s", D.Name, err)
		return math.NaN(), metrics
	}
	_, m = pcs.Dims()
	covariates := make([][]float64, m)
	for j := range covariates {
		covariates[j] = mat.Col(nil, j, pcs)
	}
	p, r2, df := glmLRT(outcome, covariates)
	metrics["k"] = float64(df)
	metrics["r2"] = r2

	score := make([]float64, npatches)
	for i := range score {
		score[i] = correlation(mat.Col(nil, i, nam), outcome)
	}
	threshold := quantile(score, params.FlagQuantile)
	flagged := make([]bool, npatches)
	for i, s := range score {
		flagged[i] = !math.IsNaN(s) && s >= threshold
	}
	regionMetrics(D, score, flagged, metrics)
	return p, metrics
}

func nanMetrics() map[string]float64 {
	metrics := map[string]float64{}
	for _, name := range metricNames() {
		metrics[name] = math.NaN()
	}
	return metrics
}

// presentSamples returns the indices of samples that have at least
// one patch, and their labels.
func presentSamples(D *annData, labelKey string) ([]int, []float64) {
	has := make([]bool, D.N)
	for _, s := range D.PatchSample {
		has[s] = true
	}
	var present []int
	var outcome []float64
	for s, ok := range has {
		if ok {
			present = append(present, s)
			outcome = append(outcome, D.Samplem[labelKey][s])
		}
	}
	return present, outcome
}

// regionMetrics compares per-patch scores and flags with the patches'
// signal-region labels.
func regionMetrics(D *annData, score []float64, flagged []bool, metrics map[string]float64) {
	inRegion := make([]float64, len(D.Patches))
	inRegionBool := make([]bool, len(D.Patches))
	for i, p := range D.Patches {
		if p.InRegion {
			inRegion[i] = 1
			inRegionBool[i] = true
		}
	}
	metrics["region_corr"] = correlation(score, inRegion)
	metrics["region_p"] = pvalue(flagged, inRegionBool)
}

// correlation returns the Pearson correlation of x and y, or NaN if
// either is constant or contains NaN.
func correlation(x, y []float64) float64 {
	if floats.HasNaN(x) || floats.HasNaN(y) || stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// quantile returns the q quantile of the non-NaN values in x.
func quantile(x []float64, q float64) float64 {
	var sorted []float64
	for _, v := range x {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// kmeans assigns each row of x to one of k clusters (k-means++
// seeding, then Lloyd iterations until assignments stop changing or
// maxIter is reached).
func kmeans(x *mat.Dense, k, maxIter int, rnd *rand.Rand) []int {
	n, d := x.Dims()
	centers := mat.NewDense(k, d, nil)
	centers.SetRow(0, x.RawRowView(rnd.Intn(n)))
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	for c := 1; c < k; c++ {
		prev := centers.RawRowView(c - 1)
		var total float64
		for i := range dist {
			if d2 := sqDist(x.RawRowView(i), prev); d2 < dist[i] {
				dist[i] = d2
			}
			total += dist[i]
		}
		pick := rnd.Intn(n)
		if total > 0 {
			target := rnd.Float64() * total
			for i, d2 := range dist {
				target -= d2
				if target <= 0 {
					pick = i
					break
				}
			}
		}
		centers.SetRow(c, x.RawRowView(pick))
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	counts := make([]float64, k)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i := 0; i < n; i++ {
			row := x.RawRowView(i)
			best, bestD := 0, math.Inf(1)
			for c := 0; c < k; c++ {
				if d2 := sqDist(row, centers.RawRowView(c)); d2 < bestD {
					best, bestD = c, d2
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := mat.NewDense(k, d, nil)
		for c := range counts {
			counts[c] = 0
		}
		for i, c := range assign {
			floats.Add(sums.RawRowView(c), x.RawRowView(i))
			counts[c]++
		}
		for c := 0; c < k; c++ {
			// an empty cluster keeps its old center
			if counts[c] > 0 {
				floats.Scale(1/counts[c], sums.RawRowView(c))
				centers.SetRow(c, sums.RawRowView(c))
			}
		}
	}
	return assign
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i, v := range a {
		d := v - b[i]
		sum += d * d
	}
	return sum
}

// knnGraph returns the k nearest neighbors (excluding itself) of each
// row of x, nearest first.
func knnGraph(x *mat.Dense, k int) [][]int {
	n, _ := x.Dims()
	if k > n-1 {
		k = n - 1
	}
	nbrs := make([][]int, n)
	if k < 1 {
		return nbrs
	}
	thr := throttle{Max: runtime.GOMAXPROCS(0)}
	for i := 0; i < n; i++ {
		i := i
		thr.Go(func() error {
			idx := make([]int, 0, k+1)
			dist := make([]float64, 0, k+1)
			row := x.RawRowView(i)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				d2 := sqDist(row, x.RawRowView(j))
				if len(idx) == k && d2 >= dist[k-1] {
					continue
				}
				pos := sort.SearchFloat64s(dist, d2)
				for pos < len(dist) && dist[pos] == d2 {
					pos++
				}
				idx = append(idx, 0)
				dist = append(dist, 0)
				copy(idx[pos+1:], idx[pos:])
				copy(dist[pos+1:], dist[pos:])
				idx[pos], dist[pos] = j, d2
				if len(idx) > k {
					idx, dist = idx[:k], dist[:k]
				}
			}
			nbrs[i] = idx
			return nil
		})
	}
	thr.Wait()
	return nbrs
}

// neighborhoodAbundance returns a (len(present) x patches) matrix. Row
// r starts as the indicator of sample present[r]'s patches, scaled to
// sum to the number of patches, and is then diffused steps times:
// each patch passes its mass in equal shares to itself and its
// neighbors.
func neighborhoodAbundance(D *annData, present []int, nbrs [][]int, steps int) *mat.Dense {
	npatches := len(D.PatchSample)
	row := make(map[int]int, len(present))
	for r, s := range present {
		row[s] = r
	}
	counts := make([]float64, len(present))
	for _, s := range D.PatchSample {
		counts[row[s]]++
	}
	nam := mat.NewDense(len(present), npatches, nil)
	for i, s := range D.PatchSample {
		r := row[s]
		nam.Set(r, i, float64(npatches)/counts[r])
	}
	next := mat.NewDense(len(present), npatches, nil)
	for step := 0; step < steps; step++ {
		next.Zero()
		for r := range present {
			src, dst := nam.RawRowView(r), next.RawRowView(r)
			for i, v := range src {
				if v == 0 {
					continue
				}
				share := v / float64(len(nbrs[i])+1)
				dst[i] += share
				for _, j := range nbrs[i] {
					dst[j] += share
				}
			}
		}
		nam, next = next, nam
	}
	return nam
}
