// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type associationSuite struct{}

var _ = check.Suite(&associationSuite{})

func (s *associationSuite) TestGLMLRT(c *check.C) {
	x := make([]float64, 40)
	outcome := make([]float64, 40)
	for i := range x {
		x[i] = float64(i)
		if i >= 20 {
			outcome[i] = 1
		}
	}
	outcome[15], outcome[18], outcome[22], outcome[25] = 1, 1, 0, 0
	p, r2, df := glmLRT(outcome, [][]float64{x})
	c.Check(df, check.Equals, 1)
	c.Check(p < 0.001, check.Equals, true, check.Commentf("p = %g", p))
	c.Check(r2 > 0 && r2 < 1, check.Equals, true, check.Commentf("r2 = %g", r2))

	alternating := make([]float64, 40)
	for i := range alternating {
		alternating[i] = float64(i % 2)
	}
	p, _, _ = glmLRT(alternating, [][]float64{x})
	c.Check(p > 0.3, check.Equals, true, check.Commentf("p = %g", p))

	// constant covariates are dropped
	constant := make([]float64, 40)
	p, r2, df = glmLRT(outcome, [][]float64{constant, x})
	c.Check(df, check.Equals, 1)
	c.Check(p < 0.001, check.Equals, true)
	p, r2, df = glmLRT(outcome, [][]float64{constant})
	c.Check(df, check.Equals, 0)
	c.Check(math.IsNaN(p), check.Equals, true)
	c.Check(math.IsNaN(r2), check.Equals, true)

	// constant outcome
	p, _, _ = glmLRT(constant, [][]float64{x})
	c.Check(math.IsNaN(p), check.Equals, true)
}

func (s *associationSuite) TestKMeans(c *check.C) {
	x := mat.NewDense(20, 2, nil)
	for i := 0; i < 20; i++ {
		base := 0.0
		if i >= 10 {
			base = 100
		}
		x.Set(i, 0, base+float64(i%10)/10)
		x.Set(i, 1, base-float64(i%10)/10)
	}
	assign := kmeans(x, 2, 100, rand.New(rand.NewSource(2)))
	c.Assert(assign, check.HasLen, 20)
	for i := 1; i < 10; i++ {
		c.Check(assign[i], check.Equals, assign[0])
		c.Check(assign[10+i], check.Equals, assign[10])
	}
	c.Check(assign[0], check.Not(check.Equals), assign[10])

	assign = kmeans(x, 1, 10, rand.New(rand.NewSource(2)))
	for _, a := range assign {
		c.Check(a, check.Equals, 0)
	}
}

func (s *associationSuite) TestKNNGraph(c *check.C) {
	x := mat.NewDense(4, 1, []float64{0, 1, 2, 10})
	nbrs := knnGraph(x, 2)
	c.Check(nbrs, check.DeepEquals, [][]int{{1, 2}, {0, 2}, {1, 0}, {2, 1}})
	nbrs = knnGraph(x, 10)
	c.Check(nbrs[3], check.DeepEquals, []int{2, 1, 0})
	nbrs = knnGraph(x, 0)
	c.Check(nbrs, check.HasLen, 4)
	c.Check(nbrs[0], check.HasLen, 0)
}

// testAnnData returns a table of nsamples samples (even-numbered
// samples are cases) with perSample patches each. Case samples have
// their in-region patches shifted by shift in the first feature.
func testAnnData(nsamples, perSample int, shift float64, rnd *rand.Rand) *annData {
	n := nsamples * perSample
	D := &annData{
		Name:        "test",
		UseRep:      mat.NewDense(n, 3, nil),
		Patches:     make([]patchMeta, n),
		PatchSample: make([]int, n),
		Samplem:     map[string][]float64{"case": make([]float64, nsamples)},
		N:           nsamples,
	}
	for sm := 0; sm < nsamples; sm++ {
		D.Samples = append(D.Samples, sampleMeta{ID: string(rune('a' + sm)), Case: sm%2 == 0})
		if sm%2 == 0 {
			D.Samplem["case"][sm] = 1
		}
	}
	for i := 0; i < n; i++ {
		sm := i / perSample
		D.PatchSample[i] = sm
		D.Patches[i] = patchMeta{Sample: sm, SampleID: D.Samples[sm].ID, InRegion: i%perSample < perSample/4}
		row := D.UseRep.RawRowView(i)
		for j := range row {
			row[j] = rnd.NormFloat64()
		}
		if D.Samples[sm].Case && D.Patches[i].InRegion {
			row[0] += shift
		}
	}
	D.X = D.UseRep
	return D
}

func (s *associationSuite) TestNeighborhoodAbundance(c *check.C) {
	D := testAnnData(6, 10, 5, rand.New(rand.NewSource(1)))
	present, _ := presentSamples(D, "case")
	c.Check(present, check.DeepEquals, []int{0, 1, 2, 3, 4, 5})
	nbrs := knnGraph(D.UseRep, 5)
	for _, steps := range []int{0, 1, 3} {
		nam := neighborhoodAbundance(D, present, nbrs, steps)
		rows, cols := nam.Dims()
		c.Check(rows, check.Equals, 6)
		c.Check(cols, check.Equals, 60)
		for r := 0; r < rows; r++ {
			c.Check(math.Abs(floats.Sum(nam.RawRowView(r))-60) < 1e-9, check.Equals, true)
		}
	}
}

func (s *associationSuite) TestStyles(c *check.C) {
	c.Assert(ccStyles, check.HasLen, 2)
	c.Check(ccStyles[0].Name, check.Equals, "clust")
	c.Check(ccStyles[1].Name, check.Equals, "cna")

	params := defaultSimConfig().Assoc
	params.Clusters = 3
	D := testAnnData(12, 20, 6, rand.New(rand.NewSource(4)))
	for _, style := range ccStyles {
		p, metrics := style.Test(D, "case", params, rand.New(rand.NewSource(9)))
		c.Check(math.IsNaN(p) || (p >= 0 && p <= 1), check.Equals, true, check.Commentf("%s p = %g", style.Name, p))
		c.Check(metrics, check.HasLen, len(metricNames()))
		for _, name := range metricNames() {
			_, ok := metrics[name]
			c.Check(ok, check.Equals, true, check.Commentf("%s %s", style.Name, name))
		}
		c.Check(metrics["k"] >= 1, check.Equals, true, check.Commentf("%s k = %g", style.Name, metrics["k"]))
		c.Check(metrics["k"] <= 5, check.Equals, true)
		rp := metrics["region_p"]
		c.Check(math.IsNaN(rp) || (rp >= 0 && rp <= 1), check.Equals, true)
	}

	// a constant label gives NaN p-values
	D.Samplem["constant"] = make([]float64, D.N)
	for _, style := range ccStyles {
		p, _ := style.Test(D, "constant", params, rand.New(rand.NewSource(9)))
		c.Check(math.IsNaN(p), check.Equals, true, check.Commentf("%s", style.Name))
	}
}

// plantedAnnData returns a table with perSample patches per sample.
// The first nRegion[s] patches of sample s lie in a cluster far from
// the others and are marked InRegion. Even-numbered samples are
// labeled 1 under "case". Under "balanced", the labeled samples have
// the same mean region fraction as the others.
func plantedAnnData(nRegion []int, perSample int) *annData {
	nsamples := len(nRegion)
	n := nsamples * perSample
	D := &annData{
		Name:        "planted",
		UseRep:      mat.NewDense(n, 2, nil),
		Patches:     make([]patchMeta, n),
		PatchSample: make([]int, n),
		Samplem: map[string][]float64{
			"case":     make([]float64, nsamples),
			"balanced": make([]float64, nsamples),
		},
		N: nsamples,
	}
	for sm := 0; sm < nsamples; sm++ {
		D.Samples = append(D.Samples, sampleMeta{ID: string(rune('a' + sm)), Case: sm%2 == 0})
		if sm%2 == 0 {
			D.Samplem["case"][sm] = 1
		}
	}
	for _, sm := range []int{0, 3, 4, 5, 6, 7} {
		D.Samplem["balanced"][sm] = 1
	}
	for i := 0; i < n; i++ {
		sm, j := i/perSample, i%perSample
		in := j < nRegion[sm]
		D.PatchSample[i] = sm
		D.Patches[i] = patchMeta{Sample: sm, SampleID: D.Samples[sm].ID, InRegion: in}
		base := 0.0
		if in {
			base = 10
		}
		D.UseRep.Set(i, 0, base+math.Mod(float64(i)*0.618034, 1))
		D.UseRep.Set(i, 1, base+math.Mod(float64(i)*0.414214, 1))
	}
	D.X = D.UseRep
	return D
}

func (s *associationSuite) TestPlantedSignal(c *check.C) {
	// cases: 6 7 5 8 6 4 region patches; controls: 2 3 1 4 5 3
	D := plantedAnnData([]int{6, 2, 7, 3, 5, 1, 8, 4, 6, 5, 4, 3}, 10)
	params := defaultSimConfig().Assoc
	params.Clusters = 2
	// more PCs than this separates 12 samples perfectly
	params.CNAPCs = 1
	for _, style := range ccStyles {
		p, metrics := style.Test(D, "case", params, rand.New(rand.NewSource(9)))
		c.Check(p < 0.02, check.Equals, true, check.Commentf("%s p = %g", style.Name, p))
		c.Check(metrics["region_corr"] > 0.9, check.Equals, true, check.Commentf("%s region_corr = %g", style.Name, metrics["region_corr"]))
		c.Check(metrics["r2"] > 0.3, check.Equals, true, check.Commentf("%s r2 = %g", style.Name, metrics["r2"]))

		p, _ = style.Test(D, "balanced", params, rand.New(rand.NewSource(9)))
		c.Check(p > 0.5, check.Equals, true, check.Commentf("%s balanced p = %g", style.Name, p))
	}
	_, metrics := clusterCC(D, "case", params, rand.New(rand.NewSource(9)))
	c.Check(metrics["k"], check.Equals, 2.0)
	_, metrics = cnaCC(D, "case", params, rand.New(rand.NewSource(9)))
	c.Check(metrics["k"], check.Equals, 1.0)
}

func (s *associationSuite) TestCorrelationQuantile(c *check.C) {
	c.Check(correlation([]float64{1, 2, 3}, []float64{2, 4, 6}) > 0.9999, check.Equals, true)
	c.Check(math.IsNaN(correlation([]float64{1, 1, 1}, []float64{2, 4, 6})), check.Equals, true)
	c.Check(math.IsNaN(correlation([]float64{1, math.NaN(), 3}, []float64{2, 4, 6})), check.Equals, true)
	c.Check(quantile([]float64{5, math.NaN(), 1, 3, 2, 4}, 0.5), check.Equals, 3.0)
	c.Check(quantile([]float64{5, 1, 3}, 1), check.Equals, 5.0)
	c.Check(math.IsNaN(quantile([]float64{math.NaN()}, 0.5)), check.Equals, true)
}
