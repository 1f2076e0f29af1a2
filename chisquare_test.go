// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"fmt"

	"gopkg.in/check.v1"
)

type pvalueSuite struct{}

var _ = check.Suite(&pvalueSuite{})

func (s *pvalueSuite) TestPvalue(c *check.C) {
	flagged := make([]bool, 54)
	inRegion := make([]bool, 54)
	for i := 0; i < 25; i++ {
		flagged[i] = true
		inRegion[i] = true
	}
	for i := 25; i < 31; i++ {
		flagged[i] = true
	}
	for i := 31; i < 39; i++ {
		inRegion[i] = true
	}
	c.Check(crosstab(flagged, inRegion), check.Equals, contingency{{25, 6}, {8, 15}})
	c.Check(fmt.Sprintf("%.7f", pvalue(flagged, inRegion)), check.Equals, "0.0006297")
	for i := range flagged {
		flagged[i] = !flagged[i]
	}
	c.Check(fmt.Sprintf("%.7f", pvalue(flagged, inRegion)), check.Equals, "0.0006297")
	c.Check(fmt.Sprintf("%.7f", pvalue(inRegion, flagged)), check.Equals, "0.0006297")
}

func (s *pvalueSuite) TestDegenerate(c *check.C) {
	none := make([]bool, 10)
	some := []bool{true, false, true, false, true, false, true, false, true, false}
	c.Check(pvalue(none, some), check.Equals, 1.0)
	c.Check(pvalue(some, none), check.Equals, 1.0)
	c.Check(pvalue(some, some) < 0.01, check.Equals, true)
}
