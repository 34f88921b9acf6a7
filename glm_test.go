// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"fmt"
	"math"
	"math/rand"

	"gopkg.in/check.v1"
)

type glmSuite struct{}

var _ = check.Suite(&glmSuite{})

// glmSamples returns 40 labeled samples, alternating case/control,
// with two covariate columns of fixed pseudorandom noise.
func glmSamples() []sampleInfo {
	rnd := rand.New(rand.NewSource(1))
	si := make([]sampleInfo, 40)
	for i := range si {
		si[i] = sampleInfo{
			id:            fmt.Sprintf("sample%d", i),
			isCase:        i%2 == 0,
			isControl:     i%2 == 1,
			isTraining:    true,
			pcaComponents: []float64{rnd.NormFloat64(), rnd.NormFloat64()},
		}
	}
	return si
}

func (s *glmSuite) TestBetaPvalue(c *check.C) {
	si := glmSamples()
	pvalueFunc := betaPvalueFunc(si, 2)

	// A site tracking case status closely, with a few discordant
	// samples so the likelihood stays finite.
	strong := make([]float64, len(si))
	for i, smp := range si {
		switch {
		case i < 4:
			strong[i] = 0.5
		case smp.isCase:
			strong[i] = 0.9
		default:
			strong[i] = 0.1
		}
	}
	// A site whose betas are split identically within cases and
	// controls carries no information about the labels.
	balanced := make([]float64, len(si))
	for i := range balanced {
		if (i/2)%2 == 0 {
			balanced[i] = 0.3
		} else {
			balanced[i] = 0.7
		}
	}

	pStrong := pvalueFunc(strong)
	pBalanced := pvalueFunc(balanced)
	c.Check(math.IsNaN(pStrong), check.Equals, false)
	c.Check(math.IsNaN(pBalanced), check.Equals, false)
	c.Check(pStrong < 0.01, check.Equals, true, check.Commentf("pStrong=%v", pStrong))
	c.Check(pBalanced > 0.01, check.Equals, true, check.Commentf("pBalanced=%v", pBalanced))
	c.Check(pBalanced <= 1, check.Equals, true, check.Commentf("pBalanced=%v", pBalanced))
	c.Check(pStrong < pBalanced, check.Equals, true, check.Commentf("pStrong=%v pBalanced=%v", pStrong, pBalanced))
}

func (s *glmSuite) TestConstantSite(c *check.C) {
	si := glmSamples()
	pvalueFunc := betaPvalueFunc(si, 2)
	// A constant site is collinear with the intercept, so the
	// comparison model cannot be fitted.
	constant := make([]float64, len(si))
	for i := range constant {
		constant[i] = 0.5
	}
	c.Check(math.IsNaN(pvalueFunc(constant)), check.Equals, true)
}

func (s *glmSuite) TestUnlabeledSamplesExcluded(c *check.C) {
	si := glmSamples()
	si = append(si, sampleInfo{id: "neither", pcaComponents: []float64{0.1, 0.2}})
	pvalueFunc := betaPvalueFunc(si, 2)
	// One beta per labeled sample; the unlabeled sample contributes
	// no row.
	betas := make([]float64, 40)
	for i := range betas {
		if (i/2)%2 == 0 {
			betas[i] = 0.3
		} else {
			betas[i] = 0.7
		}
	}
	p := pvalueFunc(betas)
	c.Check(math.IsNaN(p), check.Equals, false, check.Commentf("p=%v", p))
	c.Check(p >= 0 && p <= 1, check.Equals, true, check.Commentf("p=%v", p))
}

var benchGLMSamples, benchGLMBetas = func() ([]sampleInfo, []float64) {
	pcaComponents := 10
	samples := []sampleInfo{}
	betas := []float64{}
	r := make([]float64, pcaComponents)
	for j := 0; j < 10000; j++ {
		for i := 0; i < len(r); i++ {
			r[i] = rand.Float64()
		}
		samples = append(samples, sampleInfo{
			id:            fmt.Sprintf("sample%d", j),
			isCase:        j%2 == 0 && j > 200,
			isControl:     j%2 == 1 || j <= 200,
			isTraining:    true,
			pcaComponents: append([]float64(nil), r...),
		})
		if j%2 == 0 {
			betas = append(betas, 0.9)
		} else {
			betas = append(betas, 0.1)
		}
	}
	return samples, betas
}()

func (s *glmSuite) BenchmarkBetaPvalue(c *check.C) {
	pvalueFunc := betaPvalueFunc(benchGLMSamples, 10)
	for i := 0; i < c.N; i++ {
		p := pvalueFunc(benchGLMBetas)
		c.Check(p, check.Equals, 0.0)
	}
}
