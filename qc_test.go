// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bytes"
	"encoding/json"
	"math"
	"os"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type qcSuite struct{}

var _ = check.Suite(&qcSuite{})

func (s *qcSuite) TestQuartileSummary(c *check.C) {
	c.Check(quartileSummary([]float64{1, 2, 3, 4, 5}), check.DeepEquals, []float64{1.5, 3, 4.5})
	c.Check(quartileSummary([]float64{4, 1, 3, 2}), check.DeepEquals, []float64{1.5, 2.5, 3.5})
	c.Check(quartileSummary([]float64{math.NaN(), 1, 2, 3, 4, math.NaN()}), check.DeepEquals, []float64{1.5, 2.5, 3.5})
	c.Check(quartileSummary(nil), check.IsNil)
	c.Check(quartileSummary([]float64{math.NaN()}), check.IsNil)
}

func (s *qcSuite) TestMedianOf(c *check.C) {
	m := medianOf([]float64{3, 1, 2})
	c.Assert(m, check.NotNil)
	c.Check(*m, check.Equals, 2.0)
	m = medianOf([]float64{math.NaN(), 4, 2})
	c.Assert(m, check.NotNil)
	c.Check(*m, check.Equals, 3.0)
	c.Check(medianOf(nil), check.IsNil)
	c.Check(medianOf([]float64{math.NaN(), math.NaN()}), check.IsNil)
}

func (s *qcSuite) TestDropNaN(c *check.C) {
	c.Check(dropNaN([]float64{1, math.NaN(), 2}), check.DeepEquals, []float64{1, 2})
	c.Check(dropNaN(nil), check.DeepEquals, []float64{})
}

func (s *qcSuite) TestDoQC(c *check.C) {
	ds := poobahFixture()
	_, err := MaskByDetectionPValue(ds, MaskOptions{Threshold: 0.05})
	c.Assert(err, check.IsNil)
	stats := (&qc{}).doQC(ds)
	c.Assert(stats, check.HasLen, 2)

	c.Check(stats[0].SampleID, check.Equals, "s1")
	c.Check(stats[0].MaskedFraction, check.Equals, 0.375)
	// Masked cells drop out of the summaries: sample s1's usable M
	// values are {6,7,9,100,500}.
	c.Check(stats[0].MQuartiles, check.DeepEquals, []float64{6.5, 9, 300})
	c.Check(stats[0].UQuartiles, check.DeepEquals, []float64{6, 10, 250})
	c.Assert(stats[0].OOBMedianM, check.NotNil)
	c.Check(*stats[0].OOBMedianM, check.Equals, 5.0)
	c.Assert(stats[0].OOBMedianU, check.NotNil)
	c.Check(*stats[0].OOBMedianU, check.Equals, 5.0)
	c.Assert(stats[0].MedianPval, check.NotNil)
	c.Check(*stats[0].MedianPval, check.Equals, 0.0)

	c.Check(stats[1].SampleID, check.Equals, "s2")
	c.Check(stats[1].MaskedFraction, check.Equals, 0.0)
	c.Check(stats[1].MQuartiles, check.DeepEquals, []float64{100, 100, 100})
	c.Assert(stats[1].OOBMedianM, check.NotNil)
	c.Check(*stats[1].OOBMedianM, check.Equals, 1.0)
}

func (s *qcSuite) TestDoQCAllMissing(c *check.C) {
	ds := &RawDataset{
		Platform: Probes450,
		Anno: &Annotation{
			SiteIDs: []string{"cg01", "cg02"},
			Design:  []string{"II", "II"},
			Color:   []string{"", ""},
		},
		Samples: []string{"s1"},
		M:       nanMatrix(2, 1),
		U:       nanMatrix(2, 1),
		M0:      nanMatrix(2, 1),
		U0:      nanMatrix(2, 1),
	}
	stats := (&qc{}).doQC(ds)
	c.Assert(stats, check.HasLen, 1)
	c.Check(stats[0].MaskedFraction, check.Equals, 1.0)
	c.Check(stats[0].MQuartiles, check.IsNil)
	c.Check(stats[0].UQuartiles, check.IsNil)
	c.Check(stats[0].OOBMedianM, check.IsNil)
	c.Check(stats[0].MedianPval, check.IsNil)
}

func (s *qcSuite) TestQCCommand(c *check.C) {
	tmpdir := c.MkDir()
	fnm := tmpdir + "/ds.gob.gz"
	f, err := os.Create(fnm)
	c.Assert(err, check.IsNil)
	ds := poobahFixture()
	_, err = MaskByDetectionPValue(ds, MaskOptions{Threshold: 0.05})
	c.Assert(err, check.IsNil)
	c.Assert(ds.encode(f, true), check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	var stdout bytes.Buffer
	code := (&qc{}).RunCommand("rnbeads qc", []string{"-local=true", "-i", fnm, "-xlsx", tmpdir + "/qc.xlsx"}, bytes.NewReader(nil), &stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)

	var ret struct {
		Platform string
		Sites    int
		Samples  []qcSampleStats
	}
	c.Assert(json.Unmarshal(stdout.Bytes(), &ret), check.IsNil)
	c.Check(ret.Platform, check.Equals, "probes450")
	c.Check(ret.Sites, check.Equals, 8)
	c.Assert(ret.Samples, check.HasLen, 2)
	c.Check(ret.Samples[0].SampleID, check.Equals, "s1")
	c.Check(ret.Samples[0].MaskedFraction, check.Equals, 0.375)
	c.Check(ret.Samples[0].MQuartiles, check.DeepEquals, []float64{6.5, 9, 300})

	xf, err := excelize.OpenFile(tmpdir + "/qc.xlsx")
	c.Assert(err, check.IsNil)
	defer xf.Close()
	rows, err := xf.GetRows(xf.GetSheetName(0))
	c.Assert(err, check.IsNil)
	c.Assert(rows, check.HasLen, 3)
	c.Check(rows[0][0], check.Equals, "SampleID")
	c.Check(rows[0][10], check.Equals, "masked fraction")
	c.Check(rows[1][0], check.Equals, "s1")
	c.Check(rows[2][0], check.Equals, "s2")
}

func (s *qcSuite) TestMatCol(c *check.C) {
	// mat.Col view used in doQC reads columns, not rows.
	ds := poobahFixture()
	col := make([]float64, 8)
	mat.Col(col, 1, ds.M)
	c.Check(col, check.DeepEquals, []float64{100, 100, 100, 100, 100, 100, 100, 100})
}
