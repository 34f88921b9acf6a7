// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"fmt"
	"os"

	"gopkg.in/check.v1"
)

type samplesSuite struct{}

var _ = check.Suite(&samplesSuite{})

func (s *samplesSuite) TestLoadSampleInfo(c *check.C) {
	tmpdir := c.MkDir()
	fnm := tmpdir + "/samples.csv"
	c.Assert(os.WriteFile(fnm, []byte(`Index,SampleID,CaseControl,TrainingValidation
0,sample1,1,1
1,sample2,0,1
2,sample3,,0
3,sample4,0,0
`), 0644), check.IsNil)
	si, err := loadSampleInfo(fnm)
	c.Assert(err, check.IsNil)
	c.Assert(si, check.HasLen, 4)
	c.Check(si[0].id, check.Equals, "sample1")
	c.Check(si[0].isCase, check.Equals, true)
	c.Check(si[0].isControl, check.Equals, false)
	c.Check(si[0].isTraining, check.Equals, true)
	c.Check(si[0].isValidation, check.Equals, false)
	c.Check(si[1].isControl, check.Equals, true)
	// sample3 has no case/control label, which also suppresses the
	// validation flag on its 0 in the last column.
	c.Check(si[2].isCase, check.Equals, false)
	c.Check(si[2].isControl, check.Equals, false)
	c.Check(si[2].isValidation, check.Equals, false)
	c.Check(si[3].isValidation, check.Equals, true)
	c.Check(si[0].pcaComponents, check.HasLen, 0)
}

func (s *samplesSuite) TestCovariateColumns(c *check.C) {
	tmpdir := c.MkDir()
	fnm := tmpdir + "/samples.csv"
	c.Assert(os.WriteFile(fnm, []byte(`Index,SampleID,CaseControl,TrainingValidation,PCA0,PCA1
0,sample1,1,1,0.25,-1.5
1,sample2,0,1,-0.25,2.5
`), 0644), check.IsNil)
	si, err := loadSampleInfo(fnm)
	c.Assert(err, check.IsNil)
	c.Assert(si, check.HasLen, 2)
	c.Check(si[0].pcaComponents, check.DeepEquals, []float64{0.25, -1.5})
	c.Check(si[1].pcaComponents, check.DeepEquals, []float64{-0.25, 2.5})
}

func (s *samplesSuite) TestLoadSampleInfoErrors(c *check.C) {
	tmpdir := c.MkDir()
	for i, tc := range []struct {
		buf   string
		match string
	}{
		{"Index;SampleID\n", `1 fields < 4 in .*`},
		{"bogus,header,line,here\n", `header does not look right: .*`},
		{"Index,SampleID,CaseControl,TrainingValidation\n5,sample1,1,1\n", `.* index 5 out of order`},
		{"Index,SampleID,CaseControl,TrainingValidation\n0,sample1,1,1,zzz\n", `.* cannot parse float "zzz": .*`},
	} {
		fnm := fmt.Sprintf("%s/samples%d.csv", tmpdir, i)
		c.Assert(os.WriteFile(fnm, []byte(tc.buf), 0644), check.IsNil)
		_, err := loadSampleInfo(fnm)
		c.Check(err, check.ErrorMatches, tc.match, check.Commentf("case %d", i))
	}
}

func (s *samplesSuite) TestAlignSampleInfo(c *check.C) {
	si := []sampleInfo{{id: "a"}, {id: "b"}, {id: "c"}}
	out, err := alignSampleInfo(si, []string{"c", "a", "b"})
	c.Assert(err, check.IsNil)
	c.Check(out[0].id, check.Equals, "c")
	c.Check(out[1].id, check.Equals, "a")
	c.Check(out[2].id, check.Equals, "b")

	_, err = alignSampleInfo(si, []string{"a", "zzz"})
	c.Check(err, check.ErrorMatches, `dataset sample "zzz" does not appear in sample info`)

	_, err = alignSampleInfo([]sampleInfo{{id: "a"}, {id: "a"}}, []string{"a"})
	c.Check(err, check.ErrorMatches, `duplicate sample ID "a" in sample info`)
}

func (s *samplesSuite) TestWriteSampleInfo(c *check.C) {
	tmpdir := c.MkDir()
	in := []sampleInfo{
		{id: "sample1", isCase: true, isTraining: true, pcaComponents: []float64{0.5, -0.25}},
		{id: "sample2", isControl: true, isValidation: true, pcaComponents: []float64{-0.5, 0.125}},
	}
	c.Assert(writeSampleInfo(in, tmpdir), check.IsNil)
	buf, err := os.ReadFile(tmpdir + "/samples.csv")
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, `Index,SampleID,CaseControl,TrainingValidation,PCA0,PCA1
0,sample1,1,1,0.500000,-0.250000
1,sample2,0,0,-0.500000,0.125000
`)

	out, err := loadSampleInfo(tmpdir + "/samples.csv")
	c.Assert(err, check.IsNil)
	c.Assert(out, check.HasLen, 2)
	c.Check(out[0].id, check.Equals, "sample1")
	c.Check(out[0].isCase, check.Equals, true)
	c.Check(out[0].pcaComponents, check.DeepEquals, []float64{0.5, -0.25})
	c.Check(out[1].isControl, check.Equals, true)
	c.Check(out[1].isValidation, check.Equals, true)
}
