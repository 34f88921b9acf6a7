// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

// writeImportFixture writes the annotation and the four intensity
// tables for ds in the CSV form the import command reads.
func writeImportFixture(c *check.C, dir, prefix string, ds *RawDataset) (mfile, ufile, oobmfile, oobufile, annofile string) {
	annofile = fmt.Sprintf("%s/%s-anno.csv", dir, prefix)
	buf := "ID,Design,Color,Chromosome\n"
	for i, id := range ds.Anno.SiteIDs {
		buf += fmt.Sprintf("%s,%s,%s,%s\n", id, ds.Anno.Design[i], ds.Anno.Color[i], ds.Anno.Chromosome[i])
	}
	c.Assert(os.WriteFile(annofile, []byte(buf), 0666), check.IsNil)

	fnms := make([]string, 4)
	for k, table := range []struct {
		name string
		m    interface{ At(int, int) float64 }
	}{
		{"m", ds.M},
		{"u", ds.U},
		{"oobm", ds.M0},
		{"oobu", ds.U0},
	} {
		fnm := fmt.Sprintf("%s/%s-%s.csv", dir, prefix, table.name)
		buf := "ID," + strings.Join(ds.Samples, ",") + "\n"
		for i, id := range ds.Anno.SiteIDs {
			buf += id
			for j := range ds.Samples {
				buf += fmt.Sprintf(",%v", table.m.At(i, j))
			}
			buf += "\n"
		}
		c.Assert(os.WriteFile(fnm, []byte(buf), 0666), check.IsNil)
		fnms[k] = fnm
	}
	return fnms[0], fnms[1], fnms[2], fnms[3], annofile
}

func (s *pipelineSuite) TestImportMaskQC(c *check.C) {
	tmpdir := c.MkDir()
	mfile, ufile, oobmfile, oobufile, annofile := writeImportFixture(c, tmpdir, "in", poobahFixture())

	var wg sync.WaitGroup
	maskin, importout := io.Pipe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		code := (&importer{}).RunCommand("rnbeads import", []string{"-local=true",
			"-m", mfile,
			"-u", ufile,
			"-oob-m", oobmfile,
			"-oob-u", oobufile,
			"-anno", annofile,
		}, bytes.NewReader(nil), importout, os.Stderr)
		c.Check(code, check.Equals, 0)
		c.Check(importout.Close(), check.IsNil)
	}()
	qcin, maskout := io.Pipe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		code := (&maskcmd{}).RunCommand("rnbeads mask", []string{"-local=true", "-pval-thresh", "0.05"}, maskin, maskout, os.Stderr)
		c.Check(code, check.Equals, 0)
		c.Check(maskout.Close(), check.IsNil)
	}()
	qcout := &bytes.Buffer{}
	code := (&qc{}).RunCommand("rnbeads qc", []string{"-local=true"}, qcin, qcout, os.Stderr)
	c.Check(code, check.Equals, 0)
	wg.Wait()

	var ret struct {
		Platform string
		Sites    int
		Samples  []qcSampleStats
	}
	c.Assert(json.Unmarshal(qcout.Bytes(), &ret), check.IsNil, check.Commentf("%s", qcout.String()))
	c.Check(ret.Platform, check.Equals, "probes450")
	c.Check(ret.Sites, check.Equals, 8)
	c.Assert(ret.Samples, check.HasLen, 2)
	c.Check(ret.Samples[0].MaskedFraction, check.Equals, 0.375)
	c.Check(ret.Samples[1].MaskedFraction, check.Equals, 0.0)
}

func (s *pipelineSuite) TestImportMergeDump(c *check.C) {
	tmpdir := c.MkDir()
	dsfile := make([]string, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		ds := poobahFixture()
		if i == 1 {
			ds.Samples = []string{"s3", "s4"}
		}
		mfile, ufile, oobmfile, oobufile, annofile := writeImportFixture(c, tmpdir, fmt.Sprintf("in%d", i), ds)
		dsfile[i] = fmt.Sprintf("%s/%d.gob.gz", tmpdir, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			code := (&importer{}).RunCommand("rnbeads import", []string{"-local=true",
				"-o", dsfile[i],
				"-m", mfile,
				"-u", ufile,
				"-oob-m", oobmfile,
				"-oob-u", oobufile,
				"-anno", annofile,
			}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
			c.Check(code, check.Equals, 0)
		}()
	}
	wg.Wait()

	merged := &bytes.Buffer{}
	code := (&merger{}).RunCommand("rnbeads merge", []string{"-local", dsfile[0], dsfile[1]}, bytes.NewReader(nil), merged, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Logf("len(merged) %d", merged.Len())

	dumpout := &bytes.Buffer{}
	code = (&dump{}).RunCommand("rnbeads dump", []string{"-local=true", "-sites", "cg01,cg05"}, merged, dumpout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	lines := strings.Split(strings.TrimRight(dumpout.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 9)
	c.Check(lines[0], check.Equals, "site\tsample\tdesign\tcolor\tM\tU\tM0\tU0\tpval")
	c.Check(lines[1], check.Equals, "cg01\ts1\tI\tGrn\t500\t400\t5\t5\tNaN")
	c.Check(lines[2], check.Equals, "cg01\ts2\tI\tGrn\t100\t100\t1\t1\tNaN")
	c.Check(lines[3], check.Equals, "cg01\ts3\tI\tGrn\t500\t400\t5\t5\tNaN")
	c.Check(lines[5], check.Equals, "cg05\ts1\tII\t\t7\t8\t0\t0\tNaN")
}
