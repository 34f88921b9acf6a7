// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type importSuite struct{}

var _ = check.Suite(&importSuite{})

func (s *importSuite) TestLoadIntensityTable(c *check.C) {
	anno := &Annotation{
		SiteIDs: []string{"cg01", "cg02"},
		Design:  []string{"II", "II"},
		Color:   []string{"", ""},
	}
	fnm := c.MkDir() + "/m.csv"
	c.Assert(os.WriteFile(fnm, []byte("ID,s1,s2\ncg01,1.5,NA\r\ncg02,,100\n"), 0666), check.IsNil)
	samples, m, err := loadIntensityTable(fnm, anno)
	c.Assert(err, check.IsNil)
	c.Check(samples, check.DeepEquals, []string{"s1", "s2"})
	c.Check(m.At(0, 0), check.Equals, 1.5)
	c.Check(math.IsNaN(m.At(0, 1)), check.Equals, true)
	c.Check(math.IsNaN(m.At(1, 0)), check.Equals, true)
	c.Check(m.At(1, 1), check.Equals, 100.0)
}

func (s *importSuite) TestLoadIntensityTableErrors(c *check.C) {
	anno := &Annotation{
		SiteIDs: []string{"cg01", "cg02"},
		Design:  []string{"II", "II"},
		Color:   []string{"", ""},
	}
	tmpdir := c.MkDir()
	for i, trial := range []struct {
		csv       string
		errRegexp string
	}{
		{"cg01,1.5\ncg02,2.5\n", `.*header does not look like .*`},
		{"ID\ncg01\ncg02\n", `empty dataset: no sample columns in .*`},
		{"ID,s1\ncg02,5\ncg01,6\n", `.*line 2: probe "cg02" where annotation has "cg01"`},
		{"ID,s1\ncg01,abc\ncg02,6\n", `.*line 2: .*parsing "abc".*`},
		{"ID,s1,s2\ncg01,5\ncg02,6,7\n", `dimension mismatch: .*line 2 has 2 fields, want 3`},
		{"ID,s1\ncg01,5\n", `dimension mismatch: .*has 1 probe rows, annotation has 2`},
		{"ID,s1\ncg01,5\ncg02,6\ncg03,7\n", `dimension mismatch: .*has more probe rows than the annotation \(2\)`},
	} {
		fnm := fmt.Sprintf("%s/table%d.csv", tmpdir, i)
		c.Assert(os.WriteFile(fnm, []byte(trial.csv), 0666), check.IsNil)
		_, _, err := loadIntensityTable(fnm, anno)
		c.Check(err, check.ErrorMatches, trial.errRegexp, check.Commentf("trial %d: %q", i, trial.csv))
	}
}

func (s *importSuite) TestImportSharded(c *check.C) {
	tmpdir := c.MkDir()
	mfile, ufile, oobmfile, oobufile, annofile := writeImportFixture(c, tmpdir, "in", poobahFixture())
	outfile := tmpdir + "/ds.gob.gz"
	code := (&importer{}).RunCommand("rnbeads import", []string{"-local=true",
		"-shard-samples", "1",
		"-o", outfile,
		"-m", mfile,
		"-u", ufile,
		"-oob-m", oobmfile,
		"-oob-u", oobufile,
		"-anno", annofile,
	}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	raw, err := os.ReadFile(outfile)
	c.Assert(err, check.IsNil)
	n := 0
	c.Assert(DecodeDataset(bytes.NewReader(raw), true, func(ent *DatasetEntry) error {
		n++
		c.Check(ent.Samples, check.HasLen, 1)
		return nil
	}), check.IsNil)
	c.Check(n, check.Equals, 2)

	loaded, err := loadDataset(bytes.NewReader(raw), true)
	c.Assert(err, check.IsNil)
	c.Check(loaded.Samples, check.DeepEquals, []string{"s1", "s2"})
	c.Check(loaded.M.At(0, 0), check.Equals, 500.0)
	c.Check(loaded.M.At(0, 1), check.Equals, 100.0)
	c.Check(loaded.U0.At(3, 1), check.Equals, 4.0)
}

func (s *importSuite) TestImportRejectsSwappedRows(c *check.C) {
	tmpdir := c.MkDir()
	mfile, ufile, oobmfile, oobufile, annofile := writeImportFixture(c, tmpdir, "in", poobahFixture())
	raw, err := os.ReadFile(mfile)
	c.Assert(err, check.IsNil)
	lines := strings.SplitAfter(string(raw), "\n")
	lines[1], lines[2] = lines[2], lines[1]
	c.Assert(os.WriteFile(mfile, []byte(strings.Join(lines, "")), 0666), check.IsNil)

	var stderr bytes.Buffer
	code := (&importer{}).RunCommand("rnbeads import", []string{"-local=true",
		"-m", mfile,
		"-u", ufile,
		"-oob-m", oobmfile,
		"-oob-u", oobufile,
		"-anno", annofile,
	}, bytes.NewReader(nil), &bytes.Buffer{}, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*probe "cg02" where annotation has "cg01".*`)
}

func (s *importSuite) TestImportMissingFlags(c *check.C) {
	var stderr bytes.Buffer
	code := (&importer{}).RunCommand("rnbeads import", []string{"-local=true", "-m", "m.csv"}, bytes.NewReader(nil), &bytes.Buffer{}, &stderr)
	c.Check(code, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?ms).*must provide -m, -u, -oob-m, -oob-u, and -anno.*`)
}
