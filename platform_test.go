// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bytes"
	"errors"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type platformSuite struct{}

var _ = check.Suite(&platformSuite{})

func (s *platformSuite) TestParsePlatform(c *check.C) {
	for _, tag := range []string{"probes27", "probes450", "probesEPIC", "probesEPICv2"} {
		p, err := ParsePlatform(tag)
		c.Check(err, check.IsNil)
		c.Check(string(p), check.Equals, tag)
	}
	_, err := ParsePlatform("probes9000")
	c.Check(errors.Is(err, ErrUnsupportedPlatform), check.Equals, true)
	_, err = ParsePlatform("")
	c.Check(errors.Is(err, ErrUnsupportedPlatform), check.Equals, true)
}

func (s *platformSuite) TestControlTargets(c *check.C) {
	targets, err := ControlTargets(Probes27)
	c.Assert(err, check.IsNil)
	c.Check(targets, check.HasLen, 8)
	c.Check(targets[0], check.Equals, "Bisulfite conversion")
	c.Check(targets[7], check.Equals, "Target Removal")

	targets, err = ControlTargets(Probes450)
	c.Assert(err, check.IsNil)
	c.Check(targets, check.HasLen, 14)
	c.Check(targets[13], check.Equals, "TARGET REMOVAL")

	// EPIC arrays have a restoration control and no target removal
	// control.
	targets, err = ControlTargets(ProbesEPIC)
	c.Assert(err, check.IsNil)
	c.Check(targets, check.HasLen, 14)
	c.Check(targets[10], check.Equals, "RESTORATION")
	for _, target := range targets {
		c.Check(target == "TARGET REMOVAL", check.Equals, false)
	}

	// Callers get a copy, not the package's own list.
	targets[0] = "clobbered"
	again, err := ControlTargets(ProbesEPIC)
	c.Assert(err, check.IsNil)
	c.Check(again[0], check.Equals, "BISULFITE CONVERSION I")

	_, err = ControlTargets(Platform("probes9000"))
	c.Check(errors.Is(err, ErrUnsupportedPlatform), check.Equals, true)
}

func (s *platformSuite) TestControlTargetsCommand(c *check.C) {
	var stdout bytes.Buffer
	code := (&controlTargets{}).RunCommand("rnbeads control-targets", []string{"-platform", "probesEPICv2"}, bytes.NewReader(nil), &stdout, os.Stderr)
	c.Check(code, check.Equals, 0)
	c.Check(strings.Count(stdout.String(), "\n"), check.Equals, 14)
	c.Check(stdout.String(), check.Matches, `(?ms)BISULFITE CONVERSION I\n.*RESTORATION\n.*STAINING\n`)

	stdout.Reset()
	var stderr bytes.Buffer
	code = (&controlTargets{}).RunCommand("rnbeads control-targets", []string{"-platform", "probes9000"}, bytes.NewReader(nil), &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*unsupported platform.*`)
}
