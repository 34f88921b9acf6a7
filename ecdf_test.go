// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"math"

	"gopkg.in/check.v1"
)

type ecdfSuite struct{}

var _ = check.Suite(&ecdfSuite{})

func (s *ecdfSuite) TestAt(c *check.C) {
	e := newECDF([]float64{40, 10, 30, 20})
	c.Check(e.Len(), check.Equals, 4)
	c.Check(e.At(5), check.Equals, 0.0)
	c.Check(e.At(10), check.Equals, 0.25)
	c.Check(e.At(15), check.Equals, 0.25)
	c.Check(e.At(20), check.Equals, 0.5)
	c.Check(e.At(39), check.Equals, 0.75)
	c.Check(e.At(40), check.Equals, 1.0)
	c.Check(e.At(1e9), check.Equals, 1.0)
	c.Check(e.Tail(10), check.Equals, 0.75)
	c.Check(e.Tail(40), check.Equals, 0.0)
}

func (s *ecdfSuite) TestTies(c *check.C) {
	e := newECDF([]float64{5, 5, 5, 5, 10, 10, 20, 20})
	c.Check(e.At(5), check.Equals, 0.5)
	c.Check(e.Tail(5), check.Equals, 0.5)
	c.Check(e.At(10), check.Equals, 0.75)
	c.Check(e.Tail(15), check.Equals, 0.25)
	c.Check(e.At(20), check.Equals, 1.0)
	c.Check(e.Tail(20), check.Equals, 0.0)
}

func (s *ecdfSuite) TestNaN(c *check.C) {
	e := newECDF([]float64{math.NaN(), 1, math.NaN(), 3})
	c.Check(e.Len(), check.Equals, 2)
	c.Check(e.At(2), check.Equals, 0.5)
	c.Check(math.IsNaN(e.At(math.NaN())), check.Equals, true)
	c.Check(math.IsNaN(e.Tail(math.NaN())), check.Equals, true)

	empty := newECDF([]float64{math.NaN()})
	c.Check(empty.Len(), check.Equals, 0)
	c.Check(math.IsNaN(empty.At(1)), check.Equals, true)
	c.Check(math.IsNaN(empty.Tail(1)), check.Equals, true)

	c.Check(newECDF(nil).Len(), check.Equals, 0)
}
