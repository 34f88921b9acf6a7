// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ecdf is the empirical distribution of a background intensity pool.
type ecdf struct {
	sorted []float64
}

// newECDF builds the distribution from the non-NaN values in pool.
func newECDF(pool []float64) *ecdf {
	sorted := make([]float64, 0, len(pool))
	for _, v := range pool {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)
	return &ecdf{sorted: sorted}
}

func (e *ecdf) Len() int {
	return len(e.sorted)
}

// At returns the fraction of pool values <= q (ties count). NaN if q
// is NaN or the pool is empty.
func (e *ecdf) At(q float64) float64 {
	if len(e.sorted) == 0 || math.IsNaN(q) {
		return math.NaN()
	}
	return stat.CDF(q, stat.Empirical, e.sorted, nil)
}

// Tail returns 1-At(q), the detection p-value of an in-band total q
// against this background.
func (e *ecdf) Tail(q float64) float64 {
	return 1 - e.At(q)
}
