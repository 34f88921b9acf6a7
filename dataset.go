// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// DatasetEntry is one segment of a dataset stream. A stream is a gob
// sequence of entries; entries concatenate by sample columns, so every
// entry in a stream must carry the same Platform, SiteIDs, Design, and
// Color.
//
// Intensity slices are row-major probes x samples. NaN means missing.
// PvalSites is empty until detection p-values have been computed.
type DatasetEntry struct {
	Platform   string
	SiteIDs    []string
	Design     []string
	Color      []string
	Chromosome []string
	Samples    []string
	M          []float64
	U          []float64
	M0         []float64
	U0         []float64
	PvalSites  []float64
}

// RawDataset is an in-memory methylation dataset: annotation plus the
// four intensity matrices (in-band M/U, out-of-band M0/U0) and,
// optionally, per-cell detection p-values. Matrices are probes x
// samples. PvalSites == nil means no p-values have been computed yet.
type RawDataset struct {
	Platform  Platform
	Anno      *Annotation
	Samples   []string
	M         *mat.Dense
	U         *mat.Dense
	M0        *mat.Dense
	U0        *mat.Dense
	PvalSites *mat.Dense
}

// Dims returns the probe and sample counts.
func (ds *RawDataset) Dims() (nsites, nsamples int) {
	return ds.Anno.Len(), len(ds.Samples)
}

// DetectionPvals returns the detection p-value matrix, materializing
// an all-NaN matrix if none has been computed.
func (ds *RawDataset) DetectionPvals() *mat.Dense {
	if ds.PvalSites == nil {
		nsites, nsamples := ds.Dims()
		ds.PvalSites = nanMatrix(nsites, nsamples)
	}
	return ds.PvalSites
}

// Betas returns beta values M/(M+U+100), NaN wherever M or U is
// missing.
func (ds *RawDataset) Betas() *mat.Dense {
	nsites, nsamples := ds.Dims()
	out := mat.NewDense(nsites, nsamples, nil)
	for i := 0; i < nsites; i++ {
		for j := 0; j < nsamples; j++ {
			m, u := ds.M.At(i, j), ds.U.At(i, j)
			out.Set(i, j, m/(m+u+100))
		}
	}
	return out
}

// SelectSites returns a new dataset containing only the probes whose
// row indices appear in keep, in the given order. Matrices are copied.
func (ds *RawDataset) SelectSites(keep []int) *RawDataset {
	_, nsamples := ds.Dims()
	pick := func(src *mat.Dense) *mat.Dense {
		if src == nil || len(keep) == 0 {
			return nil
		}
		out := mat.NewDense(len(keep), nsamples, nil)
		for i, r := range keep {
			out.SetRow(i, src.RawRowView(r))
		}
		return out
	}
	pickstr := func(src []string) []string {
		if len(src) == 0 {
			return nil
		}
		out := make([]string, len(keep))
		for i, r := range keep {
			out[i] = src[r]
		}
		return out
	}
	return &RawDataset{
		Platform: ds.Platform,
		Anno: &Annotation{
			SiteIDs:    pickstr(ds.Anno.SiteIDs),
			Design:     pickstr(ds.Anno.Design),
			Color:      pickstr(ds.Anno.Color),
			Chromosome: pickstr(ds.Anno.Chromosome),
		},
		Samples:   ds.Samples,
		M:         pick(ds.M),
		U:         pick(ds.U),
		M0:        pick(ds.M0),
		U0:        pick(ds.U0),
		PvalSites: pick(ds.PvalSites),
	}
}

// Entry flattens the dataset into a single stream entry. Matrix
// backing arrays are shared where possible, not copied.
func (ds *RawDataset) Entry() *DatasetEntry {
	ent := &DatasetEntry{
		Platform:   string(ds.Platform),
		SiteIDs:    ds.Anno.SiteIDs,
		Design:     ds.Anno.Design,
		Color:      ds.Anno.Color,
		Chromosome: ds.Anno.Chromosome,
		Samples:    ds.Samples,
		M:          flatFloats(ds.M),
		U:          flatFloats(ds.U),
		M0:         flatFloats(ds.M0),
		U0:         flatFloats(ds.U0),
	}
	if ds.PvalSites != nil {
		ent.PvalSites = flatFloats(ds.PvalSites)
	}
	return ent
}

func (ds *RawDataset) encode(w io.Writer, gz bool) error {
	return ds.encodeShards(w, gz, 0)
}

// encodeShards writes the dataset as a stream of entries covering at
// most chunk sample columns each. chunk <= 0 writes a single entry.
func (ds *RawDataset) encodeShards(w io.Writer, gz bool, chunk int) error {
	bufw := bufio.NewWriterSize(w, 1<<26)
	var zw io.WriteCloser
	var enc *gob.Encoder
	if gz {
		zw = pgzip.NewWriter(bufw)
		enc = gob.NewEncoder(zw)
	} else {
		enc = gob.NewEncoder(bufw)
	}
	nsamples := len(ds.Samples)
	if chunk <= 0 || chunk > nsamples {
		chunk = nsamples
	}
	for j := 0; ; j += chunk {
		end := j + chunk
		if end > nsamples {
			end = nsamples
		}
		err := enc.Encode(ds.entryColumns(j, end))
		if err != nil {
			return err
		}
		if end >= nsamples {
			break
		}
	}
	if zw != nil {
		err := zw.Close()
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}

// entryColumns flattens sample columns [j0,j1) into a stream entry.
func (ds *RawDataset) entryColumns(j0, j1 int) *DatasetEntry {
	nsites := ds.Anno.Len()
	sliceCols := func(src *mat.Dense) []float64 {
		if src == nil {
			return nil
		}
		if j0 == 0 && j1 == len(ds.Samples) {
			return flatFloats(src)
		}
		return flatFloats(src.Slice(0, nsites, j0, j1).(*mat.Dense))
	}
	ent := &DatasetEntry{
		Platform:   string(ds.Platform),
		SiteIDs:    ds.Anno.SiteIDs,
		Design:     ds.Anno.Design,
		Color:      ds.Anno.Color,
		Chromosome: ds.Anno.Chromosome,
		Samples:    ds.Samples[j0:j1],
		M:          sliceCols(ds.M),
		U:          sliceCols(ds.U),
		M0:         sliceCols(ds.M0),
		U0:         sliceCols(ds.U0),
		PvalSites:  sliceCols(ds.PvalSites),
	}
	return ent
}

// DecodeDataset reads a dataset stream, calling fn for each entry. A
// stream that does not decode as DatasetEntry values is reported as a
// TypeMismatch error.
func DecodeDataset(rdr io.Reader, gz bool, fn func(*DatasetEntry) error) error {
	zr := rdr
	if gz {
		var err error
		zr, err = pgzip.NewReader(bufio.NewReaderSize(rdr, 1<<26))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrTypeMismatch, err)
		}
	}
	dec := gob.NewDecoder(bufio.NewReaderSize(zr, 1<<26))
	for n := 0; ; n++ {
		var ent DatasetEntry
		err := dec.Decode(&ent)
		if err == io.EOF {
			if n == 0 {
				return fmt.Errorf("%w: empty dataset stream", ErrTypeMismatch)
			}
			return nil
		} else if err != nil {
			return fmt.Errorf("%w: decoding entry %d: %s", ErrTypeMismatch, n, err)
		}
		err = checkEntry(&ent)
		if err != nil {
			return fmt.Errorf("entry %d: %w", n, err)
		}
		err = fn(&ent)
		if err != nil {
			return err
		}
	}
}

func checkEntry(ent *DatasetEntry) error {
	nsites := len(ent.SiteIDs)
	if nsites == 0 {
		return fmt.Errorf("%w: entry has no probes", ErrTypeMismatch)
	}
	if _, err := ParsePlatform(ent.Platform); err != nil {
		return err
	}
	if len(ent.Design) != nsites || len(ent.Color) != nsites {
		return fmt.Errorf("%w: %d probes, %d design, %d color", ErrTypeMismatch, nsites, len(ent.Design), len(ent.Color))
	}
	if len(ent.Chromosome) != 0 && len(ent.Chromosome) != nsites {
		return fmt.Errorf("%w: %d probes, %d chromosome", ErrTypeMismatch, nsites, len(ent.Chromosome))
	}
	ncells := nsites * len(ent.Samples)
	for _, m := range []struct {
		label string
		data  []float64
	}{{"M", ent.M}, {"U", ent.U}, {"M0", ent.M0}, {"U0", ent.U0}} {
		if len(m.data) != ncells {
			return fmt.Errorf("%w: matrix %s has %d cells, want %d", ErrTypeMismatch, m.label, len(m.data), ncells)
		}
	}
	return nil
}

// loadDataset accumulates a whole dataset stream into memory,
// concatenating entries by sample columns.
func loadDataset(rdr io.Reader, gz bool) (*RawDataset, error) {
	var entries []*DatasetEntry
	err := DecodeDataset(rdr, gz, func(ent *DatasetEntry) error {
		if len(entries) > 0 {
			first := entries[0]
			if ent.Platform != first.Platform {
				return fmt.Errorf("%w: entry platform %q != %q", ErrTypeMismatch, ent.Platform, first.Platform)
			}
			if err := sameStrings("entries disagree on site IDs", first.SiteIDs, ent.SiteIDs); err != nil {
				return err
			}
			if err := sameStrings("entries disagree on design", first.Design, ent.Design); err != nil {
				return err
			}
			if err := sameStrings("entries disagree on color", first.Color, ent.Color); err != nil {
				return err
			}
		}
		entries = append(entries, ent)
		return nil
	})
	if err != nil {
		return nil, err
	}
	first := entries[0]
	nsites := len(first.SiteIDs)
	nsamples := 0
	for _, ent := range entries {
		nsamples += len(ent.Samples)
	}
	if nsamples == 0 {
		return nil, fmt.Errorf("%w: dataset stream has no samples", ErrEmptyDataset)
	}
	ds := &RawDataset{
		Platform: Platform(first.Platform),
		Anno: &Annotation{
			SiteIDs:    first.SiteIDs,
			Design:     first.Design,
			Color:      first.Color,
			Chromosome: first.Chromosome,
		},
		Samples: make([]string, 0, nsamples),
		M:       mat.NewDense(nsites, nsamples, nil),
		U:       mat.NewDense(nsites, nsamples, nil),
		M0:      mat.NewDense(nsites, nsamples, nil),
		U0:      mat.NewDense(nsites, nsamples, nil),
	}
	havePvals := true
	for _, ent := range entries {
		if len(ent.PvalSites) != nsites*len(ent.Samples) {
			if len(ent.PvalSites) != 0 {
				log.Warnf("dataset: entry p-value slot has %d cells, want %d; resetting p-values", len(ent.PvalSites), nsites*len(ent.Samples))
			}
			havePvals = false
		}
	}
	if havePvals {
		ds.PvalSites = nanMatrix(nsites, nsamples)
	}
	col := 0
	for _, ent := range entries {
		ncols := len(ent.Samples)
		ds.Samples = append(ds.Samples, ent.Samples...)
		for i := 0; i < nsites; i++ {
			copy(ds.M.RawRowView(i)[col:col+ncols], ent.M[i*ncols:(i+1)*ncols])
			copy(ds.U.RawRowView(i)[col:col+ncols], ent.U[i*ncols:(i+1)*ncols])
			copy(ds.M0.RawRowView(i)[col:col+ncols], ent.M0[i*ncols:(i+1)*ncols])
			copy(ds.U0.RawRowView(i)[col:col+ncols], ent.U0[i*ncols:(i+1)*ncols])
			if havePvals {
				copy(ds.PvalSites.RawRowView(i)[col:col+ncols], ent.PvalSites[i*ncols:(i+1)*ncols])
			}
		}
		col += ncols
	}
	return ds, nil
}

func sameStrings(label string, a, b []string) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %s (%d != %d)", ErrDimensionMismatch, label, len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("%w: %s at row %d (%q != %q)", ErrDimensionMismatch, label, i, a[i], b[i])
		}
	}
	return nil
}

func flatFloats(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data
	}
	out := make([]float64, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		copy(out[i*raw.Cols:(i+1)*raw.Cols], raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols])
	}
	return out
}

func nanMatrix(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = math.NaN()
	}
	return mat.NewDense(rows, cols, data)
}

var matchGobFile = regexp.MustCompile(`\.gob(\.gz)?$`)

// allFiles returns the files in path (a file, or a directory to walk
// recursively) whose names match re. A nil re matches everything.
func allFiles(path string, re *regexp.Regexp) ([]string, error) {
	var files []string
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fis, err := f.Readdir(-1)
	if err != nil {
		return []string{path}, nil
	}
	for _, fi := range fis {
		if fi.Name() == "." || fi.Name() == ".." {
			continue
		} else if fi.IsDir() {
			subfiles, err := allFiles(path+"/"+fi.Name(), re)
			if err != nil {
				return nil, err
			}
			files = append(files, subfiles...)
		} else if re == nil || re.MatchString(fi.Name()) {
			files = append(files, path+"/"+fi.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
