// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strconv"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrDimensionMismatch   = errors.New("dimension mismatch")
	ErrEmptyDataset        = errors.New("empty dataset")
)

// DefaultPValueThreshold is the detection p-value above which a probe
// reading is considered indistinguishable from background.
const DefaultPValueThreshold = 0.05

// MaskOptions control MaskByDetectionPValue.
type MaskOptions struct {
	// Probe annotation overriding the dataset's own. nil (or
	// empty) means use the dataset's.
	Anno *Annotation
	// Probes with detection p-value strictly greater than
	// Threshold are masked. Callers must set this; the zero value
	// masks everything with p > 0.
	Threshold float64
	// Log the masking summary when done.
	Verbose bool
	// Number of samples to process concurrently. <1 means
	// GOMAXPROCS.
	Threads int
	// Channel partition strategy. nil means partition by the
	// annotation's Design and Color columns.
	Separator ChannelSeparator
}

// MaskSummary reports what one MaskByDetectionPValue call did.
type MaskSummary struct {
	Sites   int
	Samples int
	Cells   int
	Masked  int
}

// MaskedFraction returns the fraction of cells masked by the call.
func (s MaskSummary) MaskedFraction() float64 {
	if s.Cells == 0 {
		return 0
	}
	return float64(s.Masked) / float64(s.Cells)
}

func (s MaskSummary) String() string {
	return fmt.Sprintf("sites: %d, samples: %d, cells: %d, masked: %d (%.3f)", s.Sites, s.Samples, s.Cells, s.Masked, s.MaskedFraction())
}

// MaskByDetectionPValue computes per-cell detection p-values from each
// sample's out-of-band background and masks the cells whose p-value
// exceeds opts.Threshold. The dataset is modified in place: masked
// cells become NaN in M, U, M0, and U0, and PvalSites is replaced with
// the freshly computed p-values (NaN for design II probes and masked
// cells).
//
// Validation happens before any cell is touched; an error means the
// dataset is unmodified.
func MaskByDetectionPValue(ds *RawDataset, opts MaskOptions) (MaskSummary, error) {
	var summary MaskSummary
	if math.IsNaN(opts.Threshold) || opts.Threshold < 0 || opts.Threshold > 1 {
		return summary, fmt.Errorf("%w: p-value threshold %v outside [0,1]", ErrInvalidParameter, opts.Threshold)
	}
	if _, err := ParsePlatform(string(ds.Platform)); err != nil {
		return summary, err
	}
	anno := opts.Anno
	if anno == nil || anno.Len() == 0 {
		anno = ds.Anno
	}
	nsites, nsamples := ds.Dims()
	if err := checkAnnotation(anno, nsites); err != nil {
		return summary, err
	}
	sep := opts.Separator
	if sep == nil {
		sep = annotationSeparator{}
	}
	ps, err := sep.Separate(anno)
	if err != nil {
		return summary, err
	}
	if err := checkChannels(anno, ps); err != nil {
		return summary, err
	}
	if nsamples == 0 {
		return summary, fmt.Errorf("%w: no samples", ErrEmptyDataset)
	}

	threads := opts.Threads
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	pvals := nanMatrix(nsites, nsamples)
	masked := make([]int, nsamples)
	throttleCPU := throttle{Max: threads}
	for sampleIdx := range ds.Samples {
		sampleIdx := sampleIdx
		throttleCPU.Go(func() error {
			masked[sampleIdx] = maskSample(ds, ps, pvals, sampleIdx, opts.Threshold)
			return nil
		})
	}
	if err := throttleCPU.Wait(); err != nil {
		return summary, err
	}
	ds.PvalSites = pvals

	summary = MaskSummary{Sites: nsites, Samples: nsamples, Cells: nsites * nsamples}
	for _, n := range masked {
		summary.Masked += n
	}
	if opts.Verbose {
		log.Printf("%s", summary)
	}
	return summary, nil
}

// maskSample computes and applies detection p-values for one sample
// column, returning the number of cells masked. Writes touch only
// column s, so samples can run concurrently.
func maskSample(ds *RawDataset, ps *ProbeSet, pvals *mat.Dense, s int, threshold float64) int {
	pool := make([]float64, 0, len(ps.Grn.OOB))
	for _, i := range ps.Grn.OOB {
		pool = append(pool, ds.M0.At(i, s)+ds.U0.At(i, s))
	}
	bgGrn := newECDF(pool)
	pool = make([]float64, 0, len(ps.Red.OOB))
	for _, i := range ps.Red.OOB {
		pool = append(pool, ds.M0.At(i, s)+ds.U0.At(i, s))
	}
	bgRed := newECDF(pool)
	if bgGrn.Len() == 0 && len(ps.Grn.InBand) > 0 {
		log.Warnf("sample %s: green background pool is empty, %d green probes get no detection p-value", ds.Samples[s], len(ps.Grn.InBand))
	}
	if bgRed.Len() == 0 && len(ps.Red.InBand) > 0 {
		log.Warnf("sample %s: red background pool is empty, %d red probes get no detection p-value", ds.Samples[s], len(ps.Red.InBand))
	}
	for _, i := range ps.Grn.InBand {
		pvals.Set(i, s, bgGrn.Tail(ds.M.At(i, s)+ds.U.At(i, s)))
	}
	for _, i := range ps.Red.InBand {
		pvals.Set(i, s, bgRed.Tail(ds.M.At(i, s)+ds.U.At(i, s)))
	}
	masked := 0
	nan := math.NaN()
	for _, inband := range [][]int{ps.Grn.InBand, ps.Red.InBand} {
		for _, i := range inband {
			// NaN compares false, so a missing p-value never
			// masks.
			if p := pvals.At(i, s); p > threshold {
				ds.M.Set(i, s, nan)
				ds.U.Set(i, s, nan)
				ds.M0.Set(i, s, nan)
				ds.U0.Set(i, s, nan)
				pvals.Set(i, s, nan)
				masked++
			}
		}
	}
	return masked
}

type maskcmd struct{}

func (cmd *maskcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	pprofdir := flags.String("pprof-dir", "", "write Go profile data to `directory` periodically")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	inputFilename := flags.String("i", "-", "input dataset `file`")
	outputFilename := flags.String("o", "-", "output dataset `file`")
	annoFilename := flags.String("anno", "", "probe annotation `csv` overriding the dataset's own")
	threshold := flags.Float64("pval-thresh", DefaultPValueThreshold, "detection p-value threshold, probes above it are masked")
	threads := flags.Int("threads", runtime.GOMAXPROCS(0), "number of samples to process concurrently")
	verbose := flags.Bool("verbose", false, "log the masking summary")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *annoFilename != "" {
		if _, numerr := strconv.ParseFloat(*annoFilename, 64); numerr == nil {
			err = fmt.Errorf("%w: -anno=%q is a number; did you mean -pval-thresh?", ErrInvalidParameter, *annoFilename)
			return 2
		}
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}
	if *pprofdir != "" {
		go writeProfilesPeriodically(*pprofdir)
	}

	if !*runlocal {
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "rnbeads mask",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         64000000000,
			VCPUs:       16,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename, annoFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"mask", "-local=true",
			"-pprof", ":6060",
			"-i", *inputFilename,
			"-o", "/mnt/output/dataset.gob.gz",
			"-anno", *annoFilename,
			"-pval-thresh", fmt.Sprintf("%g", *threshold),
			"-threads", fmt.Sprintf("%d", *threads),
			fmt.Sprintf("-verbose=%v", *verbose),
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/dataset.gob.gz")
		return 0
	}

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = open(*inputFilename)
		if err != nil {
			return 1
		}
		defer input.Close()
	}
	var ds *RawDataset
	ds, err = loadDataset(input, strings.HasSuffix(*inputFilename, ".gz"))
	if err != nil {
		return 1
	}
	err = input.Close()
	if err != nil {
		return 1
	}

	opts := MaskOptions{
		Threshold: *threshold,
		Verbose:   *verbose,
		Threads:   *threads,
	}
	if *annoFilename != "" {
		opts.Anno, err = loadAnnotation(*annoFilename)
		if err != nil {
			return 1
		}
	}
	var summary MaskSummary
	summary, err = MaskByDetectionPValue(ds, opts)
	if err != nil {
		return 1
	}
	log.Printf("masked %d of %d cells", summary.Masked, summary.Cells)

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	err = ds.encode(output, strings.HasSuffix(*outputFilename, ".gz"))
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
