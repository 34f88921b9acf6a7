// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// siteFilter holds site-level filtering criteria.
type siteFilter struct {
	MaxMissing      float64
	MinSD           float64
	SitesFilename   string
	ExcludeFilename string
}

func (f *siteFilter) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&f.MaxMissing, "max-missing", 1, "drop sites whose fraction of missing values exceeds `P`")
	flags.Float64Var(&f.MinSD, "min-sd", 0, "drop sites whose beta standard deviation is below `SD`")
	flags.StringVar(&f.SitesFilename, "sites", "", "keep only probe IDs listed in `file`")
	flags.StringVar(&f.ExcludeFilename, "exclude-sites", "", "drop probe IDs listed in `file`")
}

// Apply returns the row indices that survive the filter, in dataset
// order.
func (f *siteFilter) Apply(ds *RawDataset) ([]int, error) {
	nsites, nsamples := ds.Dims()
	keep := make([]bool, nsites)
	for i := range keep {
		keep[i] = true
	}
	if f.SitesFilename != "" {
		want, err := loadSiteList(f.SitesFilename)
		if err != nil {
			return nil, err
		}
		for i, id := range ds.Anno.SiteIDs {
			if !want[id] {
				keep[i] = false
			}
		}
	}
	if f.ExcludeFilename != "" {
		drop, err := loadSiteList(f.ExcludeFilename)
		if err != nil {
			return nil, err
		}
		for i, id := range ds.Anno.SiteIDs {
			if drop[id] {
				keep[i] = false
			}
		}
	}
	if f.MaxMissing < 1 {
		for i := 0; i < nsites; i++ {
			missing := 0
			for _, v := range ds.M.RawRowView(i) {
				if math.IsNaN(v) {
					missing++
				}
			}
			if float64(missing)/float64(nsamples) > f.MaxMissing {
				keep[i] = false
			}
		}
	}
	if f.MinSD > 0 {
		betas := ds.Betas()
		for i := 0; i < nsites; i++ {
			if !keep[i] {
				continue
			}
			_, sd := stat.MeanStdDev(dropNaN(betas.RawRowView(i)), nil)
			// NaN sd (fewer than two usable values) drops the
			// site too.
			if !(sd >= f.MinSD) {
				keep[i] = false
			}
		}
	}
	var idx []int
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// loadSiteList reads probe IDs, one per line; a CSV first column works
// too, and an "ID" header line is skipped.
func loadSiteList(filename string) (map[string]bool, error) {
	f, err := zopen(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{}
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		id := strings.Split(strings.TrimSuffix(string(line), "\r"), ",")[0]
		if id == "" || id == "ID" {
			continue
		}
		ids[id] = true
	}
	return ids, nil
}

type filtercmd struct {
	output io.Writer
	siteFilter
}

func (cmd *filtercmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	inputFilename := flags.String("i", "-", "input dataset `file`")
	outputFilename := flags.String("o", "-", "output dataset `file`")
	cmd.siteFilter.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	cmd.output = stdout

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "rnbeads filter",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         64000000000,
			VCPUs:       2,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename, &cmd.SitesFilename, &cmd.ExcludeFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"filter", "-local=true",
			"-i", *inputFilename,
			"-o", "/mnt/output/dataset.gob.gz",
			"-max-missing", fmt.Sprintf("%f", cmd.MaxMissing),
			"-min-sd", fmt.Sprintf("%f", cmd.MinSD),
			"-sites", cmd.SitesFilename,
			"-exclude-sites", cmd.ExcludeFilename,
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/dataset.gob.gz")
		return 0
	}

	var infile io.ReadCloser
	if *inputFilename == "-" {
		infile = io.NopCloser(stdin)
	} else {
		infile, err = open(*inputFilename)
		if err != nil {
			return 1
		}
		defer infile.Close()
	}
	log.Print("reading")
	ds, err := loadDataset(infile, strings.HasSuffix(*inputFilename, ".gz"))
	if err != nil {
		return 1
	}
	err = infile.Close()
	if err != nil {
		return 1
	}
	nsites, nsamples := ds.Dims()
	log.Printf("reading done, %d probes x %d samples", nsites, nsamples)

	log.Print("filtering")
	idx, err := cmd.siteFilter.Apply(ds)
	if err != nil {
		return 1
	}
	if len(idx) == 0 {
		err = fmt.Errorf("%w: no sites pass the filter", ErrEmptyDataset)
		return 1
	}
	ds = ds.SelectSites(idx)
	log.Printf("filtering done, %d of %d sites kept", len(idx), nsites)

	var outfile io.WriteCloser
	if *outputFilename == "-" {
		outfile = nopCloser{cmd.output}
	} else {
		outfile, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer outfile.Close()
	}
	log.Print("writing")
	err = ds.encode(outfile, strings.HasSuffix(*outputFilename, ".gz"))
	if err != nil {
		return 1
	}
	err = outfile.Close()
	if err != nil {
		return 1
	}
	return 0
}
