// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output numpy `file`")
	data := flags.String("data", "beta", "matrix to export (M, U, M0, U0, pvals, or beta)")
	sitesFilename := flags.String("output-sites", "", "write probe annotation rows to `csv`")
	samplesFilename := flags.String("output-samples", "", "write sample IDs to `csv`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if *outputFilename != "-" || *sitesFilename != "" || *samplesFilename != "" {
			err = errors.New("cannot specify output files in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "rnbeads export-numpy",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         128000000000,
			VCPUs:       2,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"export-numpy", "-local=true",
			"-i", *inputFilename,
			"-o", "/mnt/output/" + *data + ".npy",
			"-data", *data,
			"-output-sites", "/mnt/output/sites.csv",
			"-output-samples", "/mnt/output/samples.csv",
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/"+*data+".npy")
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

	var out *mat.Dense
	out, err = ds.matrixByName(*data)
	if err != nil {
		return 1
	}
	nsites, nsamples := ds.Dims()

	if *sitesFilename != "" {
		err = writeSitesCSV(*sitesFilename, ds.Anno)
		if err != nil {
			return 1
		}
	}
	if *samplesFilename != "" {
		err = writeSamplesCSV(*samplesFilename, ds.Samples)
		if err != nil {
			return 1
		}
	}

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
	bufw := bufio.NewWriter(output)
	log.WithFields(log.Fields{
		"filename": *outputFilename,
		"data":     *data,
		"rows":     nsites,
		"cols":     nsamples,
	}).Info("writing numpy")
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{nsites, nsamples}
	err = npw.WriteFloat64(flatFloats(out))
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

// matrixByName returns the named dataset matrix. "beta" and "pvals"
// are computed views; the rest are the stored intensities.
func (ds *RawDataset) matrixByName(name string) (*mat.Dense, error) {
	switch name {
	case "M":
		return ds.M, nil
	case "U":
		return ds.U, nil
	case "M0":
		return ds.M0, nil
	case "U0":
		return ds.U0, nil
	case "pvals":
		return ds.DetectionPvals(), nil
	case "beta":
		return ds.Betas(), nil
	}
	return nil, fmt.Errorf("%w: unknown matrix %q (want M, U, M0, U0, pvals, or beta)", ErrInvalidParameter, name)
}

func writeSitesCSV(filename string, anno *Annotation) error {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "ID,Design,Color,Chromosome\n")
	for i, id := range anno.SiteIDs {
		chrom := ""
		if len(anno.Chromosome) > i {
			chrom = anno.Chromosome[i]
		}
		fmt.Fprintf(buf, "%s,%s,%s,%s\n", id, anno.Design[i], anno.Color[i], chrom)
	}
	return os.WriteFile(filename, buf.Bytes(), 0666)
}

func writeSamplesCSV(filename string, samples []string) error {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "Index,SampleID\n")
	for i, name := range samples {
		fmt.Fprintf(buf, "%d,%s\n", i, name)
	}
	return os.WriteFile(filename, buf.Bytes(), 0666)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
