// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bufio"
	"encoding/json"
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
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
)

type qc struct{}

// qcSampleStats is one sample's quality summary. Quartile slices are
// Q1, median, Q3; they and the medians are omitted when a column has
// no usable values.
type qcSampleStats struct {
	SampleID       string
	MQuartiles     []float64 `json:",omitempty"`
	UQuartiles     []float64 `json:",omitempty"`
	OOBMedianM     *float64  `json:",omitempty"`
	OOBMedianU     *float64  `json:",omitempty"`
	MedianPval     *float64  `json:",omitempty"`
	MaskedFraction float64
}

func (cmd *qc) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output json `file`")
	xlsxFilename := flags.String("xlsx", "", "also write the summary table to xlsx `file`")
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
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "rnbeads qc",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         16000000000,
			VCPUs:       1,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"qc", "-local=true", "-i", *inputFilename, "-o", "/mnt/output/qc.json"}
		if *xlsxFilename != "" {
			runner.Args = append(runner.Args, "-xlsx", "/mnt/output/qc.xlsx")
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/qc.json")
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
	samples := cmd.doQC(ds)
	var ret struct {
		Platform string
		Sites    int
		Samples  []qcSampleStats
	}
	ret.Platform = string(ds.Platform)
	ret.Sites, _ = ds.Dims()
	ret.Samples = samples
	err = json.NewEncoder(bufw).Encode(ret)
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
	if *xlsxFilename != "" {
		err = writeQCWorkbook(*xlsxFilename, samples)
		if err != nil {
			return 1
		}
	}
	return 0
}

func (cmd *qc) doQC(ds *RawDataset) []qcSampleStats {
	nsites, nsamples := ds.Dims()
	pvals := ds.DetectionPvals()
	ret := make([]qcSampleStats, nsamples)
	col := make([]float64, nsites)
	for j := 0; j < nsamples; j++ {
		s := qcSampleStats{SampleID: ds.Samples[j]}
		mat.Col(col, j, ds.M)
		s.MQuartiles = quartileSummary(col)
		missing := 0
		for _, v := range col {
			if math.IsNaN(v) {
				missing++
			}
		}
		s.MaskedFraction = float64(missing) / float64(nsites)
		mat.Col(col, j, ds.U)
		s.UQuartiles = quartileSummary(col)
		mat.Col(col, j, ds.M0)
		s.OOBMedianM = medianOf(col)
		mat.Col(col, j, ds.U0)
		s.OOBMedianU = medianOf(col)
		mat.Col(col, j, pvals)
		s.MedianPval = medianOf(col)
		ret[j] = s
	}
	return ret
}

func quartileSummary(xs []float64) []float64 {
	q, err := stats.Quartile(stats.Float64Data(dropNaN(xs)))
	if err != nil {
		return nil
	}
	return []float64{q.Q1, q.Q2, q.Q3}
}

func medianOf(xs []float64) *float64 {
	m, err := stats.Median(stats.Float64Data(dropNaN(xs)))
	if err != nil {
		return nil
	}
	return &m
}

func dropNaN(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func writeQCWorkbook(filename string, samples []qcSampleStats) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	header := []interface{}{"SampleID", "M Q1", "M median", "M Q3", "U Q1", "U median", "U Q3", "OOB M median", "OOB U median", "detection p median", "masked fraction"}
	err := f.SetSheetRow(sheet, "A1", &header)
	if err != nil {
		return err
	}
	for i, s := range samples {
		row := []interface{}{s.SampleID}
		for _, qs := range [][]float64{s.MQuartiles, s.UQuartiles} {
			if qs == nil {
				row = append(row, nil, nil, nil)
			} else {
				row = append(row, qs[0], qs[1], qs[2])
			}
		}
		for _, p := range []*float64{s.OOBMedianM, s.OOBMedianU, s.MedianPval} {
			if p == nil {
				row = append(row, nil)
			} else {
				row = append(row, *p)
			}
		}
		row = append(row, s.MaskedFraction)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		err = f.SetSheetRow(sheet, cell, &row)
		if err != nil {
			return err
		}
	}
	return f.SaveAs(filename)
}
