// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// pythonPCA runs sklearn's PCA on an exported beta matrix (see
// export-numpy) in an arvados container.
type pythonPCA struct{}

func (cmd *pythonPCA) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	inputFilename := flags.String("i", "-", "input numpy `file` (sites x samples)")
	priority := flags.Int("priority", 500, "container request priority")
	components := flags.Int("components", 4, "number of components")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	runner := arvadosContainerRunner{
		Name:        "rnbeads pca-py",
		Client:      arvados.NewClientFromEnv(),
		ProjectUUID: *projectUUID,
		RAM:         440000000000,
		VCPUs:       1,
		Priority:    *priority,
	}
	err = runner.TranslatePaths(inputFilename)
	if err != nil {
		return 1
	}
	runner.Prog = "python3"
	runner.Args = []string{"-c", `import sys
import numpy
from sklearn.decomposition import PCA
numpy.save(sys.argv[3], PCA(n_components=int(sys.argv[2])).fit_transform(numpy.load(sys.argv[1]).T))`, *inputFilename, fmt.Sprintf("%d", *components), "/mnt/output/pca.npy"}
	var output string
	output, err = runner.Run()
	if err != nil {
		return 1
	}
	fmt.Fprintln(stdout, output+"/pca.npy")
	return 0
}

// goPCA computes sample-space principal components of the beta
// matrix, writing pca.npy (samples x components) and a samples.csv
// with the component columns appended.
type goPCA struct{}

func (cmd *goPCA) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	samplesFilename := flags.String("samples", "", "samples.csv `file` to carry metadata through (default: IDs from the dataset)")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	components := flags.Int("components", 4, "number of components")
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
		runner := arvadosContainerRunner{
			Name:        "rnbeads pca",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         300000000000, // maybe 10x input size?
			VCPUs:       16,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename, samplesFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"pca", "-local=true",
			"-i", *inputFilename,
			"-samples", *samplesFilename,
			"-output-dir", "/mnt/output",
			"-components", fmt.Sprintf("%d", *components),
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/pca.npy")
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
	log.Print("reading")
	var ds *RawDataset
	ds, err = loadDataset(input, strings.HasSuffix(*inputFilename, ".gz"))
	if err != nil {
		return 1
	}
	err = input.Close()
	if err != nil {
		return 1
	}

	var si []sampleInfo
	if *samplesFilename != "" {
		si, err = loadSampleInfo(*samplesFilename)
		if err != nil {
			return 1
		}
		si, err = alignSampleInfo(si, ds.Samples)
		if err != nil {
			return 1
		}
	} else {
		for _, id := range ds.Samples {
			si = append(si, sampleInfo{id: id})
		}
	}

	log.Print("computing beta values")
	imputed, dropped := imputeSiteMeans(ds.Betas())
	if imputed == nil {
		err = fmt.Errorf("%w: no sites with usable beta values", ErrEmptyDataset)
		return 1
	}
	nsites, nsamples := imputed.Dims()
	if dropped > 0 {
		log.Printf("dropped %d sites with no usable beta values", dropped)
	}

	log.Printf("fitting: %d sites x %d samples", nsites, nsamples)
	transformer := nlp.NewPCA(*components)
	var mtx mat.Matrix = imputed
	transformer.Fit(mtx)
	log.Printf("transforming")
	mtx, err = transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	mtx = mtx.T()

	rows, cols := mtx.Dims()
	log.Printf("copying result to numpy output array: %d rows, %d cols", rows, cols)
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = mtx.At(i, j)
		}
	}

	fnm := *outputDir + "/pca.npy"
	var output io.WriteCloser
	output, err = os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
	if err != nil {
		return 1
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	log.Printf("writing numpy: %d rows, %d cols", rows, cols)
	err = npw.WriteFloat64(out)
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

	for j := range si {
		comp := make([]float64, cols)
		for k := 0; k < cols; k++ {
			comp[k] = mtx.At(j, k)
		}
		si[j].pcaComponents = comp
	}
	err = writeSampleInfo(si, *outputDir)
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}

// imputeSiteMeans returns a copy of betas with each site's missing
// values replaced by the site mean. Sites with no usable values at all
// are dropped; the count of dropped sites is returned.
func imputeSiteMeans(betas *mat.Dense) (*mat.Dense, int) {
	rows, cols := betas.Dims()
	var data []float64
	kept := 0
	for i := 0; i < rows; i++ {
		row := betas.RawRowView(i)
		vals := dropNaN(row)
		if len(vals) == 0 {
			continue
		}
		mean := stat.Mean(vals, nil)
		for _, v := range row {
			if math.IsNaN(v) {
				v = mean
			}
			data = append(data, v)
		}
		kept++
	}
	if kept == 0 {
		return nil, rows
	}
	return mat.NewDense(kept, cols, data), rows - kept
}
