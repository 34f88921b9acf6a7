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
	"runtime"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

// diffMeth tests each site for differential methylation between case
// and control samples. With covariate columns in samples.csv the test
// is a logistic-regression likelihood ratio; without them it is a
// chi-square test of case status against dichotomized beta.
type diffMeth struct {
	threads int
}

func (cmd *diffMeth) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *diffMeth) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	pprofdir := flags.String("pprof-dir", "", "write Go profile data to `directory` periodically")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	inputFilename := flags.String("i", "-", "input dataset `file`")
	samplesFilename := flags.String("samples", "", "samples.csv `file` with case/control labels")
	outputFilename := flags.String("o", "-", "output csv `file`")
	preemptible := flags.Bool("preemptible", true, "request preemptible instance")
	flags.IntVar(&cmd.threads, "threads", runtime.GOMAXPROCS(0), "number of sites to test concurrently")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if *samplesFilename == "" {
		return fmt.Errorf("must provide -samples")
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
			return fmt.Errorf("cannot specify output file in container mode: not implemented")
		}
		runner := arvadosContainerRunner{
			Name:        "rnbeads diffmeth",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         64000000000,
			VCPUs:       16,
			Priority:    *priority,
			Preemptible: *preemptible,
		}
		err = runner.TranslatePaths(inputFilename, samplesFilename)
		if err != nil {
			return err
		}
		runner.Args = []string{"diffmeth", "-local=true",
			"-pprof", ":6060",
			"-i", *inputFilename,
			"-samples", *samplesFilename,
			"-o", "/mnt/output/diffmeth.csv",
			"-threads", fmt.Sprintf("%d", cmd.threads),
		}
		output, err := runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/diffmeth.csv")
		return nil
	}

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = open(*inputFilename)
		if err != nil {
			return err
		}
		defer input.Close()
	}
	log.Print("reading")
	ds, err := loadDataset(input, strings.HasSuffix(*inputFilename, ".gz"))
	if err != nil {
		return err
	}
	err = input.Close()
	if err != nil {
		return err
	}
	si, err := loadSampleInfo(*samplesFilename)
	if err != nil {
		return err
	}
	si, err = alignSampleInfo(si, ds.Samples)
	if err != nil {
		return err
	}

	var included []int
	cases, controls := 0, 0
	for j, s := range si {
		if s.isCase {
			cases++
		} else if s.isControl {
			controls++
		} else {
			continue
		}
		included = append(included, j)
	}
	if cases == 0 || controls == 0 {
		return fmt.Errorf("%w: need both cases (%d) and controls (%d)", ErrEmptyDataset, cases, controls)
	}
	nPCA := len(si[included[0]].pcaComponents)
	for _, j := range included {
		if len(si[j].pcaComponents) != nPCA {
			return fmt.Errorf("%w: sample %q has %d covariate columns, sample %q has %d", ErrDimensionMismatch, si[j].id, len(si[j].pcaComponents), si[included[0]].id, nPCA)
		}
	}
	log.Printf("testing %d sites: %d cases, %d controls, %d covariates", ds.Anno.Len(), cases, controls, nPCA)

	var pvalueFunc func(betas []float64) float64
	if nPCA > 0 {
		pvalueFunc = betaPvalueFunc(si, nPCA)
	} else {
		y := make([]bool, len(included))
		for k, j := range included {
			y[k] = si[j].isCase
		}
		pvalueFunc = func(betas []float64) float64 {
			cutoff, err := stats.Median(stats.Float64Data(betas))
			if err != nil {
				return math.NaN()
			}
			x := make([]bool, len(betas))
			for k, v := range betas {
				x[k] = v > cutoff
			}
			return pvalue(x, y)
		}
	}

	betas := ds.Betas()
	nsites, _ := ds.Dims()
	ps := make([]float64, nsites)
	ns := make([]int, nsites)
	throttleCPU := throttle{Max: cmd.threads}
	for i := 0; i < nsites; i++ {
		i := i
		throttleCPU.Go(func() error {
			row := betas.RawRowView(i)
			vals := make([]float64, 0, len(included))
			for _, j := range included {
				vals = append(vals, row[j])
			}
			usable := dropNaN(vals)
			ns[i] = len(usable)
			if len(usable) == 0 {
				ps[i] = math.NaN()
				return nil
			}
			if len(usable) < len(vals) {
				// Mean-impute missing betas so the null
				// model row set stays fixed.
				mean := 0.0
				for _, v := range usable {
					mean += v
				}
				mean /= float64(len(usable))
				for k, v := range vals {
					if math.IsNaN(v) {
						vals[k] = mean
					}
				}
			}
			ps[i] = pvalueFunc(vals)
			return nil
		})
	}
	if err := throttleCPU.Wait(); err != nil {
		return err
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY, 0777)
		if err != nil {
			return err
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	fmt.Fprint(bufw, "site,n,pvalue\n")
	for i, id := range ds.Anno.SiteIDs {
		fmt.Fprintf(bufw, "%s,%d,%g\n", id, ns[i], ps[i])
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	log.Print("done")
	return output.Close()
}
