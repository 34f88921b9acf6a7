// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"sync"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type merger struct {
	stdin    io.Reader
	inputs   []string
	output   io.WriteCloser
	gz       bool
	datasets []*RawDataset
	errs     chan error
}

func (cmd *merger) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output dataset `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	cmd.stdin = stdin
	cmd.inputs = flags.Args()
	if len(cmd.inputs) == 0 {
		err = errors.New("no input files specified")
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
			Name:        "rnbeads merge",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         64000000000,
			VCPUs:       2,
			Priority:    *priority,
			KeepCache:   2,
			APIAccess:   true,
		}
		for i := range cmd.inputs {
			err = runner.TranslatePaths(&cmd.inputs[i])
			if err != nil {
				return 1
			}
		}
		runner.Args = append([]string{"merge", "-local=true",
			"-o", "/mnt/output/dataset.gob.gz",
		}, cmd.inputs...)
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/dataset.gob.gz")
		return 0
	}

	// A directory argument means all .gob/.gob.gz files under it.
	var inputs []string
	for _, input := range cmd.inputs {
		if input == "-" {
			inputs = append(inputs, input)
			continue
		}
		var files []string
		files, err = allFiles(input, matchGobFile)
		if err != nil {
			return 1
		}
		inputs = append(inputs, files...)
	}
	cmd.inputs = inputs
	if len(cmd.inputs) == 0 {
		err = errors.New("no dataset files found in input directories")
		return 1
	}

	if *outputFilename == "-" {
		cmd.output = nopCloser{stdout}
	} else {
		cmd.output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer cmd.output.Close()
	}
	cmd.gz = strings.HasSuffix(*outputFilename, ".gz")

	err = cmd.doMerge()
	if err != nil {
		return 1
	}
	err = cmd.output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func (cmd *merger) setError(err error) {
	select {
	case cmd.errs <- err:
	default:
	}
}

func (cmd *merger) doMerge() error {
	cmd.errs = make(chan error, 1)
	cmd.datasets = make([]*RawDataset, len(cmd.inputs))

	var wg sync.WaitGroup
	for i, input := range cmd.inputs {
		var infile io.ReadCloser
		if input == "-" {
			infile = io.NopCloser(cmd.stdin)
		} else {
			var err error
			infile, err = open(input)
			if err != nil {
				return err
			}
			defer infile.Close()
		}
		wg.Add(1)
		go func(idx int, input string, infile io.ReadCloser) {
			defer wg.Done()
			log.Printf("%s: reading", input)
			ds, err := loadDataset(infile, strings.HasSuffix(input, ".gz"))
			if err != nil {
				cmd.setError(fmt.Errorf("%s: %w", input, err))
				return
			}
			err = infile.Close()
			if err != nil {
				cmd.setError(fmt.Errorf("%s: close: %w", input, err))
				return
			}
			cmd.datasets[idx] = ds
			log.Printf("%s: done", input)
		}(i, input, infile)
	}
	wg.Wait()
	go close(cmd.errs)
	if err := <-cmd.errs; err != nil {
		return err
	}

	merged, err := concatSamples(cmd.datasets)
	if err != nil {
		return err
	}
	log.Printf("merged %d inputs: %d probes x %d samples", len(cmd.inputs), merged.Anno.Len(), len(merged.Samples))
	return merged.encode(cmd.output, cmd.gz)
}

// concatSamples joins datasets that share a platform and annotation
// into one dataset whose sample columns appear in input order. Sample
// IDs must be unique across inputs. Detection p-values survive only if
// every input carries them.
func concatSamples(datasets []*RawDataset) (*RawDataset, error) {
	first := datasets[0]
	nsites := first.Anno.Len()
	nsamples := 0
	havePvals := true
	seen := map[string]bool{}
	for _, ds := range datasets {
		if ds.Platform != first.Platform {
			return nil, fmt.Errorf("%w: cannot merge platform %q with %q", ErrTypeMismatch, ds.Platform, first.Platform)
		}
		if err := sameStrings("inputs disagree on site IDs", first.Anno.SiteIDs, ds.Anno.SiteIDs); err != nil {
			return nil, err
		}
		if err := sameStrings("inputs disagree on design", first.Anno.Design, ds.Anno.Design); err != nil {
			return nil, err
		}
		if err := sameStrings("inputs disagree on color", first.Anno.Color, ds.Anno.Color); err != nil {
			return nil, err
		}
		for _, id := range ds.Samples {
			if seen[id] {
				return nil, fmt.Errorf("%w: duplicate sample ID %q", ErrInvalidParameter, id)
			}
			seen[id] = true
		}
		if ds.PvalSites == nil {
			havePvals = false
		}
		nsamples += len(ds.Samples)
	}
	out := &RawDataset{
		Platform: first.Platform,
		Anno:     first.Anno,
		Samples:  make([]string, 0, nsamples),
		M:        mat.NewDense(nsites, nsamples, nil),
		U:        mat.NewDense(nsites, nsamples, nil),
		M0:       mat.NewDense(nsites, nsamples, nil),
		U0:       mat.NewDense(nsites, nsamples, nil),
	}
	if havePvals {
		out.PvalSites = mat.NewDense(nsites, nsamples, nil)
	} else {
		for _, ds := range datasets {
			if ds.PvalSites != nil {
				log.Warn("not all inputs carry detection p-values; merged output has none")
				break
			}
		}
	}
	col := 0
	for _, ds := range datasets {
		n := len(ds.Samples)
		out.Samples = append(out.Samples, ds.Samples...)
		for i := 0; i < nsites; i++ {
			copy(out.M.RawRowView(i)[col:col+n], ds.M.RawRowView(i))
			copy(out.U.RawRowView(i)[col:col+n], ds.U.RawRowView(i))
			copy(out.M0.RawRowView(i)[col:col+n], ds.M0.RawRowView(i))
			copy(out.U0.RawRowView(i)[col:col+n], ds.U0.RawRowView(i))
			if havePvals {
				copy(out.PvalSites.RawRowView(i)[col:col+n], ds.PvalSites.RawRowView(i))
			}
		}
		col += n
	}
	return out, nil
}
