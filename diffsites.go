// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/sergi/go-diff/diffmatchpatch"
	log "github.com/sirupsen/logrus"
)

// diffSites compares a dataset's probe roster against an annotation
// CSV and reports the sites unique to each side, preserving row order.
type diffSites struct{}

func (cmd *diffSites) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *diffSites) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	inputFilename := flags.String("i", "-", "input dataset `file`")
	annoFilename := flags.String("anno", "", "probe annotation `csv` to compare against")
	outputFilename := flags.String("o", "-", "output tsv `file`")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if *annoFilename == "" {
		return fmt.Errorf("must provide -anno")
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if *outputFilename != "-" {
			return fmt.Errorf("cannot specify output file in container mode: not implemented")
		}
		runner := arvadosContainerRunner{
			Name:        "rnbeads diff-sites",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         16000000000,
			VCPUs:       1,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename, annoFilename)
		if err != nil {
			return err
		}
		runner.Args = []string{"diff-sites", "-local=true",
			"-i", *inputFilename,
			"-anno", *annoFilename,
			"-o", "/mnt/output/diff.tsv",
		}
		output, err := runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/diff.tsv")
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
	var datasetSites []string
	err = DecodeDataset(input, strings.HasSuffix(*inputFilename, ".gz"), func(ent *DatasetEntry) error {
		if datasetSites == nil {
			datasetSites = ent.SiteIDs
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = input.Close()
	if err != nil {
		return err
	}
	anno, err := loadAnnotation(*annoFilename)
	if err != nil {
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
	onlyDataset, onlyAnno, shared := cmd.doDiff(bufw, datasetSites, anno.SiteIDs)
	log.Printf("%d sites only in dataset, %d only in annotation, %d shared", onlyDataset, onlyAnno, shared)
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

// doDiff writes one tsv line per differing site: "-" for sites only in
// the dataset, "+" for sites only in the annotation. Returns the
// counts of dataset-only, annotation-only, and shared sites.
func (cmd *diffSites) doDiff(w io.Writer, datasetSites, annoSites []string) (onlyDataset, onlyAnno, shared int) {
	dmp := diffmatchpatch.New()
	a := strings.Join(datasetSites, "\n") + "\n"
	b := strings.Join(annoSites, "\n") + "\n"
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			shared += n
			continue
		case diffmatchpatch.DiffDelete:
			onlyDataset += n
		case diffmatchpatch.DiffInsert:
			onlyAnno += n
		}
		for _, site := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			if d.Type == diffmatchpatch.DiffDelete {
				fmt.Fprintf(w, "-\t%s\n", site)
			} else {
				fmt.Fprintf(w, "+\t%s\n", site)
			}
		}
	}
	return
}
