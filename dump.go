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
	log "github.com/sirupsen/logrus"
)

type dump struct {
	selectedSites map[string]bool
}

func (cmd *dump) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *dump) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	inputFilename := flags.String("i", "-", "input dataset `file`")
	outputFilename := flags.String("o", "-", "output tsv `file`")
	selectedSites := flags.String("sites", "", "comma-separated probe `IDs` to dump (default all)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
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
			Name:        "rnbeads dump",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         16000000000,
			VCPUs:       1,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename)
		if err != nil {
			return err
		}
		runner.Args = []string{"dump", "-local=true",
			"-i", *inputFilename,
			"-o", "/mnt/output/dump.tsv",
			"-sites", *selectedSites,
		}
		output, err := runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/dump.tsv")
		return nil
	}

	if *selectedSites != "" {
		cmd.selectedSites = map[string]bool{}
		for _, site := range strings.Split(*selectedSites, ",") {
			cmd.selectedSites[site] = true
		}
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
	fmt.Fprint(bufw, "site\tsample\tdesign\tcolor\tM\tU\tM0\tU0\tpval\n")
	err = DecodeDataset(input, strings.HasSuffix(*inputFilename, ".gz"), func(ent *DatasetEntry) error {
		n := len(ent.Samples)
		for i, site := range ent.SiteIDs {
			if cmd.selectedSites != nil && !cmd.selectedSites[site] {
				continue
			}
			for j, sample := range ent.Samples {
				pval := math.NaN()
				if len(ent.PvalSites) > 0 {
					pval = ent.PvalSites[i*n+j]
				}
				fmt.Fprintf(bufw, "%s\t%s\t%s\t%s\t%v\t%v\t%v\t%v\t%v\n",
					site, sample, ent.Design[i], ent.Color[i],
					ent.M[i*n+j], ent.U[i*n+j], ent.M0[i*n+j], ent.U0[i*n+j], pval)
			}
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
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
