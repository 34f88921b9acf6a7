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
	"strconv"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type importer struct {
	mFilename      string
	uFilename      string
	oobMFilename   string
	oobUFilename   string
	annoFilename   string
	platform       string
	outputFilename string
}

func (cmd *importer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	flags.StringVar(&cmd.mFilename, "m", "", "methylated in-band intensity `csv`")
	flags.StringVar(&cmd.uFilename, "u", "", "unmethylated in-band intensity `csv`")
	flags.StringVar(&cmd.oobMFilename, "oob-m", "", "methylated out-of-band intensity `csv`")
	flags.StringVar(&cmd.oobUFilename, "oob-u", "", "unmethylated out-of-band intensity `csv`")
	flags.StringVar(&cmd.annoFilename, "anno", "", "probe annotation `csv` with columns ID,Design,Color[,Chromosome]")
	flags.StringVar(&cmd.platform, "platform", string(Probes450), "array platform `tag`")
	flags.StringVar(&cmd.outputFilename, "o", "-", "output dataset `file`")
	shardSamples := flags.Int("shard-samples", 0, "write stream entries of at most `N` sample columns (0 = one entry)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if cmd.mFilename == "" || cmd.uFilename == "" || cmd.oobMFilename == "" || cmd.oobUFilename == "" || cmd.annoFilename == "" {
		err = errors.New("must provide -m, -u, -oob-m, -oob-u, and -anno")
		return 2
	}
	var platform Platform
	platform, err = ParsePlatform(cmd.platform)
	if err != nil {
		return 2
	}
	var lvl log.Level
	lvl, err = log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if cmd.outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "rnbeads import",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         64000000000,
			VCPUs:       4,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(&cmd.mFilename, &cmd.uFilename, &cmd.oobMFilename, &cmd.oobUFilename, &cmd.annoFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"import", "-local=true",
			"-pprof", ":6060",
			"-loglevel", *loglevel,
			"-m", cmd.mFilename,
			"-u", cmd.uFilename,
			"-oob-m", cmd.oobMFilename,
			"-oob-u", cmd.oobUFilename,
			"-anno", cmd.annoFilename,
			"-platform", cmd.platform,
			"-shard-samples", fmt.Sprintf("%d", *shardSamples),
			"-o", "/mnt/output/dataset.gob.gz",
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/dataset.gob.gz")
		return 0
	}

	var anno *Annotation
	anno, err = loadAnnotation(cmd.annoFilename)
	if err != nil {
		return 1
	}
	ds := &RawDataset{Platform: platform, Anno: anno}
	for _, table := range []struct {
		filename string
		dst      **mat.Dense
	}{
		{cmd.mFilename, &ds.M},
		{cmd.uFilename, &ds.U},
		{cmd.oobMFilename, &ds.M0},
		{cmd.oobUFilename, &ds.U0},
	} {
		var samples []string
		samples, *table.dst, err = loadIntensityTable(table.filename, anno)
		if err != nil {
			return 1
		}
		if ds.Samples == nil {
			ds.Samples = samples
		} else if err = sameStrings("sample columns differ between intensity tables", ds.Samples, samples); err != nil {
			return 1
		}
	}
	log.Printf("imported %d probes x %d samples (%s)", anno.Len(), len(ds.Samples), platform)

	var output io.WriteCloser
	if cmd.outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(cmd.outputFilename, os.O_CREATE|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	err = ds.encodeShards(output, strings.HasSuffix(cmd.outputFilename, ".gz"), *shardSamples)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

// loadIntensityTable reads one intensity CSV (gzipped if the name
// ends in .gz): a header line "ID,sample1,sample2,..." then one row
// per probe in annotation order. Empty, "NA", and "NaN" fields load
// as NaN.
func loadIntensityTable(filename string, anno *Annotation) ([]string, *mat.Dense, error) {
	f, err := zopen(filename)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	var samples []string
	var out *mat.Dense
	row := 0
	lineNum := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(line) == 0 {
			continue
		}
		split := strings.Split(strings.TrimSuffix(string(line), "\r"), ",")
		if samples == nil {
			if split[0] != "ID" {
				return nil, nil, fmt.Errorf("%s line %d: header does not look like %q: %q", filename, lineNum, "ID,sample1,...", line)
			}
			if len(split) < 2 {
				return nil, nil, fmt.Errorf("%w: no sample columns in %s", ErrEmptyDataset, filename)
			}
			samples = split[1:]
			out = mat.NewDense(anno.Len(), len(samples), nil)
			continue
		}
		if row >= anno.Len() {
			return nil, nil, fmt.Errorf("%w: %s has more probe rows than the annotation (%d)", ErrDimensionMismatch, filename, anno.Len())
		}
		if split[0] != anno.SiteIDs[row] {
			return nil, nil, fmt.Errorf("%s line %d: probe %q where annotation has %q", filename, lineNum, split[0], anno.SiteIDs[row])
		}
		if len(split) != len(samples)+1 {
			return nil, nil, fmt.Errorf("%w: %s line %d has %d fields, want %d", ErrDimensionMismatch, filename, lineNum, len(split), len(samples)+1)
		}
		for j, field := range split[1:] {
			v, err := parseIntensity(field)
			if err != nil {
				return nil, nil, fmt.Errorf("%s line %d: %s", filename, lineNum, err)
			}
			out.Set(row, j, v)
		}
		row++
	}
	if row != anno.Len() {
		return nil, nil, fmt.Errorf("%w: %s has %d probe rows, annotation has %d", ErrDimensionMismatch, filename, row, anno.Len())
	}
	return samples, out, nil
}

func parseIntensity(s string) (float64, error) {
	switch s {
	case "", "NA", "NaN", "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
