// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

type sampleInfo struct {
	id            string
	isCase        bool
	isControl     bool
	isTraining    bool
	isValidation  bool
	pcaComponents []float64
}

// Read samples.csv file with case/control and training/validation
// flags plus any trailing covariate columns (typically PCA
// components).
func loadSampleInfo(samplesFilename string) ([]sampleInfo, error) {
	var si []sampleInfo
	f, err := zopen(samplesFilename)
	if err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	lineNum := 0
	for _, csv := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(csv) == 0 {
			continue
		}
		split := strings.Split(string(csv), ",")
		if len(split) < 4 {
			return nil, fmt.Errorf("%d fields < 4 in %s line %d: %q", len(split), samplesFilename, lineNum, csv)
		}
		if split[0] == "Index" && split[1] == "SampleID" && split[2] == "CaseControl" && split[3] == "TrainingValidation" {
			continue
		}
		idx, err := strconv.Atoi(split[0])
		if err != nil {
			if lineNum == 1 {
				return nil, fmt.Errorf("header does not look right: %q", csv)
			}
			return nil, fmt.Errorf("%s line %d: index: %s", samplesFilename, lineNum, err)
		}
		if idx != len(si) {
			return nil, fmt.Errorf("%s line %d: index %d out of order", samplesFilename, lineNum, idx)
		}
		var pcaComponents []float64
		if len(split) > 4 {
			for _, s := range split[4:] {
				f, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, fmt.Errorf("%s line %d: cannot parse float %q: %s", samplesFilename, lineNum, s, err)
				}
				pcaComponents = append(pcaComponents, f)
			}
		}
		si = append(si, sampleInfo{
			id:            split[1],
			isCase:        split[2] == "1",
			isControl:     split[2] == "0",
			isTraining:    split[3] == "1",
			isValidation:  split[3] == "0" && len(split[2]) > 0, // fix errant 0s in input
			pcaComponents: pcaComponents,
		})
	}
	return si, nil
}

// alignSampleInfo reorders si to the dataset's sample column order.
// Every dataset sample must appear in si exactly once.
func alignSampleInfo(si []sampleInfo, sampleIDs []string) ([]sampleInfo, error) {
	byID := map[string]int{}
	for i, s := range si {
		if _, dup := byID[s.id]; dup {
			return nil, fmt.Errorf("duplicate sample ID %q in sample info", s.id)
		}
		byID[s.id] = i
	}
	out := make([]sampleInfo, len(sampleIDs))
	for j, id := range sampleIDs {
		i, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("dataset sample %q does not appear in sample info", id)
		}
		out[j] = si[i]
	}
	return out, nil
}

func writeSampleInfo(samples []sampleInfo, outputDir string) error {
	fnm := outputDir + "/samples.csv"
	log.Infof("writing sample metadata to %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	pcaLabels := ""
	if len(samples) > 0 {
		for i := range samples[0].pcaComponents {
			pcaLabels += fmt.Sprintf(",PCA%d", i)
		}
	}
	_, err = fmt.Fprintf(f, "Index,SampleID,CaseControl,TrainingValidation%s\n", pcaLabels)
	if err != nil {
		return err
	}
	for i, si := range samples {
		var cc, tv string
		if si.isCase {
			cc = "1"
		} else if si.isControl {
			cc = "0"
		}
		if si.isTraining {
			tv = "1"
		} else if si.isValidation {
			tv = "0"
		}
		var pcavals string
		for _, pcaval := range si.pcaComponents {
			pcavals += fmt.Sprintf(",%f", pcaval)
		}
		_, err = fmt.Fprintf(f, "%d,%s,%s,%s%s\n", i, si.id, cc, tv, pcavals)
		if err != nil {
			return fmt.Errorf("write %s: %w", fnm, err)
		}
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}
