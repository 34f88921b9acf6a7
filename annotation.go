// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Annotation describes the probes on an array, in row order matching
// the intensity matrices. Design is "I" or "II"; Color is "Grn" or
// "Red" for design I probes and empty for design II. Chromosome may be
// empty when the source annotation does not provide it.
type Annotation struct {
	SiteIDs    []string
	Design     []string
	Color      []string
	Chromosome []string
}

func (anno *Annotation) Len() int {
	return len(anno.SiteIDs)
}

// loadAnnotation reads a probe annotation CSV (gzipped if the name
// ends in .gz) with columns ID,Design,Color[,Chromosome] and a header
// line.
func loadAnnotation(annoFilename string) (*Annotation, error) {
	f, err := zopen(annoFilename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return parseAnnotation(annoFilename, buf)
}

func parseAnnotation(annoFilename string, buf []byte) (*Annotation, error) {
	anno := &Annotation{}
	lineNum := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(line) == 0 {
			continue
		}
		split := strings.Split(strings.TrimSuffix(string(line), "\r"), ",")
		if len(split) < 3 {
			return nil, fmt.Errorf("%d fields < 3 in %s line %d: %q", len(split), annoFilename, lineNum, line)
		}
		if split[0] == "ID" && split[1] == "Design" {
			continue
		}
		switch {
		case split[1] == "I" && (split[2] == "Grn" || split[2] == "Red"):
		case split[1] == "II" && split[2] == "":
		default:
			if lineNum == 1 {
				return nil, fmt.Errorf("header does not look like %q: %q", "ID,Design,Color,Chromosome", line)
			}
			return nil, fmt.Errorf("%s line %d: design %q color %q not recognized", annoFilename, lineNum, split[1], split[2])
		}
		anno.SiteIDs = append(anno.SiteIDs, split[0])
		anno.Design = append(anno.Design, split[1])
		anno.Color = append(anno.Color, split[2])
		if len(split) > 3 {
			anno.Chromosome = append(anno.Chromosome, split[3])
		} else {
			anno.Chromosome = append(anno.Chromosome, "")
		}
	}
	if len(anno.SiteIDs) == 0 {
		return nil, fmt.Errorf("no probes in %s", annoFilename)
	}
	return anno, nil
}

// checkAnnotation verifies that anno lines up with a dataset of the
// given probe count.
func checkAnnotation(anno *Annotation, nsites int) error {
	if anno.Len() != nsites {
		return fmt.Errorf("%w: annotation has %d probes, dataset has %d", ErrDimensionMismatch, anno.Len(), nsites)
	}
	if len(anno.Design) != anno.Len() || len(anno.Color) != anno.Len() {
		return fmt.Errorf("%w: annotation columns are ragged (%d ids, %d design, %d color)", ErrDimensionMismatch, anno.Len(), len(anno.Design), len(anno.Color))
	}
	return nil
}
