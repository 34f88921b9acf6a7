// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"flag"
	"fmt"
	"io"
)

// Platform identifies a methylation array design.
type Platform string

const (
	Probes27     Platform = "probes27"
	Probes450    Platform = "probes450"
	ProbesEPIC   Platform = "probesEPIC"
	ProbesEPICv2 Platform = "probesEPICv2"
)

var platformControls = map[Platform][]string{
	Probes27: {
		"Bisulfite conversion",
		"Extension",
		"Hybridization",
		"Negative",
		"Non-Polymorphic",
		"Specificity",
		"Staining",
		"Target Removal",
	},
	Probes450: {
		"BISULFITE CONVERSION I",
		"BISULFITE CONVERSION II",
		"EXTENSION",
		"HYBRIDIZATION",
		"NEGATIVE",
		"NON-POLYMORPHIC",
		"NORM_A",
		"NORM_C",
		"NORM_G",
		"NORM_T",
		"SPECIFICITY I",
		"SPECIFICITY II",
		"STAINING",
		"TARGET REMOVAL",
	},
	ProbesEPIC: {
		"BISULFITE CONVERSION I",
		"BISULFITE CONVERSION II",
		"EXTENSION",
		"HYBRIDIZATION",
		"NEGATIVE",
		"NON-POLYMORPHIC",
		"NORM_A",
		"NORM_C",
		"NORM_G",
		"NORM_T",
		"RESTORATION",
		"SPECIFICITY I",
		"SPECIFICITY II",
		"STAINING",
	},
	ProbesEPICv2: {
		"BISULFITE CONVERSION I",
		"BISULFITE CONVERSION II",
		"EXTENSION",
		"HYBRIDIZATION",
		"NEGATIVE",
		"NON-POLYMORPHIC",
		"NORM_A",
		"NORM_C",
		"NORM_G",
		"NORM_T",
		"RESTORATION",
		"SPECIFICITY I",
		"SPECIFICITY II",
		"STAINING",
	},
}

// ParsePlatform returns the Platform for the given tag.
func ParsePlatform(tag string) (Platform, error) {
	p := Platform(tag)
	if _, ok := platformControls[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, tag)
	}
	return p, nil
}

// ControlTargets returns the control probe category names defined for
// the given platform.
func ControlTargets(platform Platform) ([]string, error) {
	targets, ok := platformControls[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}
	return append([]string(nil), targets...), nil
}

type controlTargets struct{}

func (cmd *controlTargets) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	platform := flags.String("platform", string(Probes450), "array platform `tag`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	targets, err := ControlTargets(Platform(*platform))
	if err != nil {
		return 1
	}
	for _, target := range targets {
		fmt.Fprintln(stdout, target)
	}
	return 0
}
