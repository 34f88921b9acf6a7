// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"fmt"
)

// ChannelIntensities is one measurement channel's view of a dataset:
// the probe rows whose in-band signal is read in the channel, and the
// probe rows whose out-of-band signal is read in the channel. The OOB
// rows supply the channel's background pool.
//
// A design I green probe reads in-band in green and out-of-band in
// red, so its row appears in Grn.InBand and in Red.OOB; symmetrically
// for design I red probes. Design II probes appear in neither channel.
type ChannelIntensities struct {
	Channel   string
	InBand    []int
	InBandIDs []string
	OOB       []int
	OOBIDs    []string
}

// ProbeSet is the partition of a dataset's probe rows into measurement
// channels.
type ProbeSet struct {
	Grn    ChannelIntensities
	Red    ChannelIntensities
	TypeII []int
}

// A ChannelSeparator partitions probe rows into measurement channels.
type ChannelSeparator interface {
	Separate(anno *Annotation) (*ProbeSet, error)
}

// annotationSeparator partitions probes using the Design and Color
// annotation columns.
type annotationSeparator struct{}

func (annotationSeparator) Separate(anno *Annotation) (*ProbeSet, error) {
	ps := &ProbeSet{
		Grn: ChannelIntensities{Channel: "Grn"},
		Red: ChannelIntensities{Channel: "Red"},
	}
	for i, design := range anno.Design {
		switch {
		case design == "I" && anno.Color[i] == "Grn":
			ps.Grn.InBand = append(ps.Grn.InBand, i)
			ps.Grn.InBandIDs = append(ps.Grn.InBandIDs, anno.SiteIDs[i])
			ps.Red.OOB = append(ps.Red.OOB, i)
			ps.Red.OOBIDs = append(ps.Red.OOBIDs, anno.SiteIDs[i])
		case design == "I" && anno.Color[i] == "Red":
			ps.Red.InBand = append(ps.Red.InBand, i)
			ps.Red.InBandIDs = append(ps.Red.InBandIDs, anno.SiteIDs[i])
			ps.Grn.OOB = append(ps.Grn.OOB, i)
			ps.Grn.OOBIDs = append(ps.Grn.OOBIDs, anno.SiteIDs[i])
		case design == "II" && anno.Color[i] == "":
			ps.TypeII = append(ps.TypeII, i)
		default:
			return nil, fmt.Errorf("probe %s: design %q color %q not recognized", anno.SiteIDs[i], design, anno.Color[i])
		}
	}
	return ps, nil
}

// checkChannels verifies that ps is a complete partition of anno's
// rows and that each channel's background pool rows are identical to
// the opposite channel's in-band rows.
func checkChannels(anno *Annotation, ps *ProbeSet) error {
	n := len(ps.Grn.InBand) + len(ps.Red.InBand) + len(ps.TypeII)
	if n != anno.Len() {
		return fmt.Errorf("%w: channel partition covers %d of %d probes", ErrDimensionMismatch, n, anno.Len())
	}
	if err := sameStrings("green background pool rows != red in-band rows", ps.Grn.OOBIDs, ps.Red.InBandIDs); err != nil {
		return err
	}
	if err := sameStrings("red background pool rows != green in-band rows", ps.Red.OOBIDs, ps.Grn.InBandIDs); err != nil {
		return err
	}
	return nil
}
