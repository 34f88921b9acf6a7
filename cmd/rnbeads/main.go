// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package main

import (
	"github.com/epigen/rnbeads"
)

func main() {
	rnbeads.Main()
}
