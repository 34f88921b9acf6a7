// Copyright (C) The RnBeads Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package rnbeads

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"import":             &importer{},
		"mask":               &maskcmd{},
		"qc":                 &qc{},
		"filter":             &filtercmd{},
		"merge":              &merger{},
		"dump":               &dump{},
		"diff-sites":         &diffSites{},
		"diffmeth":           &diffMeth{},
		"export-numpy":       &exportNumpy{},
		"control-targets":    &controlTargets{},
		"build-docker-image": &buildDockerImage{},
		"pca":                &goPCA{},
		"pca-py":             &pythonPCA{},
		"plot":               &pythonPlot{},
		"manhattan":          &manhattanPlot{},
	})
)

func Main() {
	// ARVADOS_API_HOST and ARVADOS_API_TOKEN can live in a .env
	// file next to the working dir instead of the environment.
	godotenv.Load()
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type buildDockerImage struct{}

func (cmd *buildDockerImage) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	tmpdir, err := ioutil.TempDir("", "")
	if err != nil {
		fmt.Fprint(stderr, err)
		return 1
	}
	defer os.RemoveAll(tmpdir)
	err = ioutil.WriteFile(tmpdir+"/Dockerfile", []byte(`FROM debian:bullseye
RUN DEBIAN_FRONTEND=noninteractive \
  apt-get update && \
  apt-get dist-upgrade -y && \
  apt-get install -y --no-install-recommends python3-numpy python3-sklearn python3-matplotlib ca-certificates && \
  apt-get clean
`), 0644)
	if err != nil {
		fmt.Fprint(stderr, err)
		return 1
	}
	docker := exec.Command("docker", "build", "--tag=rnbeads-runtime", tmpdir)
	docker.Stdout = stdout
	docker.Stderr = stderr
	err = docker.Run()
	if err != nil {
		return 1
	}
	fmt.Fprintf(stderr, "built and tagged new docker image, rnbeads-runtime\n")
	return 0
}
