// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete logstore CLI command tree.
package commands

import (
	"fmt"
	"runtime/debug"

	"github.com/rock-core/logstore/cmd/logstore/cli"
)

// Root builds and returns the complete logstore CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "logstore",
		Description: `logstore: content-addressed datastore for robot log recordings.

Import raw pocolog recordings into a datastore, normalized to one
file per stream and deduplicated by content digest.`,
		Subcommands: []*cli.Command{
			importCommand(),
			autoImportCommand(),
			normalizeCommand(),
			listCommand(),
			indexCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					fmt.Printf("logstore %s\n", buildVersion())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Import one recording session into a store",
				Command:     "logstore import --store /data/store ./20260709-1100",
			},
			{
				Description: "Import every session under a directory, skipping short runs",
				Command:     "logstore auto-import --store /data/store --min-duration 30s ./recordings",
			},
			{
				Description: "Normalize raw logs without storing them",
				Command:     "logstore normalize --out ./normalized ./20260709-1100",
			},
			{
				Description: "List the datasets in a store",
				Command:     "logstore list --store /data/store",
			},
		},
	}
}

// buildVersion reports the module version stamped by the Go toolchain,
// or "devel" for a plain source build.
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "devel"
}
