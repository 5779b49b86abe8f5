// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/rock-core/logstore/cmd/logstore/cli"
	"github.com/rock-core/logstore/lib/digest"
	"github.com/rock-core/logstore/lib/importer"
)

func importCommand() *cli.Command {
	var store storeFlags
	var force, silent bool

	return &cli.Command{
		Name:    "import",
		Summary: "Import source directories as one dataset",
		Description: `Import one or more source directories as a single dataset.

The pocolog files are normalized to one file per stream, Roby event
logs and text files are copied, and everything else is preserved
under ignored/. The dataset is stored under its content digest; a
second import of the same data fails unless --force is given.`,
		Usage: "logstore import [flags] <directory>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			store.addFlags(flagSet)
			flagSet.BoolVar(&force, "force", false, "replace the stored dataset if it already exists")
			flagSet.BoolVar(&silent, "silent", false, "suppress the progress bar")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one source directory required")
			}
			target, err := store.open()
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger().With("command", "import")

			imported, err := importer.Import(target, args, importer.Options{
				Logger:   logger,
				Reporter: newReporter(silent),
				Force:    force,
			})
			if err != nil {
				return err
			}
			fmt.Println(digest.Format(imported))
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Import a session recorded across two directories",
				Command:     "logstore import --store /data/store ./run/logger0 ./run/logger1",
			},
		},
	}
}
