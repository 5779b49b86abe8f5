// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/rock-core/logstore/cmd/logstore/cli"
	"github.com/rock-core/logstore/lib/digest"
	"github.com/rock-core/logstore/lib/importer"
)

func autoImportCommand() *cli.Command {
	var store storeFlags
	var force, silent bool
	var minDuration time.Duration

	return &cli.Command{
		Name:    "auto-import",
		Summary: "Scan a directory tree and import every dataset in it",
		Description: `Scan a directory tree for dataset directories and import each one.

A directory qualifies when it directly contains raw log files.
Directories already carrying an import marker are skipped, as are
directories whose streams span less than --min-duration. One
directory failing does not stop the batch.`,
		Usage: "logstore auto-import [flags] <root>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("auto-import", pflag.ContinueOnError)
			store.addFlags(flagSet)
			flagSet.BoolVar(&force, "force", false, "re-import directories that are already in the store")
			flagSet.BoolVar(&silent, "silent", false, "suppress the progress bar")
			flagSet.DurationVar(&minDuration, "min-duration", 0,
				"skip datasets whose streams span less logical time (e.g. 30s)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one root directory required")
			}
			target, err := store.open()
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger().With("command", "auto-import")

			reports, err := importer.AutoImport(target, args[0], importer.Options{
				Logger:      logger,
				Reporter:    newReporter(silent),
				Force:       force,
				MinDuration: minDuration,
			})
			if err != nil {
				return err
			}

			failed := 0
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			for _, report := range reports {
				switch report.Outcome {
				case importer.OutcomeImported:
					fmt.Fprintf(tw, "%s\t%s\t%s\n", report.Dir, report.Outcome, digest.Format(report.Digest))
				case importer.OutcomeSkipped:
					fmt.Fprintf(tw, "%s\t%s\t%s\n", report.Dir, report.Outcome, report.Reason)
				case importer.OutcomeFailed:
					failed++
					fmt.Fprintf(tw, "%s\t%s\t%v\n", report.Dir, report.Outcome, report.Err)
				}
			}
			tw.Flush()

			if failed > 0 {
				fmt.Fprintf(os.Stderr, "%d of %d directories failed\n", failed, len(reports))
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Import everything recorded today, ignoring runs under 30 seconds",
				Command:     "logstore auto-import --store /data/store --min-duration 30s ./recordings/20260709",
			},
		},
	}
}
