// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/rock-core/logstore/cmd/logstore/cli"
	"github.com/rock-core/logstore/lib/normalize"
)

func normalizeCommand() *cli.Command {
	var out string
	var silent bool

	return &cli.Command{
		Name:    "normalize",
		Summary: "Rewrite raw pocolog files to one file per stream",
		Description: `Rewrite raw pocolog files into the canonical per-stream layout
without importing them into a store. Arguments are log files or
directories to scan for log files. Compressed inputs (.zst, .lz4)
are decompressed transparently.`,
		Usage: "logstore normalize --out <dir> <file|directory>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("normalize", pflag.ContinueOnError)
			flagSet.StringVar(&out, "out", "", "output directory (required)")
			flagSet.BoolVar(&silent, "silent", false, "suppress the progress bar")
			return flagSet
		},
		Run: func(args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			if len(args) == 0 {
				return fmt.Errorf("at least one log file or directory required")
			}

			files, err := collectLogFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no log files found in %s", strings.Join(args, ", "))
			}

			scratch, err := os.MkdirTemp("", "logstore-normalize-*")
			if err != nil {
				return fmt.Errorf("creating scratch directory: %w", err)
			}
			defer os.RemoveAll(scratch)

			logger := cli.NewCommandLogger().With("command", "normalize")
			results, err := normalize.Normalize(files, out, scratch, normalize.Options{
				Logger:   logger,
				Reporter: newReporter(silent),
			})
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d stream files to %s\n", len(results), out)
			return nil
		},
	}
}

// collectLogFiles expands the arguments into a flat list of log file
// paths. Directories are scanned one level deep: raw recordings keep
// their logs flat.
func collectLogFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasSuffix(normalize.PlainName(name), ".log") && !strings.HasSuffix(name, "-index.log") {
				files = append(files, filepath.Join(arg, name))
			}
		}
	}
	return files, nil
}
