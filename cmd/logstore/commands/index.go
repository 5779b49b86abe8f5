// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/rock-core/logstore/cmd/logstore/cli"
	"github.com/rock-core/logstore/lib/digest"
	"github.com/rock-core/logstore/lib/normalize"
)

func indexCommand() *cli.Command {
	var store storeFlags
	var force, all bool

	return &cli.Command{
		Name:    "index",
		Summary: "Rebuild the stream indexes of stored datasets",
		Description: `Rebuild the per-file stream indexes of stored datasets. Indexes are
cache artifacts: they can be dropped and rebuilt at any time without
touching the canonical files. With no arguments and --all, every
dataset in the store is checked.`,
		Usage: "logstore index [flags] [<digest>...]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("index", pflag.ContinueOnError)
			store.addFlags(flagSet)
			flagSet.BoolVar(&force, "force", false, "rebuild even when the existing indexes are valid")
			flagSet.BoolVar(&all, "all", false, "index every dataset in the store")
			return flagSet
		},
		Run: func(args []string) error {
			target, err := store.open()
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger().With("command", "index")

			var digests []digest.Digest
			switch {
			case all && len(args) == 0:
				if digests, err = target.List(); err != nil {
					return err
				}
			case !all && len(args) > 0:
				for _, arg := range args {
					parsed, err := digest.Parse(arg)
					if err != nil {
						return err
					}
					if !target.Has(parsed) {
						return fmt.Errorf("dataset %s not in store", arg)
					}
					digests = append(digests, parsed)
				}
			default:
				return fmt.Errorf("give either --all or explicit digests")
			}

			for _, d := range digests {
				corePath := target.CorePath(d)
				cachePath := target.CachePath(d)
				if err := normalize.RebuildPocologIndexes(logger, corePath, cachePath, force); err != nil {
					return err
				}
				if err := normalize.RebuildRobyIndexes(logger, corePath, cachePath, force); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
