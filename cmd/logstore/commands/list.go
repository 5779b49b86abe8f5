// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/rock-core/logstore/cmd/logstore/cli"
	"github.com/rock-core/logstore/lib/dataset"
)

func listCommand() *cli.Command {
	var store storeFlags

	return &cli.Command{
		Name:    "list",
		Summary: "List the datasets in a store",
		Description: `List every dataset in the store with its size, file count and
recording timestamp. The listing is served from the store's dataset
index, which is rebuilt from the manifests when stale.`,
		Usage: "logstore list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			store.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("list takes no arguments")
			}
			target, err := store.open()
			if err != nil {
				return err
			}

			records, err := target.LoadIndex()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "DIGEST\tFILES\tSIZE\tTIMESTAMP\n")
			for _, record := range records {
				timestamp := ""
				if values := record.Metadata[dataset.MetadataTimestamp]; len(values) > 0 {
					timestamp = values[0]
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n",
					record.Digest, record.FileCount, record.Size, timestamp)
			}
			return tw.Flush()
		},
	}
}
