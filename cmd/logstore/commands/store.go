// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/rock-core/logstore/lib/datastore"
)

// storeFlags carries the --store flag shared by every command that
// touches a datastore. The default comes from the LOGSTORE_PATH
// environment variable, so batch setups configure the store once.
type storeFlags struct {
	Root string
}

func (s *storeFlags) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.Root, "store", os.Getenv("LOGSTORE_PATH"),
		"datastore root directory (defaults to $LOGSTORE_PATH)")
}

func (s *storeFlags) open() (*datastore.Store, error) {
	if s.Root == "" {
		return nil, fmt.Errorf("no datastore given: set --store or LOGSTORE_PATH")
	}
	return datastore.NewStore(s.Root)
}
