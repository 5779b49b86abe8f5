// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/rock-core/logstore/lib/normalize"
)

// newReporter returns a byte-count progress bar on stderr, or the
// null reporter when silenced or when stderr is not a terminal (a
// progress bar in a CI log is just noise).
func newReporter(silent bool) normalize.Reporter {
	if silent || !term.IsTerminal(int(os.Stderr.Fd())) {
		return normalize.NullReporter{}
	}
	return &barReporter{}
}

// barReporter adapts progressbar to the normalize.Reporter interface.
// A fresh bar is created per Start so one reporter serves a whole
// auto-import batch.
type barReporter struct {
	bar *progressbar.ProgressBar
}

func (r *barReporter) Start(totalBytes int64) {
	r.bar = progressbar.DefaultBytes(totalBytes, "normalizing")
}

func (r *barReporter) Advance(bytes int64) {
	if r.bar != nil {
		r.bar.Add64(bytes)
	}
}

func (r *barReporter) Finish() {
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}
