// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

// Reporter receives byte-count progress while normalization copies
// sample data. It is a pure side channel: implementations must not
// affect the outcome, and normalization accepts a silent reporter
// without behavioral change. Callbacks are invoked inline from the
// copy loop, never from another goroutine.
type Reporter interface {
	// Start announces the total number of payload bytes about to be
	// copied.
	Start(total int64)

	// Advance reports n more bytes copied.
	Advance(n int64)

	// Finish marks the end of the copy, successful or not.
	Finish()
}

// NullReporter discards all progress.
type NullReporter struct{}

func (NullReporter) Start(int64)   {}
func (NullReporter) Advance(int64) {}
func (NullReporter) Finish()       {}
