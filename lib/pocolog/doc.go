// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package pocolog reads and writes pocolog container files: the
// stream-oriented time-series format produced by Rock component
// deployments.
//
// The package covers what the datastore needs and no more: stream
// declaration and data blocks, split-file groups, per-stream interval
// and sample statistics, and the derived sample-offset index. Sample
// payloads stay opaque — interpreting them requires the logging-side
// type registry, which is out of scope here.
//
// Index files are pure cache artifacts. They carry the source file's
// size and mtime and are considered stale the moment either changes;
// callers rebuild rather than repair.
package pocolog
