// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package importer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rock-core/logstore/lib/dataset"
	"github.com/rock-core/logstore/lib/datastore"
	"github.com/rock-core/logstore/lib/digest"
	"github.com/rock-core/logstore/lib/normalize"
	"github.com/rock-core/logstore/lib/pocolog"
)

// Options configures Import and AutoImport.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Reporter receives normalization progress. Defaults to
	// NullReporter.
	Reporter normalize.Reporter

	// Force re-imports sources that are already in the store,
	// replacing the stored dataset.
	Force bool

	// MinDuration, when positive, makes AutoImport skip source
	// directories whose pocolog streams span less logical time.
	MinDuration time.Duration
}

func (o *Options) fill() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Reporter == nil {
		o.Reporter = normalize.NullReporter{}
	}
}

// Import builds a dataset from the source directories in a staging
// area of the store, then atomically adopts it under its content
// digest.
//
// When the store already holds the digest, the import fails with
// datastore.ErrDatasetExists and the staging directory is left behind
// under incoming/ for inspection, unless Force is set, in which case
// the stored dataset is replaced. After a successful import every
// source directory receives an import marker.
func Import(store *datastore.Store, sourceDirs []string, options Options) (digest.Digest, error) {
	options.fill()

	datasetDigest, staging, err := runImport(store, sourceDirs, options)
	if staging != nil {
		options.Logger.Warn("staged dataset left for inspection",
			"digest", digest.Format(datasetDigest), "staging", staging.Path)
	}
	return datasetDigest, err
}

// runImport is the pipeline shared by Import and AutoImport. On a
// duplicate without Force it returns the conflicting digest, the
// still-populated staging directory and ErrDatasetExists; the caller
// decides whether to keep the staging for inspection or discard it.
func runImport(store *datastore.Store, sourceDirs []string, options Options) (digest.Digest, *datastore.Staging, error) {
	staging, err := store.AllocateIncoming()
	if err != nil {
		return digest.Empty, nil, err
	}

	ds := dataset.New(staging.CorePath, staging.CachePath)
	if err := Build(ds, sourceDirs, BuildOptions{Logger: options.Logger, Reporter: options.Reporter}); err != nil {
		staging.Discard()
		return digest.Empty, nil, err
	}
	datasetDigest, err := ds.Digest()
	if err != nil {
		staging.Discard()
		return digest.Empty, nil, err
	}

	// Indexes are built while the dataset is still staged, so the
	// adopted dataset arrives with a warm cache.
	if err := normalize.RebuildPocologIndexes(options.Logger, staging.CorePath, staging.CachePath, false); err != nil {
		staging.Discard()
		return digest.Empty, nil, err
	}
	if err := normalize.RebuildRobyIndexes(options.Logger, staging.CorePath, staging.CachePath, false); err != nil {
		staging.Discard()
		return digest.Empty, nil, err
	}

	if store.Has(datasetDigest) {
		if !options.Force {
			return datasetDigest, staging, fmt.Errorf("dataset %s: %w",
				digest.Format(datasetDigest), datastore.ErrDatasetExists)
		}
		options.Logger.Warn("replacing existing dataset", "digest", digest.Format(datasetDigest))
		if err := store.Delete(datasetDigest); err != nil {
			staging.Discard()
			return digest.Empty, nil, err
		}
	}

	if err := store.Adopt(staging, datasetDigest); err != nil {
		if errors.Is(err, datastore.ErrDatasetExists) {
			// Lost a race with a concurrent import of the same
			// recording. The dataset is in the store either way.
			return datasetDigest, staging, err
		}
		return digest.Empty, nil, err
	}

	now := time.Now()
	for _, dir := range sourceDirs {
		if err := dataset.WriteImportMarker(dir, datasetDigest, now); err != nil {
			// The dataset is committed; a marker failure only costs a
			// duplicate-detection shortcut on the next auto-import.
			options.Logger.Warn("writing import marker failed", "dir", dir, "error", err)
		}
	}

	options.Logger.Info("dataset imported",
		"digest", digest.Format(datasetDigest), "sources", len(sourceDirs))
	return datasetDigest, nil, nil
}

// Outcome classifies what AutoImport did with one source directory.
type Outcome string

const (
	OutcomeImported Outcome = "imported"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// DirectoryReport is AutoImport's result for one source directory.
type DirectoryReport struct {
	Dir     string
	Outcome Outcome

	// Digest is set for imported directories and for skips caused by
	// the dataset already being in the store.
	Digest digest.Digest

	// Reason explains a skip.
	Reason string

	// Err is set for failed directories.
	Err error
}

// AutoImport walks root for dataset directories and imports each one
// separately. Directories whose import marker names a dataset the
// store still holds are skipped without staging anything, unless
// Force is set. With MinDuration,
// directories whose streams span less logical time are skipped
// without touching the store. One directory failing does not stop the
// batch: every directory gets a report.
func AutoImport(store *datastore.Store, root string, options Options) ([]DirectoryReport, error) {
	options.fill()

	candidates, err := FindDatasetDirs(root)
	if err != nil {
		return nil, err
	}

	reports := make([]DirectoryReport, 0, len(candidates))
	for _, dir := range candidates {
		reports = append(reports, autoImportDir(store, dir, options))
	}
	return reports, nil
}

func autoImportDir(store *datastore.Store, dir string, options Options) DirectoryReport {
	report := DirectoryReport{Dir: dir}

	marker, err := dataset.ReadImportMarker(dir)
	if err != nil {
		report.Outcome = OutcomeFailed
		report.Err = err
		return report
	}
	if marker != nil && !options.Force {
		// A marker only short-circuits when the store still holds the
		// dataset it names. A stale marker (wiped store, import into a
		// different store) must not suppress the import forever.
		if parsed, err := marker.ParsedDigest(); err == nil && store.Has(parsed) {
			report.Outcome = OutcomeSkipped
			report.Reason = "already imported"
			report.Digest = parsed
			return report
		}
	}

	if options.MinDuration > 0 {
		span, err := sourceLogicalSpan(dir)
		if err != nil {
			report.Outcome = OutcomeFailed
			report.Err = err
			return report
		}
		if span < options.MinDuration {
			report.Outcome = OutcomeSkipped
			report.Reason = fmt.Sprintf("lasts only %.1fs, ignored", span.Seconds())
			return report
		}
	}

	datasetDigest, staging, err := runImport(store, []string{dir}, options)
	if err != nil {
		if staging != nil {
			// In a batch a duplicate is expected, not worth keeping
			// staged copies around for.
			staging.Discard()
		}
		if errors.Is(err, datastore.ErrDatasetExists) {
			report.Outcome = OutcomeSkipped
			report.Reason = "already in store"
			report.Digest = datasetDigest
			return report
		}
		report.Outcome = OutcomeFailed
		report.Err = err
		return report
	}

	report.Outcome = OutcomeImported
	report.Digest = datasetDigest
	return report
}

// FindDatasetDirs returns the directories under root that directly
// contain raw log files, in lexical walk order. Dataset directories
// do not nest: once a directory qualifies, its subdirectories are not
// scanned.
func FindDatasetDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		hasLogs, err := containsLogFiles(path)
		if err != nil {
			return err
		}
		if hasLogs {
			dirs = append(dirs, path)
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s for dataset directories: %w", root, err)
	}
	return dirs, nil
}

// containsLogFiles reports whether dir directly holds at least one
// pocolog file or Roby event log.
func containsLogFiles(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || isDerivedArtifact(name) || !isLogName(name) {
			continue
		}
		if probeLogKind(filepath.Join(dir, name)) != kindUnknown {
			return true, nil
		}
	}
	return false, nil
}

// sourceLogicalSpan computes the logical time covered by the
// directory's pocolog streams without staging anything: compressed
// inputs inflate into a throwaway directory that is removed before
// returning.
func sourceLogicalSpan(dir string) (time.Duration, error) {
	set, err := classifySourceDir(dir)
	if err != nil {
		return 0, err
	}
	if len(set.pocolog) == 0 {
		return 0, nil
	}

	scratch, err := os.MkdirTemp("", "logstore-span-*")
	if err != nil {
		return 0, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	var start, end time.Time
	for _, segments := range normalize.GroupSegments(set.pocolog) {
		plain := make([]string, len(segments))
		for i, segment := range segments {
			if plain[i], err = normalize.Decompress(segment, scratch); err != nil {
				return 0, err
			}
		}
		group, err := pocolog.OpenGroup(plain)
		if err != nil {
			return 0, err
		}
		for _, stream := range group.Streams() {
			if stream.Empty() {
				continue
			}
			if start.IsZero() || stream.LogicalInterval[0].Before(start) {
				start = stream.LogicalInterval[0]
			}
			if stream.LogicalInterval[1].After(end) {
				end = stream.LogicalInterval[1]
			}
		}
	}
	if start.IsZero() {
		return 0, nil
	}
	return end.Sub(start), nil
}
