// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package importer assembles datasets from raw recording directories
// and moves them into a datastore.
//
// Building classifies every file in the source directories, rewrites
// the pocolog files into the canonical per-stream layout, copies the
// Roby event logs and text files, and preserves everything it does
// not recognize. Importing wraps building with staging, duplicate
// detection and the final atomic move into the store.
package importer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rock-core/logstore/lib/dataset"
	"github.com/rock-core/logstore/lib/digest"
	"github.com/rock-core/logstore/lib/normalize"
	"github.com/rock-core/logstore/lib/pocolog"
	"github.com/rock-core/logstore/lib/roby"
)

// Canonical subdirectories of a dataset's core path.
const (
	// PocologDirName holds the normalized per-stream pocolog files.
	PocologDirName = "pocolog"

	// TextDirName holds text files copied verbatim from the sources.
	TextDirName = "text"

	// IgnoredDirName holds everything the classifier did not
	// recognize, preserved for forensics but excluded from the
	// dataset's identity.
	IgnoredDirName = "ignored"
)

// robyEventBase is the base name of copied Roby event logs. The n-th
// contributed log becomes "roby-events.n.log".
const robyEventBase = "roby-events"

// sessionInfoName is the optional metadata file recording tools drop
// next to the raw logs.
const sessionInfoName = "info.yml"

// ErrMultipleEventLogs reports a source directory holding more than
// one Roby event log. One recording session has one Roby instance, so
// such a directory was assembled from different sessions and must not
// be imported as one dataset.
var ErrMultipleEventLogs = errors.New("multiple Roby event logs in one source directory")

// BuildOptions configures Build.
type BuildOptions struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Reporter receives normalization progress. Defaults to
	// NullReporter.
	Reporter normalize.Reporter
}

func (o *BuildOptions) fill() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Reporter == nil {
		o.Reporter = normalize.NullReporter{}
	}
}

// sourceSet is the classification of one source directory's entries.
type sourceSet struct {
	dir         string
	pocolog     []string
	eventLog    string
	texts       []string
	ignored     []string
	sessionInfo string
}

// logKind is the result of probing a ".log" file's magic.
type logKind int

const (
	kindUnknown logKind = iota
	kindPocolog
	kindRobyEvent
)

// isLogName matches raw log files, compressed or not.
func isLogName(name string) bool {
	return strings.HasSuffix(normalize.PlainName(name), ".log")
}

// isDerivedArtifact matches index files produced by earlier tooling
// runs next to the raw logs. They are rebuildable and never copied.
func isDerivedArtifact(name string) bool {
	return strings.HasSuffix(name, ".idx") || strings.HasSuffix(name, "-index.log")
}

// probeLogKind opens the file (decompressing transparently) and
// checks its magic. Unreadable or unrecognized files are
// kindUnknown, not errors: the classifier preserves them under
// ignored/ instead of failing the import.
func probeLogKind(path string) logKind {
	for _, probe := range []struct {
		kind  logKind
		check func(io.Reader) bool
	}{
		{kindPocolog, pocolog.CheckMagic},
		{kindRobyEvent, roby.CheckMagic},
	} {
		reader, err := normalize.Open(path)
		if err != nil {
			return kindUnknown
		}
		ok := probe.check(reader)
		reader.Close()
		if ok {
			return probe.kind
		}
	}
	return kindUnknown
}

// classifySourceDir sorts the directory's entries into pocolog files,
// at most one Roby event log, text files and everything else.
func classifySourceDir(dir string) (*sourceSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading source directory: %w", err)
	}

	set := &sourceSet{dir: dir}
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)
		switch {
		case name == dataset.ImportMarkerName:
			// Ours, from a previous import. Never part of the dataset.
		case name == sessionInfoName:
			set.sessionInfo = path
		case entry.IsDir():
			set.ignored = append(set.ignored, path)
		case isDerivedArtifact(name):
			// Rebuilt into the dataset cache during import.
		case isLogName(name):
			switch probeLogKind(path) {
			case kindPocolog:
				set.pocolog = append(set.pocolog, path)
			case kindRobyEvent:
				if set.eventLog != "" {
					return nil, fmt.Errorf("%s has %s and %s: %w",
						dir, filepath.Base(set.eventLog), name, ErrMultipleEventLogs)
				}
				set.eventLog = path
			default:
				set.ignored = append(set.ignored, path)
			}
		case strings.HasSuffix(name, ".txt"):
			set.texts = append(set.texts, path)
		default:
			set.ignored = append(set.ignored, path)
		}
	}
	return set, nil
}

// Build assembles the dataset's canonical tree from the source
// directories: normalized pocolog streams under pocolog/, Roby event
// logs as roby-events.N.log, text files under text/, everything else
// preserved under ignored/. It merges session info into the dataset
// metadata, writes the manifest and seals the digest.
//
// The dataset must be freshly allocated; Build owns its core path.
func Build(ds *dataset.Dataset, sourceDirs []string, options BuildOptions) error {
	options.fill()

	sets := make([]*sourceSet, 0, len(sourceDirs))
	var pocologFiles []string
	for _, dir := range sourceDirs {
		set, err := classifySourceDir(dir)
		if err != nil {
			return err
		}
		sets = append(sets, set)
		pocologFiles = append(pocologFiles, set.pocolog...)
	}

	if err := buildPocolog(ds, pocologFiles, options); err != nil {
		return err
	}

	eventLogNumber := 0
	for _, set := range sets {
		if set.eventLog != "" {
			if err := copyEventLog(ds, set.eventLog, eventLogNumber, options.Logger); err != nil {
				return err
			}
			eventLogNumber++
		}
		for _, path := range set.texts {
			if err := copyText(ds, path); err != nil {
				return err
			}
		}
		for _, path := range set.ignored {
			if err := copyIgnored(ds, path); err != nil {
				return err
			}
		}
		if set.sessionInfo != "" {
			mergeSessionInfo(ds, set.sessionInfo, options.Logger)
		}
	}

	applyDefaultTimestamp(ds)

	if err := ds.WriteManifest(); err != nil {
		return err
	}
	if _, err := ds.ComputeDigest(); err != nil {
		return err
	}
	return nil
}

// buildPocolog normalizes the raw pocolog files into the dataset's
// pocolog/ directory and records identity entries and stream
// intervals for every written file.
func buildPocolog(ds *dataset.Dataset, files []string, options BuildOptions) error {
	if len(files) == 0 {
		return nil
	}

	outputDir := filepath.Join(ds.CorePath(), PocologDirName)
	cacheDir := filepath.Join(ds.CachePath(), PocologDirName)
	results, err := normalize.Normalize(files, outputDir, cacheDir, normalize.Options{
		Logger:         options.Logger,
		Reporter:       options.Reporter,
		ComputeDigests: true,
	})
	if err != nil {
		return err
	}

	for path, result := range results {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("statting normalized file: %w", err)
		}
		relative := filepath.Join(PocologDirName, filepath.Base(path))
		if err := ds.AddIdentityEntry(relative, info.Size(), result.Digest); err != nil {
			return err
		}
		ds.AddStreamInfo(dataset.StreamInfo{
			Path:         relative,
			Name:         result.Stream.Name,
			TypeName:     result.Stream.TypeName,
			SampleCount:  result.Stream.SampleCount,
			LogicalStart: result.Stream.LogicalInterval[0],
			LogicalEnd:   result.Stream.LogicalInterval[1],
		})
	}
	return nil
}

// copyEventLog copies one Roby event log to roby-events.<n>.log at
// the dataset root, decompressing if needed. An obsolete format
// version is preserved verbatim with a warning; only a version newer
// than this code understands is fatal.
func copyEventLog(ds *dataset.Dataset, path string, number int, logger *slog.Logger) error {
	if !normalize.IsCompressed(path) {
		if err := roby.CheckFormat(path); err != nil {
			if !errors.Is(err, roby.ErrObsoleteFormat) {
				return err
			}
			logger.Warn("event log declares an obsolete format, copying without index support",
				"log", path)
		}
	}

	destName := fmt.Sprintf("%s.%d.log", robyEventBase, number)
	size, fileDigest, err := copyFileDigested(path, filepath.Join(ds.CorePath(), destName))
	if err != nil {
		return fmt.Errorf("copying event log %s: %w", path, err)
	}
	return ds.AddIdentityEntry(destName, size, fileDigest)
}

// copyText copies one text file into text/. Two source directories
// contributing the same file name is an error: silently overwriting
// would drop one of them from the dataset.
func copyText(ds *dataset.Dataset, path string) error {
	textDir := filepath.Join(ds.CorePath(), TextDirName)
	if err := os.MkdirAll(textDir, 0o755); err != nil {
		return fmt.Errorf("creating text directory: %w", err)
	}

	destName := filepath.Base(path)
	destPath := filepath.Join(textDir, destName)
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("two source directories both provide text file %s", destName)
	}

	size, fileDigest, err := copyFileDigested(path, destPath)
	if err != nil {
		return fmt.Errorf("copying text file %s: %w", path, err)
	}
	return ds.AddIdentityEntry(filepath.Join(TextDirName, destName), size, fileDigest)
}

// copyIgnored preserves one unrecognized file or directory under
// ignored/. Ignored content never joins the dataset's identity.
func copyIgnored(ds *dataset.Dataset, path string) error {
	ignoredDir := filepath.Join(ds.CorePath(), IgnoredDirName)
	if err := os.MkdirAll(ignoredDir, 0o755); err != nil {
		return fmt.Errorf("creating ignored directory: %w", err)
	}

	destPath := filepath.Join(ignoredDir, filepath.Base(path))
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("statting %s: %w", path, err)
	}
	if info.IsDir() {
		if err := os.CopyFS(destPath, os.DirFS(path)); err != nil {
			return fmt.Errorf("preserving directory %s: %w", path, err)
		}
		return nil
	}
	if _, _, err := copyFileDigested(path, destPath); err != nil {
		return fmt.Errorf("preserving %s: %w", path, err)
	}
	return nil
}

// copyFileDigested copies source to destination, decompressing a
// compressed source, and returns the written size and content digest.
func copyFileDigested(sourcePath, destPath string) (int64, digest.Digest, error) {
	source, err := normalize.Open(sourcePath)
	if err != nil {
		return 0, digest.Empty, err
	}
	defer source.Close()

	destination, err := os.Create(destPath)
	if err != nil {
		return 0, digest.Empty, err
	}
	defer destination.Close()

	digestWriter := digest.NewWriter(destination)
	size, err := io.Copy(digestWriter, source)
	if err != nil {
		return 0, digest.Empty, err
	}
	if err := destination.Close(); err != nil {
		return 0, digest.Empty, err
	}
	return size, digestWriter.Digest(), nil
}

// mergeSessionInfo folds the optional info.yml metadata into the
// dataset. A malformed file is logged and skipped: recording tools
// from other setups write all sorts of things here, and a broken one
// must not block the import of otherwise good logs.
func mergeSessionInfo(ds *dataset.Dataset, path string, logger *slog.Logger) {
	info, err := dataset.LoadSessionInfo(path)
	if err != nil {
		logger.Warn("ignoring malformed session info", "path", path, "error", err)
		return
	}
	for key, values := range info {
		ds.MetadataAdd(key, values...)
	}
}

// applyDefaultTimestamp sets the dataset's timestamp metadata from
// the earliest stream interval when the session info did not already
// provide one.
func applyDefaultTimestamp(ds *dataset.Dataset) {
	if len(ds.MetadataGet(dataset.MetadataTimestamp)) > 0 {
		return
	}
	var earliest time.Time
	for _, stream := range ds.Streams() {
		if stream.SampleCount == 0 {
			continue
		}
		if earliest.IsZero() || stream.LogicalStart.Before(earliest) {
			earliest = stream.LogicalStart
		}
	}
	if !earliest.IsZero() {
		ds.MetadataSet(dataset.MetadataTimestamp, earliest.UTC().Format(time.RFC3339Nano))
	}
}
