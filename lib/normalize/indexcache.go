// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rock-core/logstore/lib/pocolog"
	"github.com/rock-core/logstore/lib/roby"
)

// EnsureIndexValid makes sure a valid pocolog index for logPath
// exists under indexDir, rebuilding only when the existing index is
// missing or stale. With force, the index is rebuilt unconditionally.
//
// A missing or still-compressed source file is not an error: during
// import that is a transient state (the plain file has not been
// produced yet), and index maintenance simply has nothing to do.
//
// When the index is already valid this performs zero writes.
func EnsureIndexValid(logger *slog.Logger, logPath, indexDir string, force bool) error {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("creating index directory %s: %w", indexDir, err)
	}
	if IsCompressed(logPath) {
		return nil
	}
	if _, err := os.Stat(logPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	indexPath := pocolog.IndexPath(logPath, indexDir)
	if !force && pocolog.IsIndexValid(logPath, indexPath) {
		return nil
	}

	logger.Debug("rebuilding pocolog index", "log", logPath, "index", indexPath, "force", force)
	return pocolog.BuildIndex(logPath, indexPath)
}

// EnsureEventLogIndexValid is EnsureIndexValid for the Roby event log
// and its offset index, with one extra rule: an event log declaring
// an obsolete format version is skipped with a warning instead of
// rebuilt — old recordings stay importable, they just have no event
// index.
func EnsureEventLogIndexValid(logger *slog.Logger, eventLogPath, indexDir string, force bool) error {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("creating index directory %s: %w", indexDir, err)
	}
	if IsCompressed(eventLogPath) {
		return nil
	}
	if _, err := os.Stat(eventLogPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := roby.CheckFormat(eventLogPath); err != nil {
		if errors.Is(err, roby.ErrObsoleteFormat) {
			logger.Warn("skipping event log index", "log", eventLogPath, "reason", err)
			return nil
		}
		return err
	}

	indexPath := roby.IndexPath(eventLogPath, indexDir)
	if !force && roby.IsIndexValid(eventLogPath, indexPath) {
		return nil
	}

	logger.Debug("rebuilding event log index", "log", eventLogPath, "index", indexPath, "force", force)
	return roby.BuildIndex(eventLogPath, indexPath)
}

// RebuildPocologIndexes ensures indexes for every pocolog file of a
// dataset's core path, under the matching cache path. The cache
// directory is created even when the dataset has no streams, so that
// a cache path always exists once index maintenance has run.
func RebuildPocologIndexes(logger *slog.Logger, corePath, cachePath string, force bool) error {
	indexDir := filepath.Join(cachePath, "pocolog")
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("creating index directory %s: %w", indexDir, err)
	}

	entries, err := os.ReadDir(filepath.Join(corePath, "pocolog"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing pocolog files in %s: %w", corePath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		logPath := filepath.Join(corePath, "pocolog", entry.Name())
		if err := EnsureIndexValid(logger, logPath, indexDir, force); err != nil {
			return err
		}
	}
	return nil
}

// RebuildRobyIndexes ensures event log indexes for every Roby event
// log at a dataset's core path root.
func RebuildRobyIndexes(logger *slog.Logger, corePath, cachePath string, force bool) error {
	entries, err := os.ReadDir(corePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing event logs in %s: %w", corePath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isRobyEventLogName(entry.Name()) {
			continue
		}
		logPath := filepath.Join(corePath, entry.Name())
		if err := EnsureEventLogIndexValid(logger, logPath, cachePath, force); err != nil {
			return err
		}
	}
	return nil
}

// isRobyEventLogName matches the canonical event log naming inside a
// dataset: "roby-events.N.log".
func isRobyEventLogName(name string) bool {
	if !strings.HasPrefix(name, "roby-events.") || !strings.HasSuffix(name, ".log") {
		return false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, "roby-events."), ".log")
	if middle == "" {
		return false
	}
	for _, r := range middle {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
