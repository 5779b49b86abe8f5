// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package datastore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rock-core/logstore/lib/codec"
	"github.com/rock-core/logstore/lib/dataset"
	"github.com/rock-core/logstore/lib/digest"
)

// indexFileName is the store-level dataset index cache, living in the
// cache area next to the per-dataset cache directories. Like every
// cache artifact it is reproducible: a missing or stale index is
// rebuilt from the dataset manifests, never repaired.
const indexFileName = "datasets.cbor"

// DatasetRecord is the cached summary of one stored dataset, read by
// listing without opening the dataset's manifest.
type DatasetRecord struct {
	Digest    string              `cbor:"digest"`
	Size      int64               `cbor:"size"`
	FileCount int                 `cbor:"file_count"`
	Metadata  map[string][]string `cbor:"metadata,omitempty"`
	IndexedAt time.Time           `cbor:"indexed_at"`
}

// indexDocument is the on-disk form of the index cache.
type indexDocument struct {
	Records []DatasetRecord `cbor:"records"`
}

// LoadIndex returns the dataset records for everything in the store,
// from the cached index when it covers exactly the stored digest set,
// rebuilding (and rewriting the cache) otherwise. Records are sorted
// by digest.
func (s *Store) LoadIndex() ([]DatasetRecord, error) {
	stored, err := s.List()
	if err != nil {
		return nil, err
	}

	cached, err := s.readIndexFile()
	if err == nil && indexCovers(cached, stored) {
		return cached, nil
	}

	return s.RebuildIndex(stored)
}

// RebuildIndex scans the manifests of the given datasets, writes a
// fresh index cache, and returns the records.
func (s *Store) RebuildIndex(stored []digest.Digest) ([]DatasetRecord, error) {
	now := time.Now().UTC()
	records := make([]DatasetRecord, 0, len(stored))
	for _, d := range stored {
		loaded, err := dataset.Load(s.CorePath(d), s.CachePath(d))
		if err != nil {
			return nil, fmt.Errorf("indexing dataset %s: %w", digest.Format(d), err)
		}

		record := DatasetRecord{
			Digest:    digest.Format(d),
			Metadata:  loaded.Metadata(),
			IndexedAt: now,
		}
		for _, entry := range loaded.Identity() {
			record.Size += entry.Size
			record.FileCount++
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Digest < records[j].Digest })

	if err := s.writeIndexFile(records); err != nil {
		return nil, err
	}
	return records, nil
}

// readIndexFile loads the cached index, or an error when missing or
// unparseable (both read as "rebuild").
func (s *Store) readIndexFile() ([]DatasetRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.root, cacheDir, indexFileName))
	if err != nil {
		return nil, err
	}
	var document indexDocument
	if err := codec.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decoding dataset index cache: %w", err)
	}
	return document.Records, nil
}

// writeIndexFile atomically replaces the index cache.
func (s *Store) writeIndexFile(records []DatasetRecord) error {
	data, err := codec.Marshal(indexDocument{Records: records})
	if err != nil {
		return fmt.Errorf("encoding dataset index cache: %w", err)
	}

	finalPath := filepath.Join(s.root, cacheDir, indexFileName)
	tmpFile, err := os.CreateTemp(filepath.Dir(finalPath), ".datasets-*")
	if err != nil {
		return fmt.Errorf("creating temp index cache: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing dataset index cache: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp index cache: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming dataset index cache: %w", err)
	}

	success = true
	return nil
}

// DropIndex removes the cached index, forcing the next LoadIndex to
// rebuild. Used after deletes so a stale cache never outlives its
// datasets by accident.
func (s *Store) DropIndex() error {
	err := os.Remove(filepath.Join(s.root, cacheDir, indexFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing dataset index cache: %w", err)
	}
	return nil
}

// indexCovers reports whether the cached records describe exactly the
// stored digest set.
func indexCovers(records []DatasetRecord, stored []digest.Digest) bool {
	if len(records) != len(stored) {
		return false
	}
	have := make(map[string]bool, len(records))
	for _, record := range records {
		have[record.Digest] = true
	}
	for _, d := range stored {
		if !have[digest.Format(d)] {
			return false
		}
	}
	return true
}
