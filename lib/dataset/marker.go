// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rock-core/logstore/lib/digest"
)

// ImportMarkerName is the tag file written at the root of a source
// directory after a successful import. Auto-import reads it to skip
// directories that are already in the store.
const ImportMarkerName = ".datastore-import.yml"

// ImportMarker records one completed import of a source directory.
// Markers are never updated in place: a forced re-import overwrites
// the file wholesale.
type ImportMarker struct {
	Digest string    `yaml:"digest"`
	Time   time.Time `yaml:"time"`
}

// ParsedDigest returns the marker's digest in binary form.
func (m *ImportMarker) ParsedDigest() (digest.Digest, error) {
	return digest.Parse(m.Digest)
}

// WriteImportMarker writes the marker into sourceDir, replacing any
// previous marker. Written after the store move commits — a marker
// always refers to a dataset that made it into the store.
func WriteImportMarker(sourceDir string, datasetDigest digest.Digest, now time.Time) error {
	data, err := yaml.Marshal(&ImportMarker{
		Digest: digest.Format(datasetDigest),
		Time:   now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding import marker: %w", err)
	}

	finalPath := filepath.Join(sourceDir, ImportMarkerName)
	tmpFile, err := os.CreateTemp(sourceDir, ".import-marker-*")
	if err != nil {
		return fmt.Errorf("creating temp import marker: %w", err)
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
		return fmt.Errorf("writing import marker: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp import marker: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming import marker to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// ReadImportMarker returns the marker in sourceDir, or nil when the
// directory was never imported. A malformed marker is an error — it
// means something other than this code wrote the file.
func ReadImportMarker(sourceDir string) (*ImportMarker, error) {
	data, err := os.ReadFile(filepath.Join(sourceDir, ImportMarkerName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import marker in %s: %w", sourceDir, err)
	}

	var marker ImportMarker
	if err := yaml.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("decoding import marker in %s: %w", sourceDir, err)
	}
	if marker.Digest == "" {
		return nil, fmt.Errorf("import marker in %s has no digest", sourceDir)
	}
	return &marker, nil
}
