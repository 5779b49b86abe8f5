// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// manifest is the YAML document written to ManifestName. Keys are
// emitted in a fixed order and identity entries sorted by path, so
// the manifest bytes are deterministic for a given dataset.
type manifest struct {
	LayoutVersion int                 `yaml:"layout_version"`
	Identity      []IdentityEntry     `yaml:"identity"`
	Streams       []StreamInfo        `yaml:"streams,omitempty"`
	Metadata      map[string][]string `yaml:"metadata,omitempty"`
}

// WriteManifest flushes the identity and metadata to ManifestName
// under the core path. Written via a temporary file and an atomic
// rename; a reader never sees a partial manifest.
func (d *Dataset) WriteManifest() error {
	document := manifest{
		LayoutVersion: LayoutVersion,
		Identity:      d.Identity(),
		Streams:       d.Streams(),
		Metadata:      d.metadata,
	}
	if len(document.Streams) == 0 {
		document.Streams = nil
	}
	if len(document.Metadata) == 0 {
		document.Metadata = nil
	}

	data, err := yaml.Marshal(&document)
	if err != nil {
		return fmt.Errorf("encoding dataset manifest: %w", err)
	}

	finalPath := filepath.Join(d.corePath, ManifestName)
	tmpFile, err := os.CreateTemp(d.corePath, ".manifest-*")
	if err != nil {
		return fmt.Errorf("creating temp manifest file: %w", err)
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
		return fmt.Errorf("writing dataset manifest: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp manifest file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming manifest to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// Load reads an existing dataset from its manifest. The returned
// dataset is sealed: its digest is recomputed from the manifest's
// identity entries.
func Load(corePath, cachePath string) (*Dataset, error) {
	data, err := os.ReadFile(filepath.Join(corePath, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading dataset manifest in %s: %w", corePath, err)
	}

	var document manifest
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decoding dataset manifest in %s: %w", corePath, err)
	}
	if document.LayoutVersion != LayoutVersion {
		return nil, fmt.Errorf("dataset in %s has layout version %d, current is %d",
			corePath, document.LayoutVersion, LayoutVersion)
	}

	loaded := New(corePath, cachePath)
	loaded.identity = document.Identity
	loaded.streams = document.Streams
	if document.Metadata != nil {
		loaded.metadata = document.Metadata
	}
	if _, err := loaded.ComputeDigest(); err != nil {
		return nil, fmt.Errorf("dataset in %s: %w", corePath, err)
	}
	return loaded, nil
}

// LoadSessionInfo parses the optional session information file that
// recording tools drop next to the raw logs. The document is a map of
// metadata keys to a scalar or a list of scalars. Returns the
// normalized key to value-list mapping.
func LoadSessionInfo(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var document map[string]any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decoding session info %s: %w", path, err)
	}

	result := make(map[string][]string, len(document))
	for key, raw := range document {
		switch value := raw.(type) {
		case []any:
			for _, element := range value {
				result[key] = append(result[key], fmt.Sprint(element))
			}
		case nil:
			// Key present without a value: keep it with no entries.
			result[key] = nil
		default:
			result[key] = []string{fmt.Sprint(value)}
		}
	}
	return result, nil
}

// SortedMetadataKeys returns the metadata keys in sorted order, for
// stable CLI and log output.
func SortedMetadataKeys(metadata map[string][]string) []string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
