// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset defines the on-disk representation of one imported
// recording session: canonical files under a core path, rebuildable
// artifacts under a cache path, a YAML identity manifest, and the
// content digest that names the dataset in the store.
package dataset

import (
	"fmt"
	"sort"
	"time"

	"github.com/rock-core/logstore/lib/digest"
)

// ManifestName is the identity manifest file at the root of every
// dataset's core path.
const ManifestName = "dataset.yml"

// LayoutVersion is the current dataset directory layout version,
// recorded in the manifest.
const LayoutVersion = 1

// Well-known metadata keys.
const (
	// MetadataTimestamp is the dataset's nominal recording time,
	// derived from the earliest stream interval when the source
	// session info does not already provide one.
	MetadataTimestamp = "timestamp"
)

// IdentityEntry records one canonical file participating in the
// dataset's identity: its path relative to the core path, size, and
// content digest.
type IdentityEntry struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	Digest string `yaml:"digest"`
}

// StreamInfo records the interval summary of one normalized pocolog
// stream, keyed by the canonical file that holds it. It is descriptive
// only and does not participate in the dataset digest.
type StreamInfo struct {
	Path         string    `yaml:"path"`
	Name         string    `yaml:"name"`
	TypeName     string    `yaml:"type"`
	SampleCount  int       `yaml:"sample_count"`
	LogicalStart time.Time `yaml:"logical_start,omitempty"`
	LogicalEnd   time.Time `yaml:"logical_end,omitempty"`
}

// Dataset is a directory tree representing one recording session.
//
// Identity entries accumulate while the builder normalizes files, the
// manifest is flushed once all canonical files are in place, and only
// then is the digest defined. Computing the digest earlier is a
// caller bug and returns an error.
type Dataset struct {
	corePath  string
	cachePath string

	identity []IdentityEntry
	streams  []StreamInfo
	metadata map[string][]string

	digest         digest.Digest
	digestComputed bool
}

// New returns a Dataset rooted at corePath, with derived artifacts
// under cachePath. The two may be the same directory.
func New(corePath, cachePath string) *Dataset {
	return &Dataset{
		corePath:  corePath,
		cachePath: cachePath,
		metadata:  make(map[string][]string),
	}
}

// CorePath returns the canonical file location.
func (d *Dataset) CorePath() string {
	return d.corePath
}

// CachePath returns the location for derived, rebuildable artifacts
// (indexes). Cache content is excluded from the dataset's identity.
func (d *Dataset) CachePath() string {
	return d.cachePath
}

// AddIdentityEntry records one canonical file. relativePath is
// relative to the core path. Calling this after Digest has been
// computed is a caller bug: identity is sealed by digest computation.
func (d *Dataset) AddIdentityEntry(relativePath string, size int64, fileDigest digest.Digest) error {
	if d.digestComputed {
		return fmt.Errorf("adding %s to a dataset whose digest is already computed", relativePath)
	}
	d.identity = append(d.identity, IdentityEntry{
		Path:   relativePath,
		Size:   size,
		Digest: digest.Format(fileDigest),
	})
	return nil
}

// Identity returns the identity entries sorted by path.
func (d *Dataset) Identity() []IdentityEntry {
	sorted := make([]IdentityEntry, len(d.identity))
	copy(sorted, d.identity)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return sorted
}

// AddStreamInfo records the interval summary for one normalized
// stream file.
func (d *Dataset) AddStreamInfo(info StreamInfo) {
	d.streams = append(d.streams, info)
}

// Streams returns the stream interval summaries sorted by path.
func (d *Dataset) Streams() []StreamInfo {
	sorted := make([]StreamInfo, len(d.streams))
	copy(sorted, d.streams)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return sorted
}

// ComputeDigest seals the dataset and returns its content digest: the
// dataset-domain combination of the identity entries' file digests.
// The combination is order-independent, so datasets assembled from
// the same files — regardless of which source directory contributed
// which — share a digest.
func (d *Dataset) ComputeDigest() (digest.Digest, error) {
	if len(d.identity) == 0 {
		return digest.Empty, fmt.Errorf("dataset at %s has no identity entries", d.corePath)
	}
	fileDigests := make([]digest.Digest, len(d.identity))
	for i, entry := range d.identity {
		parsed, err := digest.Parse(entry.Digest)
		if err != nil {
			return digest.Empty, fmt.Errorf("identity entry %s: %w", entry.Path, err)
		}
		fileDigests[i] = parsed
	}
	d.digest = digest.CombineDataset(fileDigests)
	d.digestComputed = true
	return d.digest, nil
}

// Digest returns the sealed dataset digest. It is an error to ask for
// the digest before ComputeDigest has run: until every canonical file
// is written, the value would be meaningless.
func (d *Dataset) Digest() (digest.Digest, error) {
	if !d.digestComputed {
		return digest.Empty, fmt.Errorf("dataset digest not computed yet")
	}
	return d.digest, nil
}

// MetadataAdd appends values under key. Metadata is append-only until
// the manifest is written; duplicate values under one key are kept
// once.
func (d *Dataset) MetadataAdd(key string, values ...string) {
	existing := d.metadata[key]
	for _, value := range values {
		duplicate := false
		for _, have := range existing {
			if have == value {
				duplicate = true
				break
			}
		}
		if !duplicate {
			existing = append(existing, value)
		}
	}
	d.metadata[key] = existing
}

// MetadataSet replaces all values under key. Explicit mapping
// operations (unlike the append-only accumulation during build) go
// through this.
func (d *Dataset) MetadataSet(key string, values ...string) {
	d.metadata[key] = append([]string(nil), values...)
}

// Metadata returns the full key to value-list mapping.
func (d *Dataset) Metadata() map[string][]string {
	return d.metadata
}

// MetadataGet returns all values under key.
func (d *Dataset) MetadataGet(key string) []string {
	return d.metadata[key]
}

// MetadataFetch returns the single value under key. Empty string when
// the key is absent; an error when the key holds multiple values.
func (d *Dataset) MetadataFetch(key string) (string, error) {
	values := d.metadata[key]
	switch len(values) {
	case 0:
		return "", nil
	case 1:
		return values[0], nil
	default:
		return "", fmt.Errorf("metadata key %q holds %d values, expected one", key, len(values))
	}
}
