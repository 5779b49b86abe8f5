// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. All content identities in the
// datastore (per-file and per-dataset) are this size.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// digests in different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed constants — changing them
// invalidates all existing digests in that domain. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes,
// so the keys remain inspectable in hex dumps and debuggers.
var (
	fileDomainKey = domainKey{
		'l', 'o', 'g', 's', 't', 'o', 'r', 'e', '.',
		'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	datasetDomainKey = domainKey{
		'l', 'o', 'g', 's', 't', 'o', 'r', 'e', '.',
		'd', 'a', 't', 'a', 's', 'e', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Empty is the zero digest, used as a sentinel for "not yet computed".
var Empty Digest

// HashFile computes the file-domain digest of the given bytes. This
// is the identity recorded per canonical file in a dataset manifest.
func HashFile(data []byte) Digest {
	return keyedHash(fileDomainKey, data)
}

// CombineDataset computes a dataset-domain digest over a set of
// per-file digests. The input is sorted before hashing, so the result
// is independent of the order in which files were produced while
// remaining deterministic for a given file set.
func CombineDataset(fileDigests []Digest) Digest {
	sorted := make([]Digest, len(fileDigests))
	copy(sorted, fileDigests)
	sort.Slice(sorted, func(i, j int) bool {
		for k := range sorted[i] {
			if sorted[i][k] != sorted[j][k] {
				return sorted[i][k] < sorted[j][k]
			}
		}
		return false
	})

	hasher, err := blake3.NewKeyed(datasetDomainKey[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, d := range sorted {
		hasher.Write(d[:])
	}
	var result Digest
	copy(result[:], hasher.Sum(nil))
	return result
}

// Writer computes a file-domain digest of everything written through
// it while forwarding the bytes to the underlying writer. This lets
// normalization digest canonical files as they are produced, without
// a second read pass.
type Writer struct {
	out    io.Writer
	hasher *blake3.Hasher
}

// NewWriter returns a Writer forwarding to out.
func NewWriter(out io.Writer) *Writer {
	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &Writer{out: out, hasher: hasher}
}

// Write forwards p to the underlying writer and folds it into the
// digest state.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.out.Write(p)
	if n > 0 {
		w.hasher.Write(p[:n])
	}
	return n, err
}

// Digest returns the file-domain digest of all bytes written so far.
func (w *Writer) Digest() Digest {
	var result Digest
	copy(result[:], w.hasher.Sum(nil))
	return result
}

// Format returns the hex-encoded string representation of a digest.
// This is the canonical format used in manifests, directory names,
// logs, and CLI output.
func Format(d Digest) string {
	return hex.EncodeToString(d[:])
}

// Parse parses a 64-character hex string into a Digest.
func Parse(hexString string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return d, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return d, fmt.Errorf("digest is %d bytes, want 32", len(decoded))
	}
	copy(d[:], decoded)
	return d, nil
}

// IsValidString reports whether s is a well-formed hex digest. Used
// by the datastore to decide which directory entries under the store
// root are authoritative dataset directories.
func IsValidString(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Digest {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d
}
