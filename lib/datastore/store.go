// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package datastore implements the content-addressed dataset store:
// a directory tree keyed by dataset digest, with a scratch "incoming"
// area where datasets are staged before the final atomic move.
//
// Layout under the store root:
//
//	core/<digest>/   canonical dataset directories (authoritative)
//	cache/<digest>/  their rebuildable index artifacts
//	incoming/<n>/    staging directories, garbage until adopted
//
// Only directories under core/ whose name parses as a digest count as
// datasets. A process killed mid-import leaves a stale incoming/<n>
// directory; listing never reports it, and the next import simply
// claims the following integer.
package datastore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/rock-core/logstore/lib/digest"
)

// Directory names within the store root.
const (
	coreDir     = "core"
	cacheDir    = "cache"
	incomingDir = "incoming"
)

// ErrDatasetExists reports an import conflict: the store already
// holds a dataset with the staged dataset's digest. Recoverable by
// the caller via an explicit force.
var ErrDatasetExists = errors.New("dataset already exists in store")

// Store is a content-addressed repository of datasets.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory. The
// directory structure is created if it does not exist.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, coreDir),
		filepath.Join(root, cacheDir),
		filepath.Join(root, incomingDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// CorePath returns the canonical location for a dataset's files.
func (s *Store) CorePath(d digest.Digest) string {
	return filepath.Join(s.root, coreDir, digest.Format(d))
}

// CachePath returns the location for a dataset's derived artifacts.
func (s *Store) CachePath(d digest.Digest) string {
	return filepath.Join(s.root, cacheDir, digest.Format(d))
}

// Has reports whether the store holds a dataset with the given digest.
func (s *Store) Has(d digest.Digest) bool {
	info, err := os.Stat(s.CorePath(d))
	return err == nil && info.IsDir()
}

// List returns the digests of all stored datasets, sorted by their
// hex form. Directory entries that do not parse as digests are
// ignored — they are not authoritative store content.
func (s *Store) List() ([]digest.Digest, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, coreDir))
	if err != nil {
		return nil, fmt.Errorf("listing store %s: %w", s.root, err)
	}

	var digests []digest.Digest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		parsed, err := digest.Parse(entry.Name())
		if err != nil {
			continue
		}
		digests = append(digests, parsed)
	}
	sort.Slice(digests, func(i, j int) bool {
		return digest.Format(digests[i]) < digest.Format(digests[j])
	})
	return digests, nil
}

// Delete removes a stored dataset: core first, then cache. Removing
// core first means a crash between the two leaves only orphaned cache
// content, which is rebuildable and never listed.
func (s *Store) Delete(d digest.Digest) error {
	if !s.Has(d) {
		return fmt.Errorf("dataset %s not in store", digest.Format(d))
	}
	if err := os.RemoveAll(s.CorePath(d)); err != nil {
		return fmt.Errorf("deleting dataset %s: %w", digest.Format(d), err)
	}
	if err := os.RemoveAll(s.CachePath(d)); err != nil {
		return fmt.Errorf("deleting dataset cache %s: %w", digest.Format(d), err)
	}
	return nil
}

// Staging is one claimed incoming directory. Build the dataset under
// CorePath and CachePath, then either Adopt it into the store or
// leave it behind for inspection.
type Staging struct {
	// Path is the claimed incoming/<n> directory.
	Path string

	// CorePath is where the staged dataset's canonical files go.
	CorePath string

	// CachePath is where the staged dataset's index artifacts go.
	CachePath string
}

// AllocateIncoming claims a fresh staging directory under the store's
// incoming area. Claiming is an atomic os.Mkdir of the next free
// integer, so independent processes importing against the same store
// never share a staging directory: a collision simply retries on the
// following integer.
func (s *Store) AllocateIncoming() (*Staging, error) {
	incoming := filepath.Join(s.root, incomingDir)

	next := 0
	entries, err := os.ReadDir(incoming)
	if err != nil {
		return nil, fmt.Errorf("reading incoming area: %w", err)
	}
	for _, entry := range entries {
		if n, err := strconv.Atoi(entry.Name()); err == nil && n >= next {
			next = n + 1
		}
	}

	for {
		path := filepath.Join(incoming, strconv.Itoa(next))
		err := os.Mkdir(path, 0o755)
		if err == nil {
			staging := &Staging{
				Path:      path,
				CorePath:  filepath.Join(path, "core"),
				CachePath: filepath.Join(path, "cache"),
			}
			for _, dir := range []string{staging.CorePath, staging.CachePath} {
				if err := os.Mkdir(dir, 0o755); err != nil {
					return nil, fmt.Errorf("creating staging directory %s: %w", dir, err)
				}
			}
			return staging, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("claiming staging directory %s: %w", path, err)
		}
		next++
	}
}

// Discard removes the staging directory and everything under it.
func (st *Staging) Discard() error {
	return os.RemoveAll(st.Path)
}

// Adopt atomically moves a staged dataset into the store under the
// given digest. The core directory moves first; if the cache move
// then fails, the core move is rolled back so the store never lists
// a dataset with a half-moved cache. An empty staged cache is not
// moved at all — the cache path is created on demand by index
// maintenance.
func (s *Store) Adopt(st *Staging, d digest.Digest) error {
	corePath := s.CorePath(d)
	cachePath := s.CachePath(d)

	if err := os.Rename(st.CorePath, corePath); err != nil {
		if errors.Is(err, fs.ErrExist) || isDirNotEmpty(err) {
			return fmt.Errorf("dataset %s: %w", digest.Format(d), ErrDatasetExists)
		}
		return fmt.Errorf("moving dataset %s into store: %w", digest.Format(d), err)
	}

	moveCache, err := dirHasEntries(st.CachePath)
	if err != nil {
		os.Rename(corePath, st.CorePath)
		return fmt.Errorf("inspecting staged cache: %w", err)
	}
	if moveCache {
		if err := os.Rename(st.CachePath, cachePath); err != nil {
			// Roll back: the store must not list a dataset whose
			// cache move failed.
			os.Rename(corePath, st.CorePath)
			return fmt.Errorf("moving dataset cache %s into store: %w", digest.Format(d), err)
		}
	}

	if err := st.Discard(); err != nil {
		return fmt.Errorf("removing staging directory %s: %w", st.Path, err)
	}
	return nil
}

// dirHasEntries reports whether dir exists and contains anything.
func dirHasEntries(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// isDirNotEmpty matches the rename failure mode where the target
// directory already exists and is non-empty. This is how a lost
// duplicate-digest race surfaces at the final move: two imports of
// the same digest both pass validation, the loser's rename hits the
// winner's directory. It degrades to the same conflict error as the
// validation check.
func isDirNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY)
}
