// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package datastore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rock-core/logstore/lib/dataset"
	"github.com/rock-core/logstore/lib/digest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "datastore"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

// stageDataset builds a minimal sealed dataset in a fresh staging
// directory and returns the staging handle and the dataset digest.
func stageDataset(t *testing.T, store *Store, content string) (*Staging, digest.Digest) {
	t.Helper()
	staging, err := store.AllocateIncoming()
	if err != nil {
		t.Fatalf("AllocateIncoming failed: %v", err)
	}

	payload := []byte(content)
	if err := os.MkdirAll(filepath.Join(staging.CorePath, "pocolog"), 0o755); err != nil {
		t.Fatal(err)
	}
	filePath := filepath.Join(staging.CorePath, "pocolog", "task::port.0.log")
	if err := os.WriteFile(filePath, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	built := dataset.New(staging.CorePath, staging.CachePath)
	if err := built.AddIdentityEntry("pocolog/task::port.0.log", int64(len(payload)), digest.HashFile(payload)); err != nil {
		t.Fatal(err)
	}
	if err := built.WriteManifest(); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	d, err := built.ComputeDigest()
	if err != nil {
		t.Fatalf("ComputeDigest failed: %v", err)
	}
	return staging, d
}

func TestStoreDirectoryStructure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "datastore")
	if _, err := NewStore(root); err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	for _, dir := range []string{coreDir, cacheDir, incomingDir} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil {
			t.Errorf("directory %s does not exist: %v", dir, err)
		} else if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	// Creating twice should not error.
	if _, err := NewStore(root); err != nil {
		t.Fatalf("second NewStore failed: %v", err)
	}
}

func TestAllocateIncomingClaimsDistinctDirectories(t *testing.T) {
	store := newTestStore(t)

	first, err := store.AllocateIncoming()
	if err != nil {
		t.Fatalf("AllocateIncoming failed: %v", err)
	}
	second, err := store.AllocateIncoming()
	if err != nil {
		t.Fatalf("second AllocateIncoming failed: %v", err)
	}
	if first.Path == second.Path {
		t.Errorf("two allocations claimed the same directory %s", first.Path)
	}
	for _, staging := range []*Staging{first, second} {
		for _, dir := range []string{staging.CorePath, staging.CachePath} {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				t.Errorf("staging subdirectory %s missing", dir)
			}
		}
	}
}

func TestAllocateIncomingSkipsClaimedIntegers(t *testing.T) {
	store := newTestStore(t)

	// A stale directory from an interrupted import.
	if err := os.Mkdir(filepath.Join(store.Root(), incomingDir, "7"), 0o755); err != nil {
		t.Fatal(err)
	}

	staging, err := store.AllocateIncoming()
	if err != nil {
		t.Fatalf("AllocateIncoming failed: %v", err)
	}
	if got := filepath.Base(staging.Path); got != "8" {
		t.Errorf("allocation claimed %s, want 8 (after the stale 7)", got)
	}
}

func TestAdoptMovesCoreAndCache(t *testing.T) {
	store := newTestStore(t)
	staging, d := stageDataset(t, store, "samples")

	// Put something in the staged cache so both moves happen.
	if err := os.WriteFile(filepath.Join(staging.CachePath, "task::port.0.idx"), []byte("idx"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Adopt(staging, d); err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}

	if !store.Has(d) {
		t.Error("store does not report the adopted dataset")
	}
	if _, err := os.Stat(filepath.Join(store.CachePath(d), "task::port.0.idx")); err != nil {
		t.Errorf("cache artifact missing after adopt: %v", err)
	}
	if _, err := os.Stat(staging.Path); !os.IsNotExist(err) {
		t.Error("staging directory still present after adopt")
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0] != d {
		t.Errorf("List = %v, want exactly the adopted digest", list)
	}
}

func TestAdoptWithEmptyCache(t *testing.T) {
	store := newTestStore(t)
	staging, d := stageDataset(t, store, "samples")

	if err := store.Adopt(staging, d); err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}
	if _, err := os.Stat(store.CachePath(d)); !os.IsNotExist(err) {
		t.Error("empty staged cache was moved into the store")
	}
}

func TestAdoptConflictOnExistingDigest(t *testing.T) {
	store := newTestStore(t)

	first, d := stageDataset(t, store, "samples")
	if err := store.Adopt(first, d); err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}

	second, sameDigest := stageDataset(t, store, "samples")
	if sameDigest != d {
		t.Fatal("identical content produced different digests")
	}
	err := store.Adopt(second, sameDigest)
	if !errors.Is(err, ErrDatasetExists) {
		t.Fatalf("Adopt onto an existing digest returned %v, want ErrDatasetExists", err)
	}

	// The loser's staging directory survives for inspection.
	if _, statErr := os.Stat(second.CorePath); statErr != nil {
		t.Error("staged core removed after a failed adopt")
	}
}

func TestListIgnoresNonDigestEntries(t *testing.T) {
	store := newTestStore(t)
	staging, d := stageDataset(t, store, "samples")
	if err := store.Adopt(staging, d); err != nil {
		t.Fatal(err)
	}

	if err := os.Mkdir(filepath.Join(store.Root(), coreDir, "not-a-digest"), 0o755); err != nil {
		t.Fatal(err)
	}
	list, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List reported %d datasets, want 1", len(list))
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	staging, d := stageDataset(t, store, "samples")
	if err := store.Adopt(staging, d); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(d); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Has(d) {
		t.Error("store still reports the deleted dataset")
	}
	if err := store.Delete(d); err == nil {
		t.Error("deleting a missing dataset succeeded")
	}
}

func TestLoadIndexRebuildsWhenStale(t *testing.T) {
	store := newTestStore(t)

	records, err := store.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex on empty store failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("empty store index has %d records", len(records))
	}

	staging, d := stageDataset(t, store, "samples")
	if err := store.Adopt(staging, d); err != nil {
		t.Fatal(err)
	}

	records, err = store.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("index has %d records, want 1", len(records))
	}
	if records[0].Digest != digest.Format(d) {
		t.Errorf("record digest = %s, want %s", records[0].Digest, digest.Format(d))
	}
	if records[0].FileCount != 1 || records[0].Size != int64(len("samples")) {
		t.Errorf("record = %+v, want 1 file of %d bytes", records[0], len("samples"))
	}

	// After a delete, the cached index no longer covers the store.
	if err := store.Delete(d); err != nil {
		t.Fatal(err)
	}
	records, err = store.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex after delete failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("index still has %d records after delete", len(records))
	}
}
