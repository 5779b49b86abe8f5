// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rock-core/logstore/lib/digest"
)

// newSealedDataset builds a dataset with two identity entries, writes
// its manifest, and computes its digest.
func newSealedDataset(t *testing.T) *Dataset {
	t.Helper()
	core := t.TempDir()
	built := New(core, filepath.Join(core, ".cache"))
	for name, content := range map[string]string{
		"pocolog/camera::frame.0.log": "frame samples",
		"pocolog/camera::state.0.log": "state samples",
	} {
		if err := built.AddIdentityEntry(name, int64(len(content)), digest.HashFile([]byte(content))); err != nil {
			t.Fatalf("AddIdentityEntry failed: %v", err)
		}
	}
	if err := built.WriteManifest(); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	if _, err := built.ComputeDigest(); err != nil {
		t.Fatalf("ComputeDigest failed: %v", err)
	}
	return built
}

func TestDigestBeforeComputeIsAnError(t *testing.T) {
	built := New(t.TempDir(), "")
	if _, err := built.Digest(); err == nil {
		t.Error("Digest succeeded before ComputeDigest")
	}
}

func TestComputeDigestSealsIdentity(t *testing.T) {
	built := newSealedDataset(t)
	err := built.AddIdentityEntry("late.log", 1, digest.HashFile([]byte("x")))
	if err == nil {
		t.Error("AddIdentityEntry succeeded after digest computation")
	}
}

func TestComputeDigestOrderIndependent(t *testing.T) {
	a := digest.HashFile([]byte("one"))
	b := digest.HashFile([]byte("two"))

	first := New(t.TempDir(), "")
	first.AddIdentityEntry("pocolog/x.0.log", 3, a)
	first.AddIdentityEntry("roby-events.0.log", 3, b)
	firstDigest, err := first.ComputeDigest()
	if err != nil {
		t.Fatal(err)
	}

	second := New(t.TempDir(), "")
	second.AddIdentityEntry("roby-events.1.log", 3, b)
	second.AddIdentityEntry("pocolog/x.0.log", 3, a)
	secondDigest, err := second.ComputeDigest()
	if err != nil {
		t.Fatal(err)
	}

	if firstDigest != secondDigest {
		t.Error("dataset digest depends on entry order or naming")
	}
}

func TestManifestRoundtrip(t *testing.T) {
	built := newSealedDataset(t)
	built.MetadataAdd("description", "dock approach test")
	built.MetadataAdd("tags", "harbor", "autonomous")
	if err := built.WriteManifest(); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	loaded, err := Load(built.CorePath(), built.CachePath())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	builtDigest, _ := built.Digest()
	loadedDigest, err := loaded.Digest()
	if err != nil {
		t.Fatalf("loaded dataset has no digest: %v", err)
	}
	if builtDigest != loadedDigest {
		t.Error("digest changed across manifest roundtrip")
	}

	if got := loaded.MetadataGet("tags"); len(got) != 2 {
		t.Errorf("tags metadata = %v, want 2 values", got)
	}
	if len(loaded.Identity()) != 2 {
		t.Errorf("identity has %d entries, want 2", len(loaded.Identity()))
	}
}

func TestManifestKeepsStreamIntervals(t *testing.T) {
	core := t.TempDir()
	built := New(core, "")
	built.AddIdentityEntry("pocolog/nav::pose.0.log", 10, digest.HashFile([]byte("samples")))
	start := time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)
	built.AddStreamInfo(StreamInfo{
		Path:         "pocolog/nav::pose.0.log",
		Name:         "nav.pose",
		TypeName:     "/base/Pose",
		SampleCount:  4,
		LogicalStart: start,
		LogicalEnd:   start.Add(2 * time.Second),
	})
	if err := built.WriteManifest(); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	loaded, err := Load(core, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	streams := loaded.Streams()
	if len(streams) != 1 {
		t.Fatalf("loaded %d streams, want 1", len(streams))
	}
	if streams[0].SampleCount != 4 || !streams[0].LogicalStart.Equal(start) {
		t.Errorf("stream info changed across roundtrip: %+v", streams[0])
	}
}

func TestLoadRejectsUnknownLayoutVersion(t *testing.T) {
	core := t.TempDir()
	manifest := "layout_version: 99\nidentity:\n  - path: x\n    size: 1\n    digest: " +
		digest.Format(digest.HashFile([]byte("x"))) + "\n"
	if err := os.WriteFile(filepath.Join(core, ManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(core, core); err == nil {
		t.Error("Load accepted an unknown layout version")
	}
}

func TestMetadataAccessors(t *testing.T) {
	built := New(t.TempDir(), "")

	built.MetadataAdd("tags", "sim")
	built.MetadataAdd("tags", "sim", "night")
	if got := built.MetadataGet("tags"); len(got) != 2 {
		t.Errorf("MetadataAdd kept duplicates: %v", got)
	}

	built.MetadataSet("tags", "replaced")
	value, err := built.MetadataFetch("tags")
	if err != nil || value != "replaced" {
		t.Errorf("MetadataFetch = %q, %v; want %q", value, err, "replaced")
	}

	built.MetadataAdd("tags", "second")
	if _, err := built.MetadataFetch("tags"); err == nil {
		t.Error("MetadataFetch succeeded on a multi-valued key")
	}

	if value, err := built.MetadataFetch("absent"); err != nil || value != "" {
		t.Errorf("MetadataFetch on absent key = %q, %v", value, err)
	}
}

func TestImportMarkerRoundtrip(t *testing.T) {
	source := t.TempDir()

	marker, err := ReadImportMarker(source)
	if err != nil {
		t.Fatalf("ReadImportMarker on a fresh directory failed: %v", err)
	}
	if marker != nil {
		t.Fatal("fresh directory reports an import marker")
	}

	datasetDigest := digest.HashFile([]byte("dataset"))
	when := time.Date(2026, 5, 2, 15, 4, 5, 0, time.UTC)
	if err := WriteImportMarker(source, datasetDigest, when); err != nil {
		t.Fatalf("WriteImportMarker failed: %v", err)
	}

	marker, err = ReadImportMarker(source)
	if err != nil {
		t.Fatalf("ReadImportMarker failed: %v", err)
	}
	if marker == nil {
		t.Fatal("marker not found after write")
	}
	parsed, err := marker.ParsedDigest()
	if err != nil {
		t.Fatalf("ParsedDigest failed: %v", err)
	}
	if parsed != datasetDigest {
		t.Error("marker digest does not match the written digest")
	}
	if !marker.Time.Equal(when) {
		t.Errorf("marker time = %v, want %v", marker.Time, when)
	}
}

func TestReadImportMarkerRejectsMalformed(t *testing.T) {
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, ImportMarkerName), []byte(":\tnot yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadImportMarker(source); err == nil {
		t.Error("ReadImportMarker accepted a malformed marker")
	}
}

func TestLoadSessionInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info.yml")
	content := "description: dock approach\ntags:\n  - harbor\n  - night\nrun: 42\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := LoadSessionInfo(path)
	if err != nil {
		t.Fatalf("LoadSessionInfo failed: %v", err)
	}
	if got := info["description"]; len(got) != 1 || got[0] != "dock approach" {
		t.Errorf("description = %v", got)
	}
	if got := info["tags"]; len(got) != 2 || got[1] != "night" {
		t.Errorf("tags = %v", got)
	}
	if got := info["run"]; len(got) != 1 || got[0] != "42" {
		t.Errorf("run = %v", got)
	}
}

func TestLoadSessionInfoMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info.yml")
	if err := os.WriteFile(path, []byte("{unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSessionInfo(path); err == nil {
		t.Error("LoadSessionInfo accepted malformed YAML")
	}
}

func TestWriteManifestDeterministic(t *testing.T) {
	first := newSealedDataset(t)
	second := newSealedDataset(t)

	firstBytes, err := os.ReadFile(filepath.Join(first.CorePath(), ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	secondBytes, err := os.ReadFile(filepath.Join(second.CorePath(), ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	if string(firstBytes) != string(secondBytes) {
		t.Error("identical datasets produced different manifest bytes")
	}
}
