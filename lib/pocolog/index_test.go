// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package pocolog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildIndexAndReadBack(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFixture(t, dir, "camera.0.log")
	indexPath := IndexPath(logPath, dir)

	if err := BuildIndex(logPath, indexPath); err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}

	index, err := ReadIndex(indexPath)
	if err != nil {
		t.Fatalf("ReadIndex failed: %v", err)
	}
	if len(index.Records) != 8 {
		t.Errorf("index has %d records, want 8", len(index.Records))
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if index.SourceSize != info.Size() {
		t.Errorf("index source size = %d, want %d", index.SourceSize, info.Size())
	}

	// Offsets must be strictly increasing and within the file.
	previous := int64(0)
	for i, record := range index.Records {
		if record.FileOffset <= previous {
			t.Errorf("record %d offset %d not after %d", i, record.FileOffset, previous)
		}
		if record.FileOffset >= info.Size() {
			t.Errorf("record %d offset %d beyond file size %d", i, record.FileOffset, info.Size())
		}
		previous = record.FileOffset
	}
}

func TestIndexPath(t *testing.T) {
	got := IndexPath("/data/session/camera.0.log", "/cache/pocolog")
	want := filepath.Join("/cache/pocolog", "camera.0.idx")
	if got != want {
		t.Errorf("IndexPath = %q, want %q", got, want)
	}
}

func TestIsIndexValid(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFixture(t, dir, "camera.0.log")
	indexPath := IndexPath(logPath, dir)

	if IsIndexValid(logPath, indexPath) {
		t.Error("missing index reported valid")
	}

	if err := BuildIndex(logPath, indexPath); err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}
	if !IsIndexValid(logPath, indexPath) {
		t.Error("fresh index reported stale")
	}

	// Appending to the source invalidates the index.
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	writer := &Writer{out: file, streamCount: 2}
	if err := writer.WriteSample(0, time.Now(), time.Now(), []byte("late")); err != nil {
		t.Fatal(err)
	}
	file.Close()

	if IsIndexValid(logPath, indexPath) {
		t.Error("index reported valid after the source grew")
	}
}

func TestReadIndexDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFixture(t, dir, "camera.0.log")
	indexPath := IndexPath(logPath, dir)
	if err := BuildIndex(logPath, indexPath); err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a byte inside the record area.
	data[indexHeaderSize+3] ^= 0xFF
	if err := os.WriteFile(indexPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadIndex(indexPath); err == nil {
		t.Error("ReadIndex accepted a corrupted record area")
	}
	if IsIndexValid(logPath, indexPath) {
		t.Error("corrupted index reported valid")
	}
}

func TestBuildIndexLeavesNoTempOnFailure(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "broken.0.log")
	// Valid header, truncated block.
	if err := os.WriteFile(logPath, append([]byte(Magic), 2, 0, 0, 0, blockData), 0o644); err != nil {
		t.Fatal(err)
	}

	indexPath := IndexPath(logPath, dir)
	if err := BuildIndex(logPath, indexPath); err == nil {
		t.Fatal("BuildIndex succeeded on a truncated log")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() != "broken.0.log" {
			t.Errorf("rebuild failure left %s behind", entry.Name())
		}
	}
}
