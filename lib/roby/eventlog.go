// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package roby handles the auxiliary Roby event log that deployments
// write alongside pocolog streams. The datastore never interprets
// events — it only validates the header, copies the file verbatim,
// and maintains the derived event-offset index.
package roby

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Event log format constants.
const (
	// Magic is the file magic at offset 0 of every Roby event log.
	Magic = "ROBYLOG"

	// FormatVersion is the current event log version. Logs written by
	// older Roby versions declare a lower number and cannot be indexed
	// by this code; they are preserved verbatim but skipped by index
	// maintenance.
	FormatVersion = 5

	// headerSize is magic(7) + version(4).
	headerSize = len(Magic) + 4
)

// ErrObsoleteFormat reports an event log whose declared version
// predates FormatVersion. Callers skip indexing with a warning
// instead of failing the import.
var ErrObsoleteFormat = errors.New("obsolete Roby event log format")

// CheckMagic reads the header from r and reports whether it is a Roby
// event log of any version.
func CheckMagic(r io.Reader) bool {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return false
	}
	return string(header[:len(Magic)]) == Magic
}

// Version returns the format version declared in the file header.
func Version(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return 0, fmt.Errorf("reading event log header of %s: %w", path, err)
	}
	if string(header[:len(Magic)]) != Magic {
		return 0, fmt.Errorf("%s is not a Roby event log", path)
	}
	return int(binary.LittleEndian.Uint32(header[len(Magic):])), nil
}

// CheckFormat validates that the event log at path can be indexed.
// Returns ErrObsoleteFormat (wrapped) for logs predating
// FormatVersion.
func CheckFormat(path string) error {
	version, err := Version(path)
	if err != nil {
		return err
	}
	if version < FormatVersion {
		return fmt.Errorf("%s declares version %d, current is %d: %w",
			path, version, FormatVersion, ErrObsoleteFormat)
	}
	if version > FormatVersion {
		return fmt.Errorf("%s declares version %d, newer than supported %d",
			path, version, FormatVersion)
	}
	return nil
}

// Index file format constants. Same conventions as the pocolog index:
// source fingerprint in the header, CRC32C over the record area,
// atomic temp-then-rename publication.
const (
	indexMagic   = "RBIX"
	indexVersion = 1

	// magic(4) + version(4) + sourceSize(8) + sourceModTime(8) +
	// recordCount(4) = 28 bytes.
	indexHeaderSize = 28

	// Each record is one absolute event offset: 8 bytes.
	indexRecordSize = 8
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// IndexPath returns the expected index location for an event log:
// "<base>-index.log" under cacheDir, mirroring the layout Roby's own
// tooling expects next to "<base>-events.log".
func IndexPath(eventLogPath, cacheDir string) string {
	base := strings.TrimSuffix(filepath.Base(eventLogPath), ".log")
	base = strings.TrimSuffix(base, "-events")
	return filepath.Join(cacheDir, base+"-index.log")
}

// IsIndexValid reports whether a valid index for eventLogPath exists
// at indexPath. Any parse or fingerprint mismatch reads as stale.
func IsIndexValid(eventLogPath, indexPath string) bool {
	sourceInfo, err := os.Stat(eventLogPath)
	if err != nil {
		return false
	}
	size, modTime, _, err := readIndex(indexPath)
	if err != nil {
		return false
	}
	return size == sourceInfo.Size() && modTime == sourceInfo.ModTime().UnixNano()
}

// BuildIndex scans the event log and writes a fresh offset index at
// indexPath, via a temporary file and an atomic rename.
func BuildIndex(eventLogPath, indexPath string) error {
	if err := CheckFormat(eventLogPath); err != nil {
		return err
	}
	offsets, err := scanOffsets(eventLogPath)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", eventLogPath, err)
	}

	sourceInfo, err := os.Stat(eventLogPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", eventLogPath, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(indexPath), ".index-*")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := encodeIndex(tmpFile, sourceInfo.Size(), sourceInfo.ModTime().UnixNano(), offsets); err != nil {
		return fmt.Errorf("writing index for %s: %w", eventLogPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp index file: %w", err)
	}
	if err := os.Rename(tmpPath, indexPath); err != nil {
		return fmt.Errorf("renaming index file to %s: %w", indexPath, err)
	}

	success = true
	return nil
}

// ReadOffsets loads a verified index and returns the event offsets.
func ReadOffsets(indexPath string) ([]int64, error) {
	_, _, offsets, err := readIndex(indexPath)
	return offsets, err
}

func readIndex(indexPath string) (sourceSize, sourceModTime int64, offsets []int64, err error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(data) < indexHeaderSize+4 {
		return 0, 0, nil, fmt.Errorf("index file %s is %d bytes, shorter than the fixed header", indexPath, len(data))
	}
	if string(data[0:4]) != indexMagic {
		return 0, 0, nil, fmt.Errorf("index file %s has bad magic %q", indexPath, data[0:4])
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != indexVersion {
		return 0, 0, nil, fmt.Errorf("index file %s has unsupported version %d", indexPath, version)
	}

	sourceSize = int64(binary.LittleEndian.Uint64(data[8:16]))
	sourceModTime = int64(binary.LittleEndian.Uint64(data[16:24]))
	recordCount := int(binary.LittleEndian.Uint32(data[24:28]))

	recordBytes := recordCount * indexRecordSize
	if len(data) != indexHeaderSize+recordBytes+4 {
		return 0, 0, nil, fmt.Errorf("index file %s declares %d records but is %d bytes",
			indexPath, recordCount, len(data))
	}
	records := data[indexHeaderSize : indexHeaderSize+recordBytes]
	storedCRC := binary.LittleEndian.Uint32(data[indexHeaderSize+recordBytes:])
	if computed := crc32.Checksum(records, crc32cTable); computed != storedCRC {
		return 0, 0, nil, fmt.Errorf("index file %s checksum mismatch", indexPath)
	}

	offsets = make([]int64, recordCount)
	for i := range offsets {
		offsets[i] = int64(binary.LittleEndian.Uint64(records[i*indexRecordSize:]))
	}
	return sourceSize, sourceModTime, offsets, nil
}

func encodeIndex(w io.Writer, sourceSize, sourceModTime int64, offsets []int64) error {
	header := make([]byte, indexHeaderSize)
	copy(header, indexMagic)
	binary.LittleEndian.PutUint32(header[4:8], indexVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(sourceSize))
	binary.LittleEndian.PutUint64(header[16:24], uint64(sourceModTime))
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(offsets)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	records := make([]byte, len(offsets)*indexRecordSize)
	for i, offset := range offsets {
		binary.LittleEndian.PutUint64(records[i*indexRecordSize:], uint64(offset))
	}
	if _, err := w.Write(records); err != nil {
		return err
	}

	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.Checksum(records, crc32cTable))
	_, err := w.Write(crc[:])
	return err
}

// scanOffsets walks the event log's length-prefixed event blocks and
// returns the absolute offset of each block.
func scanOffsets(eventLogPath string) ([]int64, error) {
	file, err := os.Open(eventLogPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	source := bufio.NewReader(file)
	if _, err := io.CopyN(io.Discard, source, int64(headerSize)); err != nil {
		return nil, fmt.Errorf("reading event log header: %w", err)
	}
	offset := int64(headerSize)

	var offsets []int64
	var length [4]byte
	for {
		if _, err := io.ReadFull(source, length[:]); err != nil {
			if err == io.EOF {
				return offsets, nil
			}
			return nil, fmt.Errorf("truncated event block at offset %d: %w", offset, err)
		}
		eventSize := int64(binary.LittleEndian.Uint32(length[:]))
		if _, err := io.CopyN(io.Discard, source, eventSize); err != nil {
			return nil, fmt.Errorf("truncated event block at offset %d: %w", offset, err)
		}
		offsets = append(offsets, offset)
		offset += 4 + eventSize
	}
}

// WriteEventLog writes a well-formed event log with the given payloads
// as its event blocks. Deployments produce these files; within the
// datastore this writer only backs tests and tooling.
func WriteEventLog(w io.Writer, version int, events [][]byte) error {
	header := make([]byte, headerSize)
	copy(header, Magic)
	binary.LittleEndian.PutUint32(header[len(Magic):], uint32(version))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing event log header: %w", err)
	}
	var length [4]byte
	for _, event := range events {
		binary.LittleEndian.PutUint32(length[:], uint32(len(event)))
		if _, err := w.Write(length[:]); err != nil {
			return err
		}
		if _, err := w.Write(event); err != nil {
			return err
		}
	}
	return nil
}
