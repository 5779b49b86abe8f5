// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package pocolog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Index file format constants.
const (
	indexMagic   = "PLIX" // Pocolog Index
	indexVersion = 1

	// Fixed header: magic(4) + version(4) + sourceSize(8) +
	// sourceModTime(8) + recordCount(4) = 28 bytes.
	indexHeaderSize = 28

	// Each record: streamIndex(4) + fileOffset(8) + realtime(8) +
	// logical(8) = 28 bytes.
	indexRecordSize = 28
)

// crc32cTable is the CRC32C (Castagnoli) table for index checksums.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// IndexRecord locates one sample within the source log file.
type IndexRecord struct {
	StreamIndex int
	FileOffset  int64
	RealtimeUs  int64
	LogicalUs   int64
}

// Index is the decoded content of a pocolog index file: the source
// fingerprint it was built against plus one record per sample, in
// file order.
type Index struct {
	SourceSize    int64
	SourceModTime int64 // unix nanoseconds
	Records       []IndexRecord
}

// IndexPath returns the expected index location for a log file: the
// log's base name with a ".idx" suffix under cacheDir.
func IndexPath(logPath, cacheDir string) string {
	base := strings.TrimSuffix(filepath.Base(logPath), ".log")
	return filepath.Join(cacheDir, base+".idx")
}

// IsIndexValid reports whether a valid index for logPath exists at
// indexPath. Valid means the file parses, its checksum matches, and
// its recorded source size and mtime match the log file's current
// stat. Any failure reads as "stale": the caller rebuilds.
func IsIndexValid(logPath, indexPath string) bool {
	sourceInfo, err := os.Stat(logPath)
	if err != nil {
		return false
	}
	index, err := ReadIndex(indexPath)
	if err != nil {
		return false
	}
	return index.SourceSize == sourceInfo.Size() &&
		index.SourceModTime == sourceInfo.ModTime().UnixNano()
}

// BuildIndex scans logPath and writes a fresh index at indexPath. The
// index is written to a temporary file in the same directory and
// atomically renamed into place, so a crash mid-rebuild never leaves
// a partial index visible.
func BuildIndex(logPath, indexPath string) error {
	records, err := scanOffsets(logPath)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", logPath, err)
	}

	sourceInfo, err := os.Stat(logPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", logPath, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(indexPath), ".idx-*")
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

	if err := encodeIndex(tmpFile, sourceInfo.Size(), sourceInfo.ModTime().UnixNano(), records); err != nil {
		return fmt.Errorf("writing index for %s: %w", logPath, err)
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

// ReadIndex loads and verifies an index file.
func ReadIndex(indexPath string) (*Index, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, err
	}
	if len(data) < indexHeaderSize+4 {
		return nil, fmt.Errorf("index file %s is %d bytes, shorter than the fixed header", indexPath, len(data))
	}
	if string(data[0:4]) != indexMagic {
		return nil, fmt.Errorf("index file %s has bad magic %q", indexPath, data[0:4])
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != indexVersion {
		return nil, fmt.Errorf("index file %s has unsupported version %d", indexPath, version)
	}

	index := &Index{
		SourceSize:    int64(binary.LittleEndian.Uint64(data[8:16])),
		SourceModTime: int64(binary.LittleEndian.Uint64(data[16:24])),
	}
	recordCount := int(binary.LittleEndian.Uint32(data[24:28]))

	recordBytes := recordCount * indexRecordSize
	if len(data) != indexHeaderSize+recordBytes+4 {
		return nil, fmt.Errorf("index file %s declares %d records but is %d bytes",
			indexPath, recordCount, len(data))
	}

	records := data[indexHeaderSize : indexHeaderSize+recordBytes]
	storedCRC := binary.LittleEndian.Uint32(data[indexHeaderSize+recordBytes:])
	if computed := crc32.Checksum(records, crc32cTable); computed != storedCRC {
		return nil, fmt.Errorf("index file %s checksum mismatch (stored %08x, computed %08x)",
			indexPath, storedCRC, computed)
	}

	index.Records = make([]IndexRecord, recordCount)
	for i := range index.Records {
		record := records[i*indexRecordSize:]
		index.Records[i] = IndexRecord{
			StreamIndex: int(binary.LittleEndian.Uint32(record[0:4])),
			FileOffset:  int64(binary.LittleEndian.Uint64(record[4:12])),
			RealtimeUs:  int64(binary.LittleEndian.Uint64(record[12:20])),
			LogicalUs:   int64(binary.LittleEndian.Uint64(record[20:28])),
		}
	}
	return index, nil
}

// encodeIndex writes the full index file content to w.
func encodeIndex(w io.Writer, sourceSize, sourceModTime int64, records []IndexRecord) error {
	header := make([]byte, indexHeaderSize)
	copy(header, indexMagic)
	binary.LittleEndian.PutUint32(header[4:8], indexVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(sourceSize))
	binary.LittleEndian.PutUint64(header[16:24], uint64(sourceModTime))
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(records)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	recordBytes := make([]byte, len(records)*indexRecordSize)
	for i, record := range records {
		encoded := recordBytes[i*indexRecordSize:]
		binary.LittleEndian.PutUint32(encoded[0:4], uint32(record.StreamIndex))
		binary.LittleEndian.PutUint64(encoded[4:12], uint64(record.FileOffset))
		binary.LittleEndian.PutUint64(encoded[12:20], uint64(record.RealtimeUs))
		binary.LittleEndian.PutUint64(encoded[20:28], uint64(record.LogicalUs))
	}
	if _, err := w.Write(recordBytes); err != nil {
		return err
	}

	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.Checksum(recordBytes, crc32cTable))
	_, err := w.Write(crc[:])
	return err
}

// scanOffsets walks the block structure of a log file and returns one
// record per data block. Unlike Reader, it tracks absolute file
// offsets, which is the whole point of the index.
func scanOffsets(logPath string) ([]IndexRecord, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	source := bufio.NewReader(file)
	if _, err := readHeader(source); err != nil {
		return nil, err
	}
	offset := int64(headerSize)

	var records []IndexRecord
	header := make([]byte, blockHeaderSize)
	for {
		if _, err := io.ReadFull(source, header); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, fmt.Errorf("truncated block header at offset %d: %w", offset, err)
		}

		blockType := header[0]
		streamIndex := int(binary.LittleEndian.Uint16(header[1:3]))
		payloadSize := int64(binary.LittleEndian.Uint32(header[3:7]))
		if payloadSize > MaxSampleSize {
			return nil, fmt.Errorf("block at offset %d declares %d payload bytes", offset, payloadSize)
		}

		if blockType == blockData {
			if payloadSize < 20 {
				return nil, fmt.Errorf("data block at offset %d declares %d payload bytes, need at least 20", offset, payloadSize)
			}
			timestamps := make([]byte, 16)
			if _, err := io.ReadFull(source, timestamps); err != nil {
				return nil, fmt.Errorf("truncated data block at offset %d: %w", offset, err)
			}
			records = append(records, IndexRecord{
				StreamIndex: streamIndex,
				FileOffset:  offset,
				RealtimeUs:  int64(binary.LittleEndian.Uint64(timestamps[0:8])),
				LogicalUs:   int64(binary.LittleEndian.Uint64(timestamps[8:16])),
			})
			if _, err := io.CopyN(io.Discard, source, payloadSize-16); err != nil {
				return nil, fmt.Errorf("truncated data block at offset %d: %w", offset, err)
			}
		} else {
			if _, err := io.CopyN(io.Discard, source, payloadSize); err != nil {
				return nil, fmt.Errorf("truncated block at offset %d: %w", offset, err)
			}
		}

		offset += int64(blockHeaderSize) + payloadSize
	}
}
