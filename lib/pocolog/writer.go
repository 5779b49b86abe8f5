// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package pocolog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"
)

// Writer produces a pocolog file block by block. Normalization uses
// it to rewrite raw recordings into the canonical one-stream-per-file
// layout; tests use it to fabricate fixtures.
//
// Declarations are encoded deterministically (metadata keys sorted),
// so writing the same streams and samples twice produces byte-identical
// files.
type Writer struct {
	out         io.Writer
	streamCount int
}

// NewWriter writes the file header to out and returns a block writer.
func NewWriter(out io.Writer) (*Writer, error) {
	if err := writeHeader(out); err != nil {
		return nil, err
	}
	return &Writer{out: out}, nil
}

// DeclareStream appends a stream declaration block and returns the
// index to use for the stream's data blocks.
func (w *Writer) DeclareStream(name, typeName string, metadata map[string]string) (int, error) {
	if w.streamCount > 0xffff {
		return 0, fmt.Errorf("stream count exceeds format limit")
	}

	var payload bytes.Buffer
	if err := writeString(&payload, name); err != nil {
		return 0, fmt.Errorf("encoding stream name: %w", err)
	}
	if err := writeString(&payload, typeName); err != nil {
		return 0, fmt.Errorf("encoding stream type: %w", err)
	}

	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(keys)))
	payload.Write(count[:])
	for _, key := range keys {
		if err := writeString(&payload, key); err != nil {
			return 0, fmt.Errorf("encoding metadata key: %w", err)
		}
		if err := writeString(&payload, metadata[key]); err != nil {
			return 0, fmt.Errorf("encoding metadata value: %w", err)
		}
	}

	index := w.streamCount
	if err := w.writeBlock(blockStreamDeclaration, index, payload.Bytes()); err != nil {
		return 0, err
	}
	w.streamCount++
	return index, nil
}

// WriteSample appends a data block for the given stream index.
func (w *Writer) WriteSample(streamIndex int, realtime, logical time.Time, data []byte) error {
	if streamIndex < 0 || streamIndex >= w.streamCount {
		return fmt.Errorf("sample for undeclared stream %d", streamIndex)
	}
	if len(data) > MaxSampleSize {
		return fmt.Errorf("sample payload of %d bytes exceeds size limit", len(data))
	}

	payload := make([]byte, 20+len(data))
	binary.LittleEndian.PutUint64(payload[0:8], uint64(realtime.UnixMicro()))
	binary.LittleEndian.PutUint64(payload[8:16], uint64(logical.UnixMicro()))
	binary.LittleEndian.PutUint32(payload[16:20], uint32(len(data)))
	copy(payload[20:], data)

	return w.writeBlock(blockData, streamIndex, payload)
}

// writeBlock writes one block header and payload.
func (w *Writer) writeBlock(blockType uint8, streamIndex int, payload []byte) error {
	header := make([]byte, blockHeaderSize)
	header[0] = blockType
	binary.LittleEndian.PutUint16(header[1:3], uint16(streamIndex))
	binary.LittleEndian.PutUint32(header[3:7], uint32(len(payload)))

	if _, err := w.out.Write(header); err != nil {
		return fmt.Errorf("writing block header: %w", err)
	}
	if _, err := w.out.Write(payload); err != nil {
		return fmt.Errorf("writing block payload: %w", err)
	}
	return nil
}
