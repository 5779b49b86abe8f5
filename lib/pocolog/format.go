// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package pocolog

import (
	"encoding/binary"
	"fmt"
	"io"
)

// On-disk format constants. These values are protocol constants —
// changing them breaks compatibility with existing log files.
const (
	// Magic is the file magic at offset 0 of every pocolog file.
	Magic = "POCOSIM"

	// FormatVersion is the current container format version.
	FormatVersion = 2

	// headerSize is magic(7) + version(4).
	headerSize = len(Magic) + 4

	// blockHeaderSize is type(1) + streamIndex(2) + payloadSize(4).
	blockHeaderSize = 7
)

// Block types.
const (
	blockStreamDeclaration uint8 = 1
	blockData              uint8 = 2
)

// MaxSampleSize bounds a single sample payload. Guards block parsing
// against corrupt size fields claiming multi-gigabyte samples.
const MaxSampleSize = 1 << 30

// Well-known stream metadata keys set by the logging-side components.
const (
	MetadataTaskName   = "rock_task_name"
	MetadataTaskObject = "rock_task_object"
	MetadataStreamType = "rock_stream_type"
)

// CheckMagic reads the file header from r and reports whether it is a
// pocolog file of a supported version. Consumes exactly the header
// bytes on success.
func CheckMagic(r io.Reader) bool {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return false
	}
	if string(header[:len(Magic)]) != Magic {
		return false
	}
	return binary.LittleEndian.Uint32(header[len(Magic):]) == FormatVersion
}

// readHeader validates the file header and returns the format version.
func readHeader(r io.Reader) (uint32, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("reading pocolog header: %w", err)
	}
	if string(header[:len(Magic)]) != Magic {
		return 0, fmt.Errorf("bad pocolog magic %q", header[:len(Magic)])
	}
	version := binary.LittleEndian.Uint32(header[len(Magic):])
	if version != FormatVersion {
		return 0, fmt.Errorf("unsupported pocolog format version %d (current is %d)",
			version, FormatVersion)
	}
	return version, nil
}

// writeHeader writes the file magic and current format version.
func writeHeader(w io.Writer) error {
	header := make([]byte, headerSize)
	copy(header, Magic)
	binary.LittleEndian.PutUint32(header[len(Magic):], FormatVersion)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing pocolog header: %w", err)
	}
	return nil
}

// string encoding: uint16 length followed by raw bytes.

func writeString(w io.Writer, s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("string of %d bytes exceeds format limit", len(s))
	}
	var length [2]byte
	binary.LittleEndian.PutUint16(length[:], uint16(len(s)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var length [2]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return "", err
	}
	buffer := make([]byte, binary.LittleEndian.Uint16(length[:]))
	if _, err := io.ReadFull(r, buffer); err != nil {
		return "", err
	}
	return string(buffer), nil
}
