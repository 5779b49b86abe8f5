// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/rock-core/logstore/lib/digest"
)

// Compression suffixes recognized on raw log files. Recording rigs
// with slow disks compress logs on rotation; the datastore only ever
// stores the plain form.
const (
	suffixZstd = ".zst"
	suffixLZ4  = ".lz4"
)

// IsCompressed reports whether path carries a recognized compression
// suffix.
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, suffixZstd) || strings.HasSuffix(path, suffixLZ4)
}

// PlainName strips a recognized compression suffix, returning the
// name the decompressed file will have.
func PlainName(path string) string {
	path = strings.TrimSuffix(path, suffixZstd)
	return strings.TrimSuffix(path, suffixLZ4)
}

// Decompress ensures a plain (decompressed) copy of path exists and
// returns its location. Plain inputs are returned as-is. Compressed
// inputs are inflated into cacheDir, via a temporary file and an
// atomic rename so a crash never leaves a partial plain file visible.
// The copy's name carries a short hash of the source path, so two
// directories both contributing "nav.0.log.zst" inflate to distinct
// cache files instead of silently replacing each other.
func Decompress(path, cacheDir string) (string, error) {
	if !IsCompressed(path) {
		return path, nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory %s: %w", cacheDir, err)
	}

	target := filepath.Join(cacheDir, plainCacheName(path))

	source, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer source.Close()

	decompressor, closeDecompressor, err := wrapDecompressor(path, source)
	if err != nil {
		return "", err
	}
	defer closeDecompressor()

	tmpFile, err := os.CreateTemp(cacheDir, ".decompress-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file in %s: %w", cacheDir, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, decompressor); err != nil {
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing decompressed copy of %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", fmt.Errorf("renaming decompressed copy to %s: %w", target, err)
	}

	success = true
	return target, nil
}

// plainCacheName is the cache file name for the plain copy of one
// compressed input, disambiguated by the source path.
func plainCacheName(path string) string {
	pathHash := digest.Format(digest.HashFile([]byte(path)))
	return fmt.Sprintf("%s-%s", pathHash[:8], filepath.Base(PlainName(path)))
}

// Open returns a reader over the plain content of path, decompressing
// transparently. Used for magic probes during classification, where a
// full decompression pass would be wasted work.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(path) {
		return file, nil
	}

	decompressor, closeDecompressor, err := wrapDecompressor(path, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &decompressReader{
		reader: decompressor,
		close: func() error {
			closeDecompressor()
			return file.Close()
		},
	}, nil
}

type decompressReader struct {
	reader io.Reader
	close  func() error
}

func (r *decompressReader) Read(p []byte) (int, error) { return r.reader.Read(p) }
func (r *decompressReader) Close() error               { return r.close() }

// wrapDecompressor returns a decompressing reader over source, chosen
// by the file's suffix, plus a release function.
func wrapDecompressor(path string, source io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, suffixZstd):
		decoder, err := zstd.NewReader(source)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing zstd decoder for %s: %w", path, err)
		}
		return decoder, decoder.Close, nil

	case strings.HasSuffix(path, suffixLZ4):
		return lz4.NewReader(source), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%s has no recognized compression suffix", path)
	}
}
