// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package normalize rewrites raw pocolog recordings into the
// canonical per-stream layout and keeps the derived index artifacts
// fresh.
//
// Raw recordings arrive as per-deployment files split into numbered
// segments ("camera.0.log", "camera.1.log", ...), each carrying many
// streams. The canonical layout is one file per stream, named
// "<task>::<object>.N.log", which is what replay and analysis bind
// against. Normalization is deterministic: the same input set always
// produces byte-identical output and identical digests.
package normalize

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rock-core/logstore/lib/digest"
	"github.com/rock-core/logstore/lib/pocolog"
)

// Options configures a normalization pass.
type Options struct {
	// Logger receives structured progress and warning entries.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Reporter receives byte-count progress. Defaults to NullReporter.
	Reporter Reporter

	// ComputeDigests enables per-output-file content digests. When
	// false every returned Result carries the zero digest.
	ComputeDigests bool
}

func (o *Options) fill() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Reporter == nil {
		o.Reporter = NullReporter{}
	}
}

// segmentPattern matches the numbered-segment naming of raw pocolog
// files: "<basename>.<n>.log" with an optional compression suffix.
var segmentPattern = regexp.MustCompile(`^(.+)\.(\d+)\.log(\.zst|\.lz4)?$`)

// segment is one raw file assigned to its logical recording group.
type segment struct {
	path   string
	number int
}

// GroupSegments splits raw file paths into logical recordings: files
// sharing a basename are segments of one recording, ordered by their
// segment number. Files that do not match the segment naming form a
// single-file group of their own.
func GroupSegments(files []string) map[string][]string {
	groups := make(map[string][]segment)
	for _, path := range files {
		match := segmentPattern.FindStringSubmatch(filepath.Base(path))
		if match == nil {
			groups[filepath.Base(path)] = append(groups[filepath.Base(path)], segment{path: path})
			continue
		}
		number, _ := strconv.Atoi(match[2])
		groups[match[1]] = append(groups[match[1]], segment{path: path, number: number})
	}

	result := make(map[string][]string, len(groups))
	for base, segments := range groups {
		// Equal numbers happen when several source directories
		// contribute a same-named file. The path tie-break pins the
		// merge order to the file set itself, not to the order the
		// caller listed the directories in.
		sort.Slice(segments, func(i, j int) bool {
			if segments[i].number != segments[j].number {
				return segments[i].number < segments[j].number
			}
			return segments[i].path < segments[j].path
		})
		paths := make([]string, len(segments))
		for i, s := range segments {
			paths[i] = s.path
		}
		result[base] = paths
	}
	return result
}

// Result describes one canonical file written by Normalize.
type Result struct {
	// Digest is the file's content digest, zero unless Options
	// requested digests.
	Digest digest.Digest

	// Stream is the merged stream the file holds, with intervals and
	// sample counts accumulated across input segments.
	Stream *pocolog.Stream
}

// Normalize rewrites the given raw pocolog files into the canonical
// per-stream layout under outputDir, decompressing into cacheDir as
// needed. Returns a Result for each written output path.
//
// Output file names are "<task>::<object>.N.log". N is 0 unless two
// recording groups carry a stream with the same task and object, in
// which case later groups get the next free number.
func Normalize(files []string, outputDir, cacheDir string, options Options) (map[string]Result, error) {
	options.fill()

	for _, dir := range []string{outputDir, cacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	// Decompress everything first so grouping and scanning see plain
	// files only.
	plainGroups := make(map[string][]string)
	for base, groupFiles := range GroupSegments(files) {
		for _, path := range groupFiles {
			plain, err := Decompress(path, cacheDir)
			if err != nil {
				return nil, err
			}
			plainGroups[base] = append(plainGroups[base], plain)
		}
	}

	// Deterministic group order: output numbering must not depend on
	// map iteration.
	bases := make([]string, 0, len(plainGroups))
	for base := range plainGroups {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	// Scan all groups up front: the reporter total is sample payload
	// bytes, which is what the copy loop advances by.
	groups := make(map[string]*pocolog.Group, len(bases))
	var totalBytes int64
	for _, base := range bases {
		group, err := pocolog.OpenGroup(plainGroups[base])
		if err != nil {
			return nil, err
		}
		groups[base] = group
		for _, stream := range group.Streams() {
			totalBytes += stream.Size
		}
	}

	options.Reporter.Start(totalBytes)
	defer options.Reporter.Finish()

	results := make(map[string]Result)
	nextNumber := make(map[string]int)

	for _, base := range bases {
		for _, stream := range groups[base].Streams() {
			streamName := fmt.Sprintf("%s::%s", stream.TaskName(), stream.ObjectName())
			outputName := fmt.Sprintf("%s.%d.log", streamName, nextNumber[streamName])
			nextNumber[streamName]++
			outputPath := filepath.Join(outputDir, outputName)

			options.Logger.Debug("normalizing stream",
				"stream", stream.Name, "output", outputName, "samples", stream.SampleCount)

			fileDigest, err := writeStreamFile(groups[base], stream, outputPath, options)
			if err != nil {
				return nil, fmt.Errorf("normalizing stream %s from %s: %w", stream.Name, base, err)
			}
			results[outputPath] = Result{Digest: fileDigest, Stream: stream}
		}
	}

	return results, nil
}

// writeStreamFile rewrites one stream into a fresh single-stream
// pocolog file and returns its content digest (zero unless digests
// were requested).
func writeStreamFile(group *pocolog.Group, stream *pocolog.Stream, outputPath string, options Options) (digest.Digest, error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return digest.Empty, fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer file.Close()

	var sink io.Writer = file
	var digestWriter *digest.Writer
	if options.ComputeDigests {
		digestWriter = digest.NewWriter(file)
		sink = digestWriter
	}

	writer, err := pocolog.NewWriter(sink)
	if err != nil {
		return digest.Empty, err
	}
	streamIndex, err := writer.DeclareStream(stream.Name, stream.TypeName, stream.Metadata)
	if err != nil {
		return digest.Empty, err
	}

	err = group.EachSample(stream, func(sample *pocolog.Sample) error {
		if err := writer.WriteSample(streamIndex, sample.Realtime, sample.Logical, sample.Data); err != nil {
			return err
		}
		options.Reporter.Advance(int64(len(sample.Data)))
		return nil
	})
	if err != nil {
		return digest.Empty, err
	}
	if err := file.Close(); err != nil {
		return digest.Empty, fmt.Errorf("closing %s: %w", outputPath, err)
	}

	if digestWriter != nil {
		return digestWriter.Digest(), nil
	}
	return digest.Empty, nil
}
