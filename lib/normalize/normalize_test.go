// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rock-core/logstore/lib/digest"
	"github.com/rock-core/logstore/lib/pocolog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeRawLog writes a two-stream raw pocolog file and returns its
// path.
func writeRawLog(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	writer, err := pocolog.NewWriter(file)
	if err != nil {
		t.Fatal(err)
	}
	pose, err := writer.DeclareStream("nav.pose", "/base/Pose", map[string]string{
		pocolog.MetadataTaskName:   "/nav",
		pocolog.MetadataTaskObject: "pose",
		pocolog.MetadataStreamType: "port",
	})
	if err != nil {
		t.Fatal(err)
	}
	command, err := writer.DeclareStream("nav.command", "/base/MotionCommand", map[string]string{
		pocolog.MetadataTaskName:   "/nav",
		pocolog.MetadataTaskObject: "command",
		pocolog.MetadataStreamType: "port",
	})
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 7, 9, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		stamp := base.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := writer.WriteSample(pose, stamp, stamp, []byte(fmt.Sprintf("pose-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.WriteSample(command, base, base, []byte("cmd-0")); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeSeededLog writes a raw pocolog file holding a single nav.pose
// stream with count samples whose payloads derive from seed.
func writeSeededLog(t *testing.T, dir, name, seed string, count int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	writer, err := pocolog.NewWriter(file)
	if err != nil {
		t.Fatal(err)
	}
	pose, err := writer.DeclareStream("nav.pose", "/base/Pose", map[string]string{
		pocolog.MetadataTaskName:   "/nav",
		pocolog.MetadataTaskObject: "pose",
		pocolog.MetadataStreamType: "port",
	})
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 7, 9, 11, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		stamp := base.Add(time.Duration(i) * time.Second)
		if err := writer.WriteSample(pose, stamp, stamp, []byte(fmt.Sprintf("%s-%d", seed, i))); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

// compressZstd writes a zstd-compressed copy of path next to it and
// returns the compressed path.
func compressZstd(t *testing.T, path string) string {
	t.Helper()
	plainBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	compressed, err := os.Create(path + ".zst")
	if err != nil {
		t.Fatal(err)
	}
	defer compressed.Close()
	encoder, err := zstd.NewWriter(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := encoder.Write(plainBytes); err != nil {
		t.Fatal(err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatal(err)
	}
	return path + ".zst"
}

func TestGroupSegments(t *testing.T) {
	groups := GroupSegments([]string{
		"/in/nav.1.log",
		"/in/nav.0.log",
		"/in/nav.10.log",
		"/in/camera.0.log.zst",
		"/in/notes.log",
	})

	nav := groups["nav"]
	if len(nav) != 3 || filepath.Base(nav[0]) != "nav.0.log" || filepath.Base(nav[2]) != "nav.10.log" {
		t.Errorf("nav group = %v, want numeric segment order", nav)
	}
	if len(groups["camera"]) != 1 {
		t.Errorf("compressed segment not grouped: %v", groups)
	}
	if len(groups["notes.log"]) != 1 {
		t.Errorf("non-segment file not in its own group: %v", groups)
	}
}

func TestGroupSegmentsOrdersEqualNumbersByPath(t *testing.T) {
	// Two directories contributing the same segment name end up in one
	// group; the group's order must not follow the argument order.
	for _, files := range [][]string{
		{"/alpha/nav.0.log", "/beta/nav.0.log"},
		{"/beta/nav.0.log", "/alpha/nav.0.log"},
	} {
		nav := GroupSegments(files)["nav"]
		if len(nav) != 2 || nav[0] != "/alpha/nav.0.log" || nav[1] != "/beta/nav.0.log" {
			t.Errorf("GroupSegments(%v) nav group = %v, want path order", files, nav)
		}
	}
}

func TestNormalizeProducesPerStreamFiles(t *testing.T) {
	input := t.TempDir()
	raw := writeRawLog(t, input, "nav.0.log")
	output := filepath.Join(t.TempDir(), "pocolog")
	cache := t.TempDir()

	results, err := Normalize([]string{raw}, output, cache, Options{
		Logger:         discardLogger(),
		ComputeDigests: true,
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d output files, want 2: %v", len(results), results)
	}

	for _, name := range []string{"nav::pose.0.log", "nav::command.0.log"} {
		path := filepath.Join(output, name)
		result, ok := results[path]
		if !ok {
			t.Errorf("no result for %s", name)
			continue
		}
		if result.Stream == nil || result.Stream.SampleCount == 0 {
			t.Errorf("result for %s is missing stream information", name)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("%s not written: %v", name, err)
			continue
		}
		if result.Digest != digest.HashFile(content) {
			t.Errorf("digest for %s does not match file content", name)
		}

		group, err := pocolog.OpenGroup([]string{path})
		if err != nil {
			t.Errorf("output %s is not a valid pocolog file: %v", name, err)
			continue
		}
		if len(group.Streams()) != 1 {
			t.Errorf("output %s has %d streams, want 1", name, len(group.Streams()))
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	input := t.TempDir()
	raw := writeRawLog(t, input, "nav.0.log")

	run := func() (map[string]Result, string) {
		output := filepath.Join(t.TempDir(), "pocolog")
		results, err := Normalize([]string{raw}, output, t.TempDir(), Options{
			Logger:         discardLogger(),
			ComputeDigests: true,
		})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		return results, output
	}

	first, firstDir := run()
	second, secondDir := run()

	if len(first) != len(second) {
		t.Fatalf("runs produced %d and %d files", len(first), len(second))
	}
	for path, result := range first {
		name := filepath.Base(path)
		other, ok := second[filepath.Join(secondDir, name)]
		if !ok {
			t.Errorf("second run did not produce %s", name)
			continue
		}
		if result.Digest != other.Digest {
			t.Errorf("digest for %s differs between runs", name)
		}

		firstBytes, _ := os.ReadFile(filepath.Join(firstDir, name))
		secondBytes, _ := os.ReadFile(filepath.Join(secondDir, name))
		if !bytes.Equal(firstBytes, secondBytes) {
			t.Errorf("output %s differs between runs", name)
		}
	}
}

func TestNormalizeMergesSegments(t *testing.T) {
	input := t.TempDir()
	first := writeRawLog(t, input, "nav.0.log")
	second := writeRawLog(t, input, "nav.1.log")
	output := filepath.Join(t.TempDir(), "pocolog")

	_, err := Normalize([]string{first, second}, output, t.TempDir(), Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	group, err := pocolog.OpenGroup([]string{filepath.Join(output, "nav::pose.0.log")})
	if err != nil {
		t.Fatal(err)
	}
	if got := group.Streams()[0].SampleCount; got != 8 {
		t.Errorf("merged output has %d samples, want 8 (4 per segment)", got)
	}
}

func TestNormalizeNumbersCollidingStreams(t *testing.T) {
	input := t.TempDir()
	// Two separate recordings (different basenames) carrying the same
	// task and object.
	first := writeRawLog(t, input, "alpha.0.log")
	second := writeRawLog(t, input, "beta.0.log")
	output := filepath.Join(t.TempDir(), "pocolog")

	results, err := Normalize([]string{first, second}, output, t.TempDir(), Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	for _, name := range []string{"nav::pose.0.log", "nav::pose.1.log"} {
		if _, err := os.Stat(filepath.Join(output, name)); err != nil {
			t.Errorf("expected output %s: %v", name, err)
		}
	}
	if len(results) != 4 {
		t.Errorf("got %d output files, want 4", len(results))
	}
}

func TestNormalizeOutputIgnoresDirectoryOrder(t *testing.T) {
	// Same-named segments from two directories merge into one output
	// file; its bytes must be identical whichever directory is listed
	// first.
	alpha := writeSeededLog(t, t.TempDir(), "nav.0.log", "alpha", 3)
	beta := writeSeededLog(t, t.TempDir(), "nav.0.log", "beta", 5)

	run := func(files ...string) Result {
		output := filepath.Join(t.TempDir(), "pocolog")
		results, err := Normalize(files, output, t.TempDir(), Options{
			Logger:         discardLogger(),
			ComputeDigests: true,
		})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		result, ok := results[filepath.Join(output, "nav::pose.0.log")]
		if !ok {
			t.Fatalf("no merged nav::pose output, got %v", results)
		}
		return result
	}

	forward := run(alpha, beta)
	reverse := run(beta, alpha)

	if forward.Stream.SampleCount != 8 {
		t.Errorf("merged stream has %d samples, want 8 (3 + 5)", forward.Stream.SampleCount)
	}
	if forward.Digest != reverse.Digest {
		t.Errorf("normalized output depends on directory order: %s != %s",
			digest.Format(forward.Digest), digest.Format(reverse.Digest))
	}
}

func TestNormalizeKeepsSameNamedCompressedInputsApart(t *testing.T) {
	// Two directories both contribute "nav.0.log.zst". Their plain
	// copies share one cache directory and must not overwrite each
	// other: every sample of both inputs has to reach the output.
	alphaDir, betaDir := t.TempDir(), t.TempDir()
	alpha := compressZstd(t, writeSeededLog(t, alphaDir, "nav.0.log", "alpha", 3))
	beta := compressZstd(t, writeSeededLog(t, betaDir, "nav.0.log", "beta", 5))
	os.Remove(filepath.Join(alphaDir, "nav.0.log"))
	os.Remove(filepath.Join(betaDir, "nav.0.log"))

	output := filepath.Join(t.TempDir(), "pocolog")
	_, err := Normalize([]string{alpha, beta}, output, t.TempDir(), Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	group, err := pocolog.OpenGroup([]string{filepath.Join(output, "nav::pose.0.log")})
	if err != nil {
		t.Fatal(err)
	}
	if got := group.Streams()[0].SampleCount; got != 8 {
		t.Errorf("merged output has %d samples, want 8 (3 from one directory, 5 from the other)", got)
	}
}

func TestNormalizeDecompressesInputs(t *testing.T) {
	input := t.TempDir()
	raw := writeRawLog(t, input, "nav.0.log")

	// Compress the raw file and remove the plain form.
	plainBytes, err := os.ReadFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	compressedPath := raw + ".zst"
	compressed, err := os.Create(compressedPath)
	if err != nil {
		t.Fatal(err)
	}
	encoder, err := zstd.NewWriter(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := encoder.Write(plainBytes); err != nil {
		t.Fatal(err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatal(err)
	}
	compressed.Close()
	os.Remove(raw)

	output := filepath.Join(t.TempDir(), "pocolog")
	results, err := Normalize([]string{compressedPath}, output, t.TempDir(), Options{
		Logger:         discardLogger(),
		ComputeDigests: true,
	})
	if err != nil {
		t.Fatalf("Normalize on compressed input failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d output files, want 2", len(results))
	}
}

// countingReporter records the byte totals it is given.
type countingReporter struct {
	total    int64
	advanced int64
	finished bool
}

func (r *countingReporter) Start(total int64) { r.total = total }
func (r *countingReporter) Advance(n int64)   { r.advanced += n }
func (r *countingReporter) Finish()           { r.finished = true }

func TestNormalizeReportsProgress(t *testing.T) {
	input := t.TempDir()
	raw := writeRawLog(t, input, "nav.0.log")
	reporter := &countingReporter{}

	_, err := Normalize([]string{raw}, filepath.Join(t.TempDir(), "pocolog"), t.TempDir(), Options{
		Logger:   discardLogger(),
		Reporter: reporter,
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if reporter.total == 0 {
		t.Error("reporter never received a total")
	}
	if reporter.advanced != reporter.total {
		t.Errorf("advanced %d bytes of announced %d", reporter.advanced, reporter.total)
	}
	if !reporter.finished {
		t.Error("reporter never finished")
	}
}
