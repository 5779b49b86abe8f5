// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package pocolog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// Sample is one decoded data block.
type Sample struct {
	// Realtime is the wall-clock timestamp recorded at logging time.
	Realtime time.Time

	// Logical is the sample's logical timestamp (the time the value
	// refers to, which may lag or lead realtime).
	Logical time.Time

	// Data is the raw encoded sample payload. Opaque to the datastore.
	Data []byte
}

// Reader decodes one pocolog file block by block.
type Reader struct {
	source  *bufio.Reader
	streams []*Stream
}

// NewReader validates the header of r and returns a block reader.
func NewReader(r io.Reader) (*Reader, error) {
	buffered := bufio.NewReader(r)
	if _, err := readHeader(buffered); err != nil {
		return nil, err
	}
	return &Reader{source: buffered}, nil
}

// Streams returns the declarations seen so far, in declaration order.
// Complete only after the reader has been drained.
func (r *Reader) Streams() []*Stream {
	return r.streams
}

// Next returns the next data block along with the stream it belongs
// to. Stream declaration blocks are consumed internally (they appear
// in Streams). Returns io.EOF at a clean end of file.
func (r *Reader) Next() (*Stream, *Sample, error) {
	for {
		header := make([]byte, blockHeaderSize)
		if _, err := io.ReadFull(r.source, header); err != nil {
			if err == io.EOF {
				return nil, nil, io.EOF
			}
			return nil, nil, fmt.Errorf("reading block header: %w", err)
		}

		blockType := header[0]
		streamIndex := int(binary.LittleEndian.Uint16(header[1:3]))
		payloadSize := binary.LittleEndian.Uint32(header[3:7])
		if payloadSize > MaxSampleSize {
			return nil, nil, fmt.Errorf("block payload of %d bytes exceeds sample size limit", payloadSize)
		}

		payload := make([]byte, payloadSize)
		if _, err := io.ReadFull(r.source, payload); err != nil {
			return nil, nil, fmt.Errorf("reading block payload: %w", err)
		}

		switch blockType {
		case blockStreamDeclaration:
			stream, err := decodeDeclaration(payload)
			if err != nil {
				return nil, nil, err
			}
			if streamIndex != len(r.streams) {
				return nil, nil, fmt.Errorf("stream declaration index %d out of order (expected %d)",
					streamIndex, len(r.streams))
			}
			r.streams = append(r.streams, stream)

		case blockData:
			if streamIndex >= len(r.streams) {
				return nil, nil, fmt.Errorf("data block references undeclared stream %d", streamIndex)
			}
			sample, err := decodeSample(payload)
			if err != nil {
				return nil, nil, err
			}
			stream := r.streams[streamIndex]
			stream.recordSample(sample.Realtime, sample.Logical, len(sample.Data))
			return stream, sample, nil

		default:
			return nil, nil, fmt.Errorf("unknown block type %d", blockType)
		}
	}
}

// decodeDeclaration parses a stream declaration payload.
func decodeDeclaration(payload []byte) (*Stream, error) {
	buffer := bytes.NewReader(payload)

	name, err := readString(buffer)
	if err != nil {
		return nil, fmt.Errorf("decoding stream name: %w", err)
	}
	typeName, err := readString(buffer)
	if err != nil {
		return nil, fmt.Errorf("decoding stream type: %w", err)
	}

	var count [2]byte
	if _, err := io.ReadFull(buffer, count[:]); err != nil {
		return nil, fmt.Errorf("decoding metadata count: %w", err)
	}
	metadata := make(map[string]string)
	for i := 0; i < int(binary.LittleEndian.Uint16(count[:])); i++ {
		key, err := readString(buffer)
		if err != nil {
			return nil, fmt.Errorf("decoding metadata key: %w", err)
		}
		value, err := readString(buffer)
		if err != nil {
			return nil, fmt.Errorf("decoding metadata value: %w", err)
		}
		metadata[key] = value
	}

	return &Stream{Name: name, TypeName: typeName, Metadata: metadata}, nil
}

// decodeSample parses a data block payload.
func decodeSample(payload []byte) (*Sample, error) {
	if len(payload) < 20 {
		return nil, fmt.Errorf("data block payload of %d bytes is shorter than the fixed fields", len(payload))
	}
	realtime := int64(binary.LittleEndian.Uint64(payload[0:8]))
	logical := int64(binary.LittleEndian.Uint64(payload[8:16]))
	dataSize := binary.LittleEndian.Uint32(payload[16:20])
	if int(dataSize) != len(payload)-20 {
		return nil, fmt.Errorf("data block declares %d payload bytes, block carries %d",
			dataSize, len(payload)-20)
	}
	return &Sample{
		Realtime: time.UnixMicro(realtime).UTC(),
		Logical:  time.UnixMicro(logical).UTC(),
		Data:     payload[20:],
	}, nil
}

// Group is a set of streams loaded from one or more pocolog files,
// typically the numbered segments of one recording. Stream statistics
// (intervals, sample counts) are merged across segments.
type Group struct {
	paths   []string
	streams []*Stream
	byKey   map[BindingKey]*Stream
}

// OpenGroup scans the given files, merges their stream declarations,
// and returns the combined stream set. Streams are matched across
// files by name and type. After the metadata sanitization pass, two
// distinct streams resolving to the same (task, object, type) triple
// are a fatal error.
func OpenGroup(paths []string) (*Group, error) {
	group := &Group{
		paths: append([]string(nil), paths...),
		byKey: make(map[BindingKey]*Stream),
	}
	merged := make(map[string]*Stream)

	for _, path := range paths {
		streams, err := scanFile(path)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
		for _, stream := range streams {
			stream.sanitize()
			mergeKey := stream.Name + "\x00" + stream.TypeName
			existing, ok := merged[mergeKey]
			if !ok {
				merged[mergeKey] = stream
				group.streams = append(group.streams, stream)
				continue
			}
			existing.merge(stream)
		}
	}

	for _, stream := range group.streams {
		key := stream.Key()
		if other, ok := group.byKey[key]; ok {
			return nil, fmt.Errorf("streams %q and %q both resolve to task %q object %q type %q",
				other.Name, stream.Name, key.TaskName, key.ObjectName, key.TypeName)
		}
		group.byKey[key] = stream
	}

	return group, nil
}

// merge folds the statistics of a later segment into this stream.
func (s *Stream) merge(other *Stream) {
	if other.Empty() {
		return
	}
	if s.Empty() {
		s.RealtimeInterval = other.RealtimeInterval
		s.LogicalInterval = other.LogicalInterval
	} else {
		if other.RealtimeInterval[0].Before(s.RealtimeInterval[0]) {
			s.RealtimeInterval[0] = other.RealtimeInterval[0]
		}
		if other.RealtimeInterval[1].After(s.RealtimeInterval[1]) {
			s.RealtimeInterval[1] = other.RealtimeInterval[1]
		}
		if other.LogicalInterval[0].Before(s.LogicalInterval[0]) {
			s.LogicalInterval[0] = other.LogicalInterval[0]
		}
		if other.LogicalInterval[1].After(s.LogicalInterval[1]) {
			s.LogicalInterval[1] = other.LogicalInterval[1]
		}
	}
	s.SampleCount += other.SampleCount
	s.Size += other.Size
}

// Streams returns the merged stream set in first-seen order.
func (g *Group) Streams() []*Stream {
	return g.streams
}

// FindByKey returns the stream with the given binding key, or nil.
func (g *Group) FindByKey(key BindingKey) *Stream {
	return g.byKey[key]
}

// FindTaskByName returns the streams belonging to the named task.
func (g *Group) FindTaskByName(taskName string) []*Stream {
	var result []*Stream
	for _, stream := range g.streams {
		if stream.TaskName() == taskName {
			result = append(result, stream)
		}
	}
	return result
}

// LogicalSpan returns the interval from the earliest logical start to
// the latest logical end across all non-empty streams. Zero duration
// when every stream is empty.
func (g *Group) LogicalSpan() time.Duration {
	var start, end time.Time
	for _, stream := range g.streams {
		if stream.Empty() {
			continue
		}
		if start.IsZero() || stream.LogicalInterval[0].Before(start) {
			start = stream.LogicalInterval[0]
		}
		if end.IsZero() || stream.LogicalInterval[1].After(end) {
			end = stream.LogicalInterval[1]
		}
	}
	if start.IsZero() {
		return 0
	}
	return end.Sub(start)
}

// EachSample re-reads the group's files in order and invokes fn for
// every sample of the given stream. This is the copy loop used by
// normalization: samples retain their on-disk order within each
// segment, and segments are visited in group order.
func (g *Group) EachSample(target *Stream, fn func(*Sample) error) error {
	mergeKey := target.Name + "\x00" + target.TypeName
	for _, path := range g.paths {
		if err := eachFileSample(path, mergeKey, fn); err != nil {
			return err
		}
	}
	return nil
}

func eachFileSample(path, mergeKey string, fn func(*Sample) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader, err := NewReader(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for {
		stream, sample, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if stream.Name+"\x00"+stream.TypeName != mergeKey {
			continue
		}
		if err := fn(sample); err != nil {
			return err
		}
	}
}

// scanFile reads every block of one file, accumulating per-stream
// statistics, and returns the file's streams.
func scanFile(path string) ([]*Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := NewReader(file)
	if err != nil {
		return nil, err
	}
	for {
		_, _, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return reader.Streams(), nil
}
