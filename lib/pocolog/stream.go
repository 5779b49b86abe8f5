// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

package pocolog

import (
	"strings"
	"time"
)

// Stream describes one named, typed time-series channel within a log
// file group: its declaration plus the sample statistics accumulated
// while scanning the group's data blocks.
type Stream struct {
	// Name is the declared stream name (conventionally "task.object").
	Name string

	// TypeName is the element type from the logging-side type registry.
	// Opaque to the datastore: it participates in identity but is never
	// interpreted.
	TypeName string

	// Metadata holds the declaration's key/value pairs.
	Metadata map[string]string

	// RealtimeInterval is the wall-clock time of the first and last
	// sample. Both zero when the stream is empty.
	RealtimeInterval [2]time.Time

	// LogicalInterval is the logical (sample) time of the first and
	// last sample. Both zero when the stream is empty.
	LogicalInterval [2]time.Time

	// SampleCount is the number of data blocks seen for this stream.
	SampleCount int

	// Size is the total payload bytes across all samples.
	Size int64
}

// Empty reports whether the stream has no samples.
func (s *Stream) Empty() bool {
	return s.SampleCount == 0
}

// TaskName returns the deployed task name, preferring the declaration
// metadata and falling back to the portion of the stream name before
// the last dot.
func (s *Stream) TaskName() string {
	if name, ok := s.Metadata[MetadataTaskName]; ok && name != "" {
		return name
	}
	if index := strings.LastIndexByte(s.Name, '.'); index >= 0 {
		return s.Name[:index]
	}
	return s.Name
}

// ObjectName returns the port or property name the stream was logged
// from, with the same metadata-then-name fallback as TaskName.
func (s *Stream) ObjectName() string {
	if name, ok := s.Metadata[MetadataTaskObject]; ok && name != "" {
		return name
	}
	if index := strings.LastIndexByte(s.Name, '.'); index >= 0 {
		return s.Name[index+1:]
	}
	return ""
}

// StreamType returns the declared object kind ("port" or "property"),
// or an empty string when the declaration does not say.
func (s *Stream) StreamType() string {
	return s.Metadata[MetadataStreamType]
}

// Duration returns the logical time span covered by the stream's
// samples, zero for empty streams.
func (s *Stream) Duration() time.Duration {
	if s.Empty() {
		return 0
	}
	return s.LogicalInterval[1].Sub(s.LogicalInterval[0])
}

// BindingKey identifies a stream within a loaded group. Loading
// rejects groups in which two streams share a key: downstream
// stream-to-port binding requires the triple to be unique.
type BindingKey struct {
	TaskName   string
	ObjectName string
	TypeName   string
}

// Key returns the stream's binding key, computed from the sanitized
// metadata.
func (s *Stream) Key() BindingKey {
	return BindingKey{
		TaskName:   s.TaskName(),
		ObjectName: s.ObjectName(),
		TypeName:   s.TypeName,
	}
}

// sanitize normalizes declaration metadata in place. Task names are
// recorded by some deployments with a leading namespace slash; the
// datastore strips it so that the same task logged by different
// deployments binds to the same key.
func (s *Stream) sanitize() {
	if name, ok := s.Metadata[MetadataTaskName]; ok {
		trimmed := strings.TrimLeft(name, "/")
		if trimmed != name {
			s.Metadata[MetadataTaskName] = trimmed
		}
	}
}

// recordSample folds one data block into the stream statistics.
// Samples are expected in file order; intervals widen monotonically.
func (s *Stream) recordSample(realtime, logical time.Time, size int) {
	if s.SampleCount == 0 {
		s.RealtimeInterval = [2]time.Time{realtime, realtime}
		s.LogicalInterval = [2]time.Time{logical, logical}
	} else {
		s.RealtimeInterval[1] = realtime
		s.LogicalInterval[1] = logical
	}
	s.SampleCount++
	s.Size += int64(size)
}
