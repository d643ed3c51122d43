// Package policy controls how captured records reach a Sink.
//
// Policies decide buffering, dropping, and flush timing for the records a
// live session decodes and the lifecycle events it emits. A policy failure
// stops capture; the session itself is unaffected.
//
// Drop rules:
//   - May drop: system records (heartbeats and gateway notices)
//   - Must NOT drop: market data records, symbol mappings, errors, session events
//   - Policies never alter record bytes or event shapes
package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/livefeed/adapter"
)

// Policy defines the ingestion policy interface.
type Policy interface {
	// IngestRecord handles one decoded record.
	// May drop droppable kinds; returns an error to stop capture.
	IngestRecord(ctx context.Context, record adapter.RecordEnvelope) error

	// IngestEvent handles a session lifecycle event. Events are never dropped.
	IngestEvent(ctx context.Context, event *adapter.SessionEvent) error

	// Flush writes any buffered data.
	// Called when the stream ends and on shutdown.
	Flush(ctx context.Context) error

	// Close flushes best-effort and releases the sink.
	Close() error

	// Stats returns a consistent point-in-time snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability metrics.
type Stats struct {
	// TotalRecords is the total number of records received.
	TotalRecords int64
	// RecordsPersisted is the number of records written to the sink.
	RecordsPersisted int64
	// RecordsDropped is the total number of records dropped.
	RecordsDropped int64
	// DroppedByKind maps record kinds to drop counts.
	DroppedByKind map[string]int64
	// TotalEvents is the total number of session events received.
	TotalEvents int64
	// EventsPersisted is the number of session events written.
	EventsPersisted int64
	// BufferSize is the current buffer size in bytes (if buffered).
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the count of sink or buffer errors encountered.
	Errors int64
}

var droppableKinds = map[string]bool{
	"system": true,
}

// IsDroppable reports whether records of the given kind may be dropped.
func IsDroppable(kind string) bool {
	return droppableKinds[kind]
}

// DroppableKinds returns the set of record kinds that may be dropped.
func DroppableKinds() map[string]bool {
	result := make(map[string]bool, len(droppableKinds))
	for k, v := range droppableKinds {
		result[k] = v
	}
	return result
}

// recordSize estimates the buffered footprint of a record: its raw bytes
// plus envelope overhead.
func recordSize(r adapter.RecordEnvelope) int64 {
	return int64(len(r.Raw)) + 64
}

// eventSize estimates the buffered footprint of a session event.
func eventSize(e *adapter.SessionEvent) int64 {
	return int64(128 + len(e.Error))
}

func (s *Stats) drop(kind string) {
	s.RecordsDropped++
	if s.DroppedByKind == nil {
		s.DroppedByKind = make(map[string]int64)
	}
	s.DroppedByKind[kind]++
}

// clone returns a copy that shares no map with s.
func (s Stats) clone() Stats {
	out := s
	out.DroppedByKind = make(map[string]int64, len(s.DroppedByKind))
	for k, v := range s.DroppedByKind {
		out.DroppedByKind[k] = v
	}
	return out
}

// counters guards Stats for the policies that hold no buffer lock of
// their own.
type counters struct {
	mu sync.Mutex
	s  Stats
}

func (c *counters) update(fn func(s *Stats)) {
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.clone()
}
