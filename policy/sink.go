package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/livefeed/adapter"
)

// Sink is where a policy sends what it keeps. Calls are batch-oriented:
// the strict policy writes batches of one, the others whatever they
// accumulated. A Sink must keep the order within a batch.
type Sink interface {
	WriteRecords(ctx context.Context, records []adapter.RecordEnvelope) error
	WriteEvents(ctx context.Context, events []*adapter.SessionEvent) error
	Close() error
}

// MemorySink keeps every successful write in memory and can be told to
// fail. It stands in for storage when exercising a policy.
type MemorySink struct {
	mu      sync.Mutex
	records []adapter.RecordEnvelope
	events  []*adapter.SessionEvent
	calls   []string
	failErr error
	closed  bool
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes subsequent writes return err. nil restores success.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *MemorySink) WriteRecords(_ context.Context, records []adapter.RecordEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.records = append(s.records, records...)
	s.calls = append(s.calls, "records")
	return nil
}

func (s *MemorySink) WriteEvents(_ context.Context, events []*adapter.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.events = append(s.events, events...)
	s.calls = append(s.calls, "events")
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Records returns every record written so far, in order.
func (s *MemorySink) Records() []adapter.RecordEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adapter.RecordEnvelope(nil), s.records...)
}

// Events returns every event written so far, in order.
func (s *MemorySink) Events() []*adapter.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*adapter.SessionEvent(nil), s.events...)
}

// Calls lists successful writes in order, "records" or "events" per call.
func (s *MemorySink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
