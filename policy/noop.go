package policy

import (
	"context"

	"github.com/justapithecus/livefeed/adapter"
)

// NoopPolicy accepts everything and persists nothing. Backs capture dry
// runs, which exercise the session without opening storage.
//
// Stats report what a real capture would have done: droppable kinds count
// as dropped, everything else as persisted.
type NoopPolicy struct {
	c counters
}

// NewNoopPolicy returns a dry-run policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{}
}

func (p *NoopPolicy) IngestRecord(_ context.Context, record adapter.RecordEnvelope) error {
	p.c.update(func(s *Stats) {
		s.TotalRecords++
		if IsDroppable(record.RType) {
			s.drop(record.RType)
			return
		}
		s.RecordsPersisted++
	})
	return nil
}

func (p *NoopPolicy) IngestEvent(context.Context, *adapter.SessionEvent) error {
	p.c.update(func(s *Stats) {
		s.TotalEvents++
		s.EventsPersisted++
	})
	return nil
}

func (p *NoopPolicy) Flush(context.Context) error {
	p.c.update(func(s *Stats) { s.FlushCount++ })
	return nil
}

func (p *NoopPolicy) Close() error { return nil }

func (p *NoopPolicy) Stats() Stats {
	return p.c.snapshot()
}

var _ Policy = (*NoopPolicy)(nil)
