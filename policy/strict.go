package policy

import (
	"context"

	"github.com/justapithecus/livefeed/adapter"
)

// StrictPolicy writes every record and event through to the sink as it
// arrives. Nothing is buffered or dropped, so a slow sink slows capture.
type StrictPolicy struct {
	sink Sink
	c    counters
}

// NewStrictPolicy returns a strict policy over sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink}
}

func (p *StrictPolicy) IngestRecord(ctx context.Context, record adapter.RecordEnvelope) error {
	err := p.sink.WriteRecords(ctx, []adapter.RecordEnvelope{record})
	p.c.update(func(s *Stats) {
		s.TotalRecords++
		if err != nil {
			s.Errors++
			return
		}
		s.RecordsPersisted++
	})
	return err
}

func (p *StrictPolicy) IngestEvent(ctx context.Context, event *adapter.SessionEvent) error {
	err := p.sink.WriteEvents(ctx, []*adapter.SessionEvent{event})
	p.c.update(func(s *Stats) {
		s.TotalEvents++
		if err != nil {
			s.Errors++
			return
		}
		s.EventsPersisted++
	})
	return err
}

// Flush only counts; there is never anything pending.
func (p *StrictPolicy) Flush(context.Context) error {
	p.c.update(func(s *Stats) { s.FlushCount++ })
	return nil
}

func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

func (p *StrictPolicy) Stats() Stats {
	return p.c.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
