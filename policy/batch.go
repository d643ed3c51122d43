package policy

import (
	"context"

	"github.com/justapithecus/livefeed/adapter"
)

// batch is data waiting for a flush. The buffered and streaming policies
// keep one under their mu.
type batch struct {
	records []adapter.RecordEnvelope
	events  []*adapter.SessionEvent
	bytes   int64
}

func (b *batch) addRecord(r adapter.RecordEnvelope) {
	b.records = append(b.records, r)
	b.bytes += recordSize(r)
}

func (b *batch) addEvent(e *adapter.SessionEvent) {
	b.events = append(b.events, e)
	b.bytes += eventSize(e)
}

func (b *batch) empty() bool {
	return len(b.records) == 0 && len(b.events) == 0
}

// take returns the pending data and leaves b empty, so ingestion can
// continue while the returned batch is written.
func (b *batch) take() batch {
	out := *b
	*b = batch{}
	return out
}

// putBack restores an unwritten batch ahead of anything ingested since
// it was taken.
func (b *batch) putBack(old batch) {
	b.records = append(old.records, b.records...)
	b.events = append(old.events, b.events...)
	b.bytes += old.bytes
}

// evictDroppable removes the oldest droppable record and returns its kind.
func (b *batch) evictDroppable() (string, bool) {
	for i, r := range b.records {
		if IsDroppable(r.RType) {
			b.records = append(b.records[:i], b.records[i+1:]...)
			b.bytes -= recordSize(r)
			return r.RType, true
		}
	}
	return "", false
}

// flushStage names the half of a batch write that failed.
type flushStage string

const (
	stageRecords flushStage = "records"
	stageEvents  flushStage = "events"
)

// write hands b to sink, records first. On failure it reports which
// stage failed; records are durable once stageEvents is reported.
func (b batch) write(ctx context.Context, sink Sink) (flushStage, error) {
	if len(b.records) > 0 {
		if err := sink.WriteRecords(ctx, b.records); err != nil {
			return stageRecords, err
		}
	}
	if len(b.events) > 0 {
		if err := sink.WriteEvents(ctx, b.events); err != nil {
			return stageEvents, err
		}
	}
	return "", nil
}

// eventsOnly returns the part of b still unwritten after a stageEvents
// failure.
func (b batch) eventsOnly() batch {
	var out batch
	for _, e := range b.events {
		out.addEvent(e)
	}
	return out
}
