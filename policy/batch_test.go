package policy

import (
	"testing"

	"github.com/justapithecus/livefeed/adapter"
)

func rec(kind string, instrument uint32) adapter.RecordEnvelope {
	return adapter.RecordEnvelope{RType: kind, InstrumentID: instrument, Raw: make([]byte, 16)}
}

func TestBatch_TakeAndPutBack(t *testing.T) {
	var b batch
	b.addRecord(rec("trade", 1))
	b.addEvent(&adapter.SessionEvent{EventType: "connected"})

	taken := b.take()
	if !b.empty() || b.bytes != 0 {
		t.Fatalf("batch not reset by take: %+v", b)
	}

	b.addRecord(rec("trade", 2))
	b.putBack(taken)

	if len(b.records) != 2 || b.records[0].InstrumentID != 1 || b.records[1].InstrumentID != 2 {
		t.Errorf("records after putBack = %+v, want 1 then 2", b.records)
	}
	want := 2*recordSize(rec("trade", 0)) + eventSize(&adapter.SessionEvent{})
	if b.bytes != want {
		t.Errorf("bytes = %d, want %d", b.bytes, want)
	}
}

func TestBatch_EvictDroppable(t *testing.T) {
	var b batch
	b.addRecord(rec("trade", 1))
	b.addRecord(rec("system", 0))
	b.addRecord(rec("system", 0))

	kind, ok := b.evictDroppable()
	if !ok || kind != "system" || len(b.records) != 2 {
		t.Fatalf("evictDroppable = %q, %v with %d left", kind, ok, len(b.records))
	}
	b.evictDroppable()
	if _, ok := b.evictDroppable(); ok {
		t.Error("evicted a trade")
	}
	if b.bytes != recordSize(rec("trade", 1)) {
		t.Errorf("bytes = %d after evictions", b.bytes)
	}
}

func TestBatch_EventsOnly(t *testing.T) {
	var b batch
	b.addRecord(rec("trade", 1))
	b.addEvent(&adapter.SessionEvent{EventType: "closed", Error: "eof"})

	e := b.eventsOnly()
	if len(e.records) != 0 || len(e.events) != 1 || e.bytes != eventSize(b.events[0]) {
		t.Errorf("eventsOnly = %+v", e)
	}
}

func TestStats_CloneDoesNotAlias(t *testing.T) {
	var s Stats
	s.drop("system")
	c := s.clone()
	c.DroppedByKind["system"] = 5
	if s.DroppedByKind["system"] != 1 || s.RecordsDropped != 1 {
		t.Errorf("clone aliases original: %+v", s)
	}
}
