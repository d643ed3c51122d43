package policy_test

import (
	"testing"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/policy"
)

func trade(instrument uint32) adapter.RecordEnvelope {
	return adapter.RecordEnvelope{
		Dataset:      "GLBX.MDP3",
		RType:        "trade",
		Version:      2,
		InstrumentID: instrument,
		TsEvent:      uint64(instrument) * 1000,
		Raw:          make([]byte, 48),
	}
}

func heartbeat() adapter.RecordEnvelope {
	return adapter.RecordEnvelope{Dataset: "GLBX.MDP3", RType: "system", Version: 2, Raw: make([]byte, 80)}
}

func event(kind string) *adapter.SessionEvent {
	return &adapter.SessionEvent{EventType: kind, Dataset: "GLBX.MDP3", Timestamp: "2024-06-01T00:00:00Z"}
}

func instruments(records []adapter.RecordEnvelope) []uint32 {
	out := make([]uint32, 0, len(records))
	for _, r := range records {
		out = append(out, r.InstrumentID)
	}
	return out
}

func equalIDs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIsDroppable(t *testing.T) {
	tests := []struct {
		kind string
		want bool
	}{
		{"system", true},
		{"trade", false},
		{"mbo", false},
		{"error", false},
		{"symbol_mapping", false},
		{"ohlcv", false},
	}
	for _, tt := range tests {
		if got := policy.IsDroppable(tt.kind); got != tt.want {
			t.Errorf("IsDroppable(%q) = %v, want %v", tt.kind, got, tt.want)
		}
	}

	kinds := policy.DroppableKinds()
	kinds["trade"] = true
	if policy.IsDroppable("trade") {
		t.Error("mutating DroppableKinds result changed the policy")
	}
}
