package reader

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseMetricsRecord(t *testing.T) {
	// Simulate a JSON-round-tripped record (float64 values)
	record := map[string]any{
		"record_kind":         "metrics",
		"ts":                  "2026-02-03T15:00:00Z",
		"run_id":              "run-abc",
		"source":              "GLBX.MDP3",
		"schema":              "trades",
		"day":                 "2026-02-03",
		"connections_opened":  float64(2),
		"reconnect_attempts":  float64(1),
		"reconnect_successes": float64(1),
		"records_received":    float64(100),
		"records_by_kind":     map[string]any{"trade": float64(97), "system": float64(3)},
		"bytes_read":          float64(4800),
		"heartbeats":          float64(3),
		"chunks_sent":         float64(2),
		"lode_write_success":  float64(50),
		"publish_failure":     float64(1),
		"client":              "livefeed-go 0.3.0",
		"storage_backend":     "s3",
	}

	parsed, err := ParseMetricsRecord(record)
	if err != nil {
		t.Fatalf("ParseMetricsRecord failed: %v", err)
	}

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"ConnectionsOpened", parsed.ConnectionsOpened, 2},
		{"ReconnectAttempts", parsed.ReconnectAttempts, 1},
		{"ReconnectSuccesses", parsed.ReconnectSuccesses, 1},
		{"RecordsReceived", parsed.RecordsReceived, 100},
		{"BytesRead", parsed.BytesRead, 4800},
		{"Heartbeats", parsed.Heartbeats, 3},
		{"ChunksSent", parsed.ChunksSent, 2},
		{"LodeWriteSuccess", parsed.LodeWriteSuccess, 50},
		{"PublishFailure", parsed.PublishFailure, 1},
		{"AuthFailures", parsed.AuthFailures, 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	if parsed.Ts != "2026-02-03T15:00:00Z" {
		t.Errorf("Ts = %q, want %q", parsed.Ts, "2026-02-03T15:00:00Z")
	}
	if parsed.RunID != "run-abc" || parsed.Source != "GLBX.MDP3" || parsed.Schema != "trades" {
		t.Errorf("partitions = %q/%q/%q", parsed.RunID, parsed.Source, parsed.Schema)
	}
	if parsed.StorageBackend != "s3" || parsed.Client != "livefeed-go 0.3.0" {
		t.Errorf("dimensions = %q/%q", parsed.StorageBackend, parsed.Client)
	}
	if parsed.RecordsByKind == nil {
		t.Fatal("RecordsByKind should not be nil")
	}
	if parsed.RecordsByKind["trade"] != 97 || parsed.RecordsByKind["system"] != 3 {
		t.Errorf("RecordsByKind = %v", parsed.RecordsByKind)
	}
}

func TestParseMetricsRecord_DirectWriteTypes(t *testing.T) {
	record := map[string]any{
		"ts":               "2026-02-03T15:00:00Z",
		"run_id":           "run-1",
		"source":           "XNAS.ITCH",
		"records_received": int64(7),
		"records_by_kind":  map[string]int64{"mbo": 7},
		"bytes_read":       json.Number("512"),
	}

	parsed, err := ParseMetricsRecord(record)
	if err != nil {
		t.Fatalf("ParseMetricsRecord failed: %v", err)
	}
	if parsed.RecordsReceived != 7 || parsed.BytesRead != 512 {
		t.Errorf("RecordsReceived = %d, BytesRead = %d", parsed.RecordsReceived, parsed.BytesRead)
	}
	if parsed.RecordsByKind["mbo"] != 7 {
		t.Errorf("RecordsByKind = %v", parsed.RecordsByKind)
	}
}

func TestParseMetricsRecord_NilRecord(t *testing.T) {
	_, err := ParseMetricsRecord(nil)
	if err == nil {
		t.Error("expected error for nil record")
	}
}

func TestParseMetricsRecord_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		record map[string]any
		errMsg string
	}{
		{
			name:   "missing ts",
			record: map[string]any{"record_kind": "metrics", "run_id": "run-1", "source": "GLBX.MDP3"},
			errMsg: "ts",
		},
		{
			name:   "missing run_id",
			record: map[string]any{"record_kind": "metrics", "ts": "2026-02-03T15:00:00Z", "source": "GLBX.MDP3"},
			errMsg: "run_id",
		},
		{
			name:   "missing source",
			record: map[string]any{"record_kind": "metrics", "ts": "2026-02-03T15:00:00Z", "run_id": "run-1"},
			errMsg: "source",
		},
		{
			name:   "all required missing",
			record: map[string]any{"record_kind": "metrics"},
			errMsg: "ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetricsRecord(tt.record)
			if err == nil {
				t.Fatal("expected error for missing required field, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want it to mention %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestToUint64(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   uint64
		wantOK bool
	}{
		{"uint8", uint8(2), 2, true},
		{"uint64", uint64(1 << 62), 1 << 62, true},
		{"float64", float64(3), 3, true},
		{"json number", json.Number("42"), 42, true},
		{"absent", nil, 0, false},
		{"string", "7", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toUint64(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("toUint64(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
