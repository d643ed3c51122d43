// Package reader provides the read-side data access layer for captured
// sessions.
//
// Rows come from lode.ReadRows and lode.QueryLatestMetrics; this package
// turns them into typed views. Numeric fields tolerate both direct writes
// and JSON round-trips.
package reader

import (
	"strconv"
	"time"
)

// MetricsSnapshot is the metrics row written when a capture run ends.
type MetricsSnapshot struct {
	Ts     string `json:"ts"`
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Schema string `json:"schema"`
	Day    string `json:"day"`

	// Connection lifecycle
	ConnectionsOpened  int64 `json:"connections_opened"`
	AuthFailures       int64 `json:"auth_failures"`
	ReconnectAttempts  int64 `json:"reconnect_attempts"`
	ReconnectSuccesses int64 `json:"reconnect_successes"`
	ReconnectFailures  int64 `json:"reconnect_failures"`
	StaleDetections    int64 `json:"stale_detections"`

	// Stream
	RecordsReceived int64            `json:"records_received"`
	RecordsByKind   map[string]int64 `json:"records_by_kind,omitempty"`
	BytesRead       int64            `json:"bytes_read"`
	Heartbeats      int64            `json:"heartbeats"`
	DecodeErrors    int64            `json:"decode_errors"`
	GatewayErrors   int64            `json:"gateway_errors"`

	// Subscriptions
	SubscriptionsAdded int64 `json:"subscriptions_added"`
	ChunksSent         int64 `json:"chunks_sent"`

	// Sinks
	LodeWriteSuccess int64 `json:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure"`
	PublishSuccess   int64 `json:"publish_success"`
	PublishFailure   int64 `json:"publish_failure"`

	// Dimensions
	Client         string `json:"client,omitempty"`
	StorageBackend string `json:"storage_backend,omitempty"`
}

// RunSummary describes one capture run found in storage.
type RunSummary struct {
	RunID   string `json:"run_id"`
	Source  string `json:"source"`
	Schema  string `json:"schema"`
	Day     string `json:"day"`
	Records int64  `json:"records"`
	Events  int64  `json:"events"`
	// First and Last bound the records' event timestamps; zero when the
	// run holds no records.
	First time.Time `json:"first,omitzero"`
	Last  time.Time `json:"last,omitzero"`
}

// StoredEvent is a session lifecycle event read back from storage.
type StoredEvent struct {
	Ts        string `json:"ts"`
	RunID     string `json:"run_id"`
	EventType string `json:"event_type"`
	Dataset   string `json:"dataset"`
	SessionID string `json:"session_id,omitempty"`
	Attempt   int64  `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Runs is a list of run summaries; it renders as one table row per run.
type Runs []RunSummary

// Columns names the table columns.
func (r Runs) Columns() []string {
	return []string{"RUN", "SOURCE", "SCHEMA", "DAY", "RECORDS", "EVENTS", "FIRST", "LAST"}
}

// Rows returns one table row per run.
func (r Runs) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, s := range r {
		rows = append(rows, []string{
			s.RunID, s.Source, s.Schema, s.Day,
			strconv.FormatInt(s.Records, 10),
			strconv.FormatInt(s.Events, 10),
			formatTime(s.First), formatTime(s.Last),
		})
	}
	return rows
}

// EventLog is a list of stored session events.
type EventLog []StoredEvent

// Columns names the table columns.
func (l EventLog) Columns() []string {
	return []string{"TS", "RUN", "EVENT", "SESSION", "ATTEMPT", "ERROR"}
}

// Rows returns one table row per event.
func (l EventLog) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		attempt := ""
		if e.Attempt > 0 {
			attempt = strconv.FormatInt(e.Attempt, 10)
		}
		rows = append(rows, []string{e.Ts, e.RunID, e.EventType, e.SessionID, attempt, e.Error})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
