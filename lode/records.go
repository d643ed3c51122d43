package lode

import (
	"encoding/base64"
	"time"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/metrics"
)

// RecordKind discriminator values.
const (
	RecordKindRecord  = "record"
	RecordKindEvent   = "session_event"
	RecordKindMetrics = "metrics"
)

// Partition keys, in layout order.
var partitionKeys = []string{"source", "schema", "day", "run_id", "kind"}

// kind partition values that are not record types.
const (
	kindEvent   = "session_event"
	kindMetrics = "metrics"
)

// partitions returns the partition fields shared by every stored row.
func (cfg Config) partitions(kind string) map[string]any {
	return map[string]any{
		"source": cfg.Source,
		"schema": cfg.Schema,
		"day":    cfg.Day,
		"run_id": cfg.RunID,
		"kind":   kind,
	}
}

// toRecordMap converts a record envelope to a row for Lode storage.
// Lode HiveLayout requires rows as map[string]any; raw bytes are base64
// so rows survive any JSON tooling.
func toRecordMap(r adapter.RecordEnvelope, seq int64, cfg Config) map[string]any {
	m := cfg.partitions(r.RType)
	m["record_kind"] = RecordKindRecord
	m["seq"] = seq
	m["dataset"] = r.Dataset
	m["rtype"] = r.RType
	m["version"] = r.Version
	m["publisher_id"] = r.PublisherID
	m["instrument_id"] = r.InstrumentID
	m["ts_event"] = r.TsEvent
	if r.TsOut != 0 {
		m["ts_out"] = r.TsOut
	}
	m["raw"] = base64.StdEncoding.EncodeToString(r.Raw)
	return m
}

// toEventMap converts a session event to a row for Lode storage.
func toEventMap(e *adapter.SessionEvent, cfg Config) map[string]any {
	m := cfg.partitions(kindEvent)
	m["record_kind"] = RecordKindEvent
	m["contract_version"] = e.ContractVersion
	m["event_type"] = e.EventType
	m["dataset"] = e.Dataset
	m["session_id"] = e.SessionID
	m["ts"] = e.Timestamp
	if e.Attempt > 0 {
		m["attempt"] = e.Attempt
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// toMetricsMap converts a session metrics snapshot to a row for Lode storage.
func toMetricsMap(s metrics.Snapshot, completedAt time.Time, cfg Config) map[string]any {
	m := cfg.partitions(kindMetrics)
	m["record_kind"] = RecordKindMetrics
	m["ts"] = completedAt.UTC().Format(time.RFC3339Nano)
	m["connections_opened"] = s.ConnectionsOpened
	m["auth_failures"] = s.AuthFailures
	m["reconnect_attempts"] = s.ReconnectAttempts
	m["reconnect_successes"] = s.ReconnectSuccesses
	m["reconnect_failures"] = s.ReconnectFailures
	m["stale_detections"] = s.StaleDetections
	m["records_received"] = s.RecordsReceived
	m["records_by_kind"] = s.RecordsByKind
	m["bytes_read"] = s.BytesRead
	m["heartbeats"] = s.Heartbeats
	m["decode_errors"] = s.DecodeErrors
	m["gateway_errors"] = s.GatewayErrors
	m["subscriptions_added"] = s.SubscriptionsAdded
	m["chunks_sent"] = s.ChunksSent
	m["lode_write_success"] = s.LodeWriteSuccess
	m["lode_write_failure"] = s.LodeWriteFailure
	m["publish_success"] = s.PublishSuccess
	m["publish_failure"] = s.PublishFailure
	m["client"] = s.Client
	m["storage_backend"] = s.StorageBackend
	return m
}

// RawBytes decodes the raw record bytes of a stored record row.
// Returns false for rows that are not records.
func RawBytes(row map[string]any) ([]byte, bool) {
	if row["record_kind"] != RecordKindRecord {
		return nil, false
	}
	s, ok := row["raw"].(string)
	if !ok {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}
