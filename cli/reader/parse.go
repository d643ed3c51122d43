package reader

import (
	"encoding/json"
	"errors"
)

// ParseMetricsRecord converts a stored metrics row into a MetricsSnapshot.
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		Ts:     toString(record["ts"]),
		RunID:  toString(record["run_id"]),
		Source: toString(record["source"]),
		Schema: toString(record["schema"]),
		Day:    toString(record["day"]),

		ConnectionsOpened:  toInt64(record["connections_opened"]),
		AuthFailures:       toInt64(record["auth_failures"]),
		ReconnectAttempts:  toInt64(record["reconnect_attempts"]),
		ReconnectSuccesses: toInt64(record["reconnect_successes"]),
		ReconnectFailures:  toInt64(record["reconnect_failures"]),
		StaleDetections:    toInt64(record["stale_detections"]),

		RecordsReceived: toInt64(record["records_received"]),
		BytesRead:       toInt64(record["bytes_read"]),
		Heartbeats:      toInt64(record["heartbeats"]),
		DecodeErrors:    toInt64(record["decode_errors"]),
		GatewayErrors:   toInt64(record["gateway_errors"]),

		SubscriptionsAdded: toInt64(record["subscriptions_added"]),
		ChunksSent:         toInt64(record["chunks_sent"]),

		LodeWriteSuccess: toInt64(record["lode_write_success"]),
		LodeWriteFailure: toInt64(record["lode_write_failure"]),
		PublishSuccess:   toInt64(record["publish_success"]),
		PublishFailure:   toInt64(record["publish_failure"]),

		Client:         toString(record["client"]),
		StorageBackend: toString(record["storage_backend"]),
	}

	if byKind, ok := record["records_by_kind"]; ok && byKind != nil {
		snap.RecordsByKind = parseCounts(byKind)
	}

	// The write path always populates these.
	if snap.Ts == "" {
		return nil, errors.New("metrics record missing required field: ts")
	}
	if snap.RunID == "" {
		return nil, errors.New("metrics record missing required field: run_id")
	}
	if snap.Source == "" {
		return nil, errors.New("metrics record missing required field: source")
	}

	return snap, nil
}

// toInt64 converts a value to int64, handling float64 and json.Number
// from JSON and the integer types of direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// toUint64 is toInt64 for unsigned fields such as nanosecond timestamps.
// ok is false when the field is absent or not a number.
func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return uint64(i), err == nil
	case int64, int, uint8, uint16, uint32, float64:
		return uint64(toInt64(n)), true
	default:
		return 0, false
	}
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseCounts converts a per-kind count map from stored form.
// Handles both map[string]int64 (direct) and map[string]any (JSON round-trip).
func parseCounts(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		result := make(map[string]int64, len(m))
		for k, val := range m {
			result[k] = toInt64(val)
		}
		return result
	default:
		return nil
	}
}
