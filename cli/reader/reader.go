package reader

import (
	"fmt"
	"time"

	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/lode"
)

// DecodeRecord decodes a stored record row at the version it was captured
// with. The returned record owns its bytes.
func DecodeRecord(row map[string]any) (dbn.Record, dbn.Message, error) {
	raw, ok := lode.RawBytes(row)
	if !ok {
		return dbn.Record{}, nil, fmt.Errorf("row %v is not a record", row["seq"])
	}
	version, ok := toUint64(row["version"])
	if !ok {
		version = uint64(dbn.CurrentVersion)
	}
	_, hasTsOut := toUint64(row["ts_out"])

	dec := dbn.NewDecoder(dbn.AsIs)
	if err := dec.SetMetadata(&dbn.Metadata{Version: uint8(version), TsOut: hasTsOut}); err != nil {
		return dbn.Record{}, nil, err
	}
	rec, err := dec.Decode(raw)
	if err != nil {
		return dbn.Record{}, nil, err
	}
	msg, err := rec.Message()
	if err != nil {
		return dbn.Record{}, nil, err
	}
	return rec, msg, nil
}

// IsRecord reports whether row holds a captured record.
func IsRecord(row map[string]any) bool {
	return row["record_kind"] == lode.RecordKindRecord
}

// Summarize groups rows by run, in the order runs first appear.
func Summarize(rows []map[string]any) Runs {
	var runs Runs
	index := make(map[string]int)

	for _, row := range rows {
		runID := toString(row["run_id"])
		i, ok := index[runID]
		if !ok {
			i = len(runs)
			index[runID] = i
			runs = append(runs, RunSummary{
				RunID:  runID,
				Source: toString(row["source"]),
				Schema: toString(row["schema"]),
				Day:    toString(row["day"]),
			})
		}
		run := &runs[i]

		switch row["record_kind"] {
		case lode.RecordKindRecord:
			run.Records++
			ts, ok := toUint64(row["ts_event"])
			if !ok || ts == dbn.UndefTimestamp {
				continue
			}
			t := nsToTime(ts)
			if run.First.IsZero() || t.Before(run.First) {
				run.First = t
			}
			if t.After(run.Last) {
				run.Last = t
			}
		case lode.RecordKindEvent:
			run.Events++
		}
	}
	return runs
}

// Events returns the stored session events in order.
func Events(rows []map[string]any) EventLog {
	var out EventLog
	for _, row := range rows {
		if row["record_kind"] != lode.RecordKindEvent {
			continue
		}
		out = append(out, StoredEvent{
			Ts:        toString(row["ts"]),
			RunID:     toString(row["run_id"]),
			EventType: toString(row["event_type"]),
			Dataset:   toString(row["dataset"]),
			SessionID: toString(row["session_id"]),
			Attempt:   toInt64(row["attempt"]),
			Error:     toString(row["error"]),
		})
	}
	return out
}

func nsToTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns)).UTC()
}
