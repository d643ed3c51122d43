package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// Filter selects stored rows. Empty fields match everything.
type Filter struct {
	RunID  string
	Source string
	// Kind is a record type ("trade", "mbo", ...) or "session_event".
	Kind string
}

func (f Filter) matchesSnapshot(snap *lode.DatasetSnapshot) bool {
	want := map[string]string{"run_id": f.RunID, "source": f.Source, "kind": f.Kind}
	for key, value := range want {
		if value == "" {
			continue
		}
		found := false
		for _, file := range snap.Manifest.Files {
			if matchesPartitionValue(file.Path, key, value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchesPartitionValue reports whether path has the exact segment
// key=value, so run_id=run-1 does not match run_id=run-10.
func matchesPartitionValue(path, key, value string) bool {
	return strings.Contains("/"+path+"/", "/"+key+"="+value+"/")
}

// Manifest paths are a coarse pre-filter; row fields are authoritative.
func (f Filter) matchesRow(row map[string]any) bool {
	return (f.RunID == "" || toString(row["run_id"]) == f.RunID) &&
		(f.Source == "" || toString(row["source"]) == f.Source) &&
		(f.Kind == "" || toString(row["kind"]) == f.Kind)
}

// ReadRows returns the stored rows matching f, oldest snapshot first.
func ReadRows(ctx context.Context, ds lode.Dataset, f Filter) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	var out []map[string]any
	for _, snap := range snapshots {
		if !f.matchesSnapshot(snap) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			row, ok := item.(map[string]any)
			if ok && f.matchesRow(row) {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

// QueryLatestMetrics finds the most recent metrics row, filtered by
// runID and source when non-empty.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, runID, source string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	f := Filter{RunID: runID, Source: source, Kind: kindMetrics}
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !f.matchesSnapshot(snap) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			row, ok := item.(map[string]any)
			if ok && row["record_kind"] == RecordKindMetrics && f.matchesRow(row) {
				return row, nil
			}
		}
	}
	return nil, ErrNoMetricsFound
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
