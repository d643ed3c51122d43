// Package lode persists captured live records to a Lode dataset.
//
// Records and session events land in a Hive-partitioned JSONL dataset
// keyed by source/schema/day/run_id/kind. The Sink adapts a Client to
// policy.Sink so any capture policy can drive it.
package lode

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/metrics"
	"github.com/justapithecus/livefeed/policy"
)

// DefaultDataset is the Lode dataset ID used for captures.
const DefaultDataset = "livefeed"

// DeriveDay computes the partition day from the capture start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// NewRunID returns a fresh capture run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Config holds Lode sink configuration.
// All partition keys are required.
type Config struct {
	// Dataset is the Lode dataset ID (normally DefaultDataset).
	Dataset string
	// Source is the gateway dataset code the records came from (e.g. GLBX.MDP3).
	Source string
	// Schema is the subscribed schema, or "mixed" when several are captured.
	Schema string
	// Day is derived from the capture start time (YYYY-MM-DD UTC).
	Day string
	// RunID identifies one capture run.
	RunID string
}

// Client abstracts the Lode storage client.
type Client interface {
	// WriteRecords writes a batch of records. Must preserve ordering within the batch.
	WriteRecords(ctx context.Context, records []adapter.RecordEnvelope) error

	// WriteEvents writes a batch of session events. Must preserve ordering.
	WriteEvents(ctx context.Context, events []*adapter.SessionEvent) error

	// Close releases client resources.
	Close() error
}

// Sink feeds a capture policy's batches to a Client, counting every call
// as a lode write success or failure on the session metrics.
type Sink struct {
	config  Config
	client  Client
	metrics *metrics.Collector
}

// NewSink returns a sink over client. collector may be nil.
func NewSink(config Config, client Client, collector *metrics.Collector) *Sink {
	return &Sink{config: config, client: client, metrics: collector}
}

// Config returns the partition keys the sink writes under.
func (s *Sink) Config() Config {
	return s.config
}

func (s *Sink) WriteRecords(ctx context.Context, records []adapter.RecordEnvelope) error {
	return s.count(s.client.WriteRecords(ctx, records))
}

func (s *Sink) WriteEvents(ctx context.Context, events []*adapter.SessionEvent) error {
	return s.count(s.client.WriteEvents(ctx, events))
}

func (s *Sink) count(err error) error {
	if err != nil {
		s.metrics.IncLodeWriteFailure()
		return err
	}
	s.metrics.IncLodeWriteSuccess()
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}

var _ policy.Sink = (*Sink)(nil)
