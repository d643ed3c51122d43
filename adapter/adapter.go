// Package adapter defines the boundary for publishing live session activity
// to downstream systems.
//
// Adapters receive session lifecycle events; record publishers additionally
// fan out decoded records. The CLI owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/types"
)

// SessionEvent is the payload published on a session lifecycle transition.
type SessionEvent struct {
	ContractVersion string `json:"contract_version" msgpack:"contract_version"`
	EventType       string `json:"event_type" msgpack:"event_type"` // connected, reconnecting, reconnected, closed
	Dataset         string `json:"dataset" msgpack:"dataset"`
	SessionID       string `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	Attempt         int    `json:"attempt,omitempty" msgpack:"attempt,omitempty"`
	Error           string `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp       string `json:"timestamp" msgpack:"timestamp"` // RFC 3339
}

// EventFrom converts a session event into its published form.
func EventFrom(e live.Event) *SessionEvent {
	return &SessionEvent{
		ContractVersion: types.Version,
		EventType:       string(e.Type),
		Dataset:         e.Dataset,
		SessionID:       e.SessionID,
		Attempt:         e.Attempt,
		Error:           e.ErrString(),
		Timestamp:       e.Time.UTC().Format(time.RFC3339Nano),
	}
}

// RecordEnvelope carries one decoded record with enough header context for
// consumers that do not decode the raw bytes.
type RecordEnvelope struct {
	Dataset      string `msgpack:"dataset"`
	RType        string `msgpack:"rtype"`
	Version      uint8  `msgpack:"version"`
	PublisherID  uint16 `msgpack:"publisher_id"`
	InstrumentID uint32 `msgpack:"instrument_id"`
	TsEvent      uint64 `msgpack:"ts_event"`
	TsOut        uint64 `msgpack:"ts_out,omitempty"`
	Raw          []byte `msgpack:"raw"`
}

// EnvelopeFrom copies rec into an envelope. The envelope owns its bytes.
func EnvelopeFrom(dataset string, rec dbn.Record) RecordEnvelope {
	return RecordEnvelope{
		Dataset:      dataset,
		RType:        rec.Header.RType.String(),
		Version:      rec.Version,
		PublisherID:  rec.Header.PublisherID,
		InstrumentID: rec.Header.InstrumentID,
		TsEvent:      rec.Header.TsEvent,
		TsOut:        rec.TsOut,
		Raw:          append([]byte(nil), rec.Bytes()...),
	}
}

// Adapter publishes session lifecycle events to a downstream system.
type Adapter interface {
	// Publish sends a session event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionEvent) error

	// Close releases adapter resources.
	Close() error
}

// RecordPublisher fans out decoded records.
type RecordPublisher interface {
	// PublishRecords sends a batch of records in order.
	PublishRecords(ctx context.Context, records []RecordEnvelope) error

	// Close releases publisher resources.
	Close() error
}

// BaseBackoff is the wait before the first retry; it doubles per retry.
const BaseBackoff = 500 * time.Millisecond

// Retry runs op once plus up to retries more times with exponential backoff
// between attempts. permanent, when non-nil, stops retrying for errors it
// accepts. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, op func(ctx context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
