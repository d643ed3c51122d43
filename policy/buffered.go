package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/log"
)

// FlushMode decides what a failed event write does to records that were
// already written in the same flush.
type FlushMode string

const (
	// FlushAtLeastOnce puts the whole batch back, so records may be
	// written twice but never lost.
	FlushAtLeastOnce FlushMode = "at_least_once"
	// FlushRecordsFirst keeps written records out of the retry.
	FlushRecordsFirst FlushMode = "records_first"
)

// BufferedConfig bounds a BufferedPolicy. At least one limit must be set;
// a zero limit is unbounded. Byte sizes are estimates.
type BufferedConfig struct {
	MaxBufferRecords int
	MaxBufferBytes   int64
	FlushMode        FlushMode // default FlushAtLeastOnce
	Logger           *log.Logger
}

// DefaultBufferedConfig allows 10k records or 16 MiB, whichever is hit first.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferRecords: 10_000,
		MaxBufferBytes:   16 << 20,
		FlushMode:        FlushAtLeastOnce,
	}
}

var (
	// ErrBufferFull means a market data record arrived with no room and
	// nothing droppable to evict.
	ErrBufferFull       = errors.New("buffer full: cannot accept non-droppable record")
	ErrInvalidConfig    = errors.New("invalid config: at least one of MaxBufferRecords or MaxBufferBytes must be set")
	ErrInvalidFlushMode = errors.New("invalid flush mode")
)

// BufferedPolicy holds records in a bounded buffer until Flush.
//
// When the buffer is full, droppable records give way to market data: an
// incoming droppable record is discarded, otherwise the oldest buffered
// droppable record is evicted. With nothing to shed, IngestRecord fails
// with ErrBufferFull. A flush writes records before events.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu      sync.Mutex
	pending batch
	stats   Stats
}

// NewBufferedPolicy validates config and returns a buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferRecords <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	switch config.FlushMode {
	case "":
		config.FlushMode = FlushAtLeastOnce
	case FlushAtLeastOnce, FlushRecordsFirst:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFlushMode, config.FlushMode)
	}
	return &BufferedPolicy{sink: sink, config: config, logger: config.Logger}, nil
}

func (p *BufferedPolicy) IngestRecord(_ context.Context, record adapter.RecordEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalRecords++
	size := recordSize(record)
	if p.fits(size) {
		p.pending.addRecord(record)
		return nil
	}

	if IsDroppable(record.RType) {
		p.stats.drop(record.RType)
		p.logDrop(record.RType, "buffer_full")
		return nil
	}
	if kind, ok := p.pending.evictDroppable(); ok {
		p.stats.drop(kind)
		p.logDrop(kind, "evicted_for_market_data")
		if p.fits(size) {
			p.pending.addRecord(record)
			return nil
		}
	}

	p.stats.Errors++
	p.logger.Error("capture buffer full", map[string]any{
		"kind":    record.RType,
		"records": len(p.pending.records),
		"bytes":   p.pending.bytes,
		"policy":  "buffered",
	})
	return ErrBufferFull
}

// IngestEvent buffers a session event. Events are never dropped and only
// count toward the byte limit.
func (p *BufferedPolicy) IngestEvent(_ context.Context, event *adapter.SessionEvent) error {
	p.mu.Lock()
	p.stats.TotalEvents++
	p.pending.addEvent(event)
	p.mu.Unlock()
	return nil
}

// Flush writes everything pending. The batch is taken under mu and written
// outside it; on failure the unwritten part goes back ahead of anything
// ingested meanwhile. FlushMode decides whether records already written
// go back when the event write fails.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.stats.FlushCount++
	b := p.pending.take()
	p.mu.Unlock()

	stage, err := b.write(ctx, p.sink)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.stats.RecordsPersisted += int64(len(b.records))
		p.stats.EventsPersisted += int64(len(b.events))
		return nil
	}

	p.stats.Errors++
	if stage == stageEvents && p.config.FlushMode == FlushRecordsFirst {
		p.stats.RecordsPersisted += int64(len(b.records))
		b = b.eventsOnly()
	}
	p.pending.putBack(b)
	p.logger.Error("flush failed", map[string]any{
		"stage":  string(stage),
		"error":  err.Error(),
		"policy": "buffered",
	})
	return err
}

// Close flushes and closes the sink. A flush error wins over a close error.
func (p *BufferedPolicy) Close() error {
	flushErr := p.Flush(context.Background())
	if err := p.sink.Close(); flushErr == nil {
		return err
	}
	return flushErr
}

func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats.clone()
	s.BufferSize = p.pending.bytes
	return s
}

// fits reports whether a record of size bytes is within both limits.
// Caller holds mu.
func (p *BufferedPolicy) fits(size int64) bool {
	c := p.config
	if c.MaxBufferRecords > 0 && len(p.pending.records) >= c.MaxBufferRecords {
		return false
	}
	return c.MaxBufferBytes <= 0 || p.pending.bytes+size <= c.MaxBufferBytes
}

func (p *BufferedPolicy) logDrop(kind, reason string) {
	p.logger.Warn("record dropped", map[string]any{
		"kind":   kind,
		"reason": reason,
		"policy": "buffered",
	})
}

var _ Policy = (*BufferedPolicy)(nil)
