package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/log"
)

// StreamingConfig sets when a StreamingPolicy flushes. At least one
// trigger must be enabled; zero disables a trigger.
type StreamingConfig struct {
	FlushCount    int           // flush once this many records are pending
	FlushInterval time.Duration // flush pending data at least this often
	Logger        *log.Logger
}

// FlushTrigger names what started a flush.
type FlushTrigger string

const (
	FlushTriggerCount       FlushTrigger = "count"
	FlushTriggerInterval    FlushTrigger = "interval"
	FlushTriggerTermination FlushTrigger = "termination" // end of stream or Close
)

// ErrStreamingInvalidConfig is returned when no flush trigger is enabled.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// StreamingPolicy persists continuously in batches and never drops.
//
// Each flush writes records before events. A failed batch goes back ahead
// of newer data and is retried by the next trigger; once records are
// written only the events are retried. flushMu serializes the interval
// goroutine with ingestion-triggered flushes, and mu is released during
// the write so ingestion only waits on the sink when it triggered the
// flush itself.
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	flushMu sync.Mutex

	mu        sync.Mutex
	pending   batch
	stats     Stats
	byTrigger map[FlushTrigger]int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewStreamingPolicy validates config and starts the interval loop when
// an interval is set. Close stops it.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}
	p := &StreamingPolicy{
		sink:      sink,
		config:    config,
		logger:    config.Logger,
		byTrigger: make(map[FlushTrigger]int64, 3),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go p.tick(config.FlushInterval)
	} else {
		close(p.done)
	}
	return p, nil
}

// IngestRecord queues the record and flushes once FlushCount are pending.
func (p *StreamingPolicy) IngestRecord(ctx context.Context, record adapter.RecordEnvelope) error {
	p.mu.Lock()
	p.stats.TotalRecords++
	p.pending.addRecord(record)
	full := p.config.FlushCount > 0 && len(p.pending.records) >= p.config.FlushCount
	p.mu.Unlock()

	if !full {
		return nil
	}
	return p.flush(ctx, FlushTriggerCount)
}

// IngestEvent queues the event for the next flush.
func (p *StreamingPolicy) IngestEvent(_ context.Context, event *adapter.SessionEvent) error {
	p.mu.Lock()
	p.stats.TotalEvents++
	p.pending.addEvent(event)
	p.mu.Unlock()
	return nil
}

// Flush writes everything pending.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.flush(ctx, FlushTriggerTermination)
}

func (p *StreamingPolicy) flush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.byTrigger[trigger]++
	p.stats.FlushCount++
	b := p.pending.take()
	p.mu.Unlock()

	if b.empty() {
		return nil
	}
	stage, err := b.write(ctx, p.sink)

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case err == nil:
		p.stats.RecordsPersisted += int64(len(b.records))
		p.stats.EventsPersisted += int64(len(b.events))
		p.logger.Debug("streaming flush", map[string]any{
			"trigger": string(trigger),
			"records": len(b.records),
			"events":  len(b.events),
		})
		return nil
	case stage == stageEvents:
		p.stats.RecordsPersisted += int64(len(b.records))
		b = b.eventsOnly()
	}
	p.stats.Errors++
	p.pending.putBack(b)
	p.logger.Error("streaming flush failed", map[string]any{
		"trigger": string(trigger),
		"stage":   string(stage),
		"error":   err.Error(),
	})
	return err
}

// Close stops the interval loop, flushes, and closes the sink. A flush
// error wins over a close error.
func (p *StreamingPolicy) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done

	flushErr := p.Flush(context.Background())
	if err := p.sink.Close(); flushErr == nil {
		return err
	}
	return flushErr
}

func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats.clone()
	s.BufferSize = p.pending.bytes
	return s
}

// FlushTriggerStats returns how many flushes each trigger started.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[FlushTrigger]int64{
		FlushTriggerCount:       0,
		FlushTriggerInterval:    0,
		FlushTriggerTermination: 0,
	}
	for k, v := range p.byTrigger {
		out[k] = v
	}
	return out
}

func (p *StreamingPolicy) tick(every time.Duration) {
	defer close(p.done)
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.mu.Lock()
			idle := p.pending.empty()
			p.mu.Unlock()
			if !idle {
				// a failure is logged and retried on the next tick
				_ = p.flush(context.Background(), FlushTriggerInterval)
			}
		}
	}
}

var _ Policy = (*StreamingPolicy)(nil)
