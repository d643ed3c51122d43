package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/adapter/redis"
	"github.com/justapithecus/livefeed/adapter/webhook"
	"github.com/justapithecus/livefeed/cli/config"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/metrics"
)

const (
	// eventQueueSize bounds session events waiting for the adapter.
	eventQueueSize = 64
	// recordBatchSize is the number of records fanned out per publish.
	recordBatchSize = 64
)

// publisher forwards session events to an adapter off the session
// goroutine, and batches records to a record publisher when one is set.
// A nil *publisher does nothing.
type publisher struct {
	adapter adapter.Adapter
	records adapter.RecordPublisher
	dataset string
	logger  *log.Logger
	metrics *metrics.Collector

	events chan *adapter.SessionEvent
	done   chan struct{}
	batch  []adapter.RecordEnvelope

	mu     sync.Mutex
	closed bool
}

// buildAdapter creates the adapter selected by cfg. Returns nil when
// publishing is disabled.
func buildAdapter(cfg config.PublishConfig) (adapter.Adapter, error) {
	retries := adapterRetries(cfg.Retries)
	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		return redis.New(redis.Config{
			URL:                 cfg.URL,
			Channel:             cfg.Channel,
			RecordChannelPrefix: cfg.RecordChannelPrefix,
			Stream:              cfg.Stream,
			Timeout:             cfg.Timeout.Duration,
			Retries:             retries,
		})
	case "webhook":
		if cfg.Records {
			return nil, usageErr("--publish-records requires --publish=redis")
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, usageErr("unknown --publish %q (must be redis or webhook)", cfg.Type)
	}
}

func adapterRetries(n *int) int {
	if n == nil {
		return redis.DefaultRetries
	}
	return *n
}

// newPublisher starts forwarding to a. Returns nil when a is nil.
func newPublisher(a adapter.Adapter, cfg config.PublishConfig, dataset string, logger *log.Logger, m *metrics.Collector) (*publisher, error) {
	if a == nil {
		return nil, nil
	}
	p := &publisher{
		adapter: a,
		dataset: dataset,
		logger:  logger,
		metrics: m,
		events:  make(chan *adapter.SessionEvent, eventQueueSize),
		done:    make(chan struct{}),
	}
	if cfg.Records {
		rp, ok := a.(adapter.RecordPublisher)
		if !ok {
			return nil, fmt.Errorf("%s adapter cannot publish records", cfg.Type)
		}
		p.records = rp
		p.batch = make([]adapter.RecordEnvelope, 0, recordBatchSize)
	}
	go p.drain()
	return p, nil
}

func (p *publisher) drain() {
	defer close(p.done)
	for ev := range p.events {
		// events still queued at shutdown are delivered
		if err := p.adapter.Publish(context.Background(), ev); err != nil {
			p.metrics.IncPublishFailure()
			p.logger.Warn("publish event failed", map[string]any{"event_type": ev.EventType, "error": err.Error()})
			continue
		}
		p.metrics.IncPublishSuccess()
	}
}

// OnEvent queues e. It never blocks the session; events are dropped
// with a warning when the queue is full.
func (p *publisher) OnEvent(e live.Event) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- adapter.EventFrom(e):
	default:
		p.metrics.IncPublishFailure()
		p.logger.Warn("publish queue full, dropping event", map[string]any{"event_type": string(e.Type)})
	}
}

// Record buffers rec for fan-out and publishes a full batch.
func (p *publisher) Record(ctx context.Context, rec dbn.Record) {
	if p == nil || p.records == nil {
		return
	}
	p.batch = append(p.batch, adapter.EnvelopeFrom(p.dataset, rec))
	if len(p.batch) >= recordBatchSize {
		p.flush(ctx)
	}
}

func (p *publisher) flush(ctx context.Context) {
	if len(p.batch) == 0 {
		return
	}
	if err := p.records.PublishRecords(ctx, p.batch); err != nil {
		p.metrics.IncPublishFailure()
		p.logger.Warn("publish records failed", map[string]any{"records": len(p.batch), "error": err.Error()})
	} else {
		p.metrics.IncPublishSuccess()
	}
	p.batch = p.batch[:0]
}

// Close flushes pending records, delivers queued events and closes the adapter.
func (p *publisher) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	if p.records != nil {
		p.flush(ctx)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("publish queue not drained before shutdown", map[string]any{"pending": len(p.events)})
	}
	return p.adapter.Close()
}
