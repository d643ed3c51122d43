package cmd

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/iox"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/metrics"
)

// recordFunc handles one record in stream order. rec's bytes are only
// valid for the duration of the call. Returning an error stops the stream.
type recordFunc func(ctx context.Context, rec dbn.Record, msg dbn.Message) error

// consumer drives one session from connect to close.
type consumer struct {
	plan    *sessionPlan
	logger  *log.Logger
	metrics *metrics.Collector

	// onStart runs once with the stream metadata, before any record.
	onStart func(ctx context.Context, meta *dbn.Metadata) error
	// onRecord runs for every record.
	onRecord recordFunc

	session atomic.Pointer[live.Session]
	records atomic.Int64
}

// run connects, subscribes and consumes until ctx is cancelled, the
// record limit is reached or the stream ends. Interruption is not an error.
func (c *consumer) run(ctx context.Context) error {
	cfg := c.plan.live
	cfg.Logger = c.logger
	cfg.Metrics = c.metrics

	sess, err := live.Connect(ctx, cfg)
	if err != nil {
		return ignoreCancel(err)
	}
	c.session.Store(sess)
	defer iox.DiscardClose(sess)

	c.logger.Info("subscribing", map[string]any{"subscriptions": describeSubs(c.plan.subs)})
	if err := sess.Subscribe(ctx, c.plan.subs...); err != nil {
		return ignoreCancel(err)
	}
	meta, err := sess.Start(ctx)
	if err != nil {
		return ignoreCancel(err)
	}
	if c.onStart != nil {
		if err := c.onStart(ctx, meta); err != nil {
			return err
		}
	}

	for {
		rec, err := sess.NextRecord(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return ignoreCancel(err)
		}
		msg, err := rec.Message()
		if err != nil {
			c.logger.Warn("undecodable record skipped", map[string]any{"rtype": rec.Header.RType.String(), "error": err.Error()})
			continue
		}
		if c.onRecord != nil {
			if err := c.onRecord(ctx, rec, msg); err != nil {
				return err
			}
		}
		if !isDataMessage(msg) {
			continue
		}
		if n := c.records.Add(1); c.plan.limit > 0 && n >= int64(c.plan.limit) {
			c.logger.Info("record limit reached", map[string]any{"limit": c.plan.limit})
			return nil
		}
	}
}

// status reports the session state for dashboards; safe from any goroutine.
func (c *consumer) status() (state, sessionID string) {
	sess := c.session.Load()
	if sess == nil {
		return live.StateUnstarted.String(), ""
	}
	return sess.State().String(), sess.SessionID()
}

// isDataMessage reports whether msg counts toward --limit. Heartbeats,
// symbol mappings and gateway errors do not.
func isDataMessage(msg dbn.Message) bool {
	switch msg.(type) {
	case *dbn.SystemMsg, *dbn.SymbolMappingMsg, *dbn.ErrorMsg:
		return false
	default:
		return true
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
