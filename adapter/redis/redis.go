// Package redis publishes session activity through Redis.
//
// Session events go out as JSON on a pub/sub channel and, when a stream
// key is configured, are also appended to a capped Redis stream so late
// consumers can replay a session's history. Records go out as msgpack
// envelopes on a per-dataset channel, pipelined one round trip per batch.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/livefeed/adapter"
)

const (
	DefaultChannel             = "livefeed:session_events"
	DefaultRecordChannelPrefix = "livefeed:records:"
	DefaultStreamMaxLen        = 10_000
	DefaultTimeout             = 5 * time.Second
	DefaultRetries             = 3
)

// Config configures the adapter. Only URL is required.
type Config struct {
	// URL is redis://[:password@]host:port[/db].
	URL     string
	Channel string
	// RecordChannelPrefix is joined with the lowercased dataset code.
	RecordChannelPrefix string
	// Stream, when set, also XADDs every event to this key, trimmed to
	// roughly StreamMaxLen entries.
	Stream       string
	StreamMaxLen int64
	Timeout      time.Duration // per attempt
	Retries      int
}

// Adapter publishes events and records to one Redis server.
type Adapter struct {
	cfg    Config
	client *goredis.Client
}

// New validates cfg, fills defaults and returns an adapter. No connection
// is made until the first publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	cfg.Channel = orDefault(cfg.Channel, DefaultChannel)
	cfg.RecordChannelPrefix = orDefault(cfg.RecordChannelPrefix, DefaultRecordChannelPrefix)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	return &Adapter{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// RecordChannel returns the channel records of dataset are published to.
func (a *Adapter) RecordChannel(dataset string) string {
	return a.cfg.RecordChannelPrefix + strings.ToLower(dataset)
}

// attempt runs op under the retry policy with a per-attempt timeout.
func (a *Adapter) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	return adapter.Retry(ctx, "redis", a.cfg.Retries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		return op(ctx)
	}, nil)
}

// Publish sends event on the event channel and, if configured, the stream.
// Both commands share one pipeline, so a retry may repeat a stream entry.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	return a.attempt(ctx, func(ctx context.Context) error {
		_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			p.Publish(ctx, a.cfg.Channel, body)
			if a.cfg.Stream != "" {
				p.XAdd(ctx, &goredis.XAddArgs{
					Stream: a.cfg.Stream,
					MaxLen: a.cfg.StreamMaxLen,
					Approx: true,
					Values: map[string]any{
						"event_type": event.EventType,
						"dataset":    event.Dataset,
						"payload":    body,
					},
				})
			}
			return nil
		})
		return err
	})
}

// PublishRecords sends each record as its own msgpack message, in order.
// A retried batch may deliver records that already reached subscribers.
func (a *Adapter) PublishRecords(ctx context.Context, records []adapter.RecordEnvelope) error {
	if len(records) == 0 {
		return nil
	}
	bodies := make([][]byte, len(records))
	for i := range records {
		b, err := msgpack.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("redis: marshal record %d: %w", i, err)
		}
		bodies[i] = b
	}
	return a.attempt(ctx, func(ctx context.Context) error {
		_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, b := range bodies {
				p.Publish(ctx, a.RecordChannel(records[i].Dataset), b)
			}
			return nil
		})
		return err
	})
}

// DecodeRecord decodes one message from a record channel.
func DecodeRecord(payload []byte) (adapter.RecordEnvelope, error) {
	var env adapter.RecordEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return adapter.RecordEnvelope{}, fmt.Errorf("redis: unmarshal record: %w", err)
	}
	return env, nil
}

// History returns up to count of the most recent events in the stream,
// oldest first. It fails when no stream is configured.
func (a *Adapter) History(ctx context.Context, count int64) ([]*adapter.SessionEvent, error) {
	if a.cfg.Stream == "" {
		return nil, errors.New("redis: no event stream configured")
	}
	entries, err := a.client.XRevRangeN(ctx, a.cfg.Stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read stream %s: %w", a.cfg.Stream, err)
	}
	out := make([]*adapter.SessionEvent, len(entries))
	for i, e := range entries {
		payload, _ := e.Values["payload"].(string)
		var ev adapter.SessionEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("redis: stream entry %s: %w", e.ID, err)
		}
		out[len(entries)-1-i] = &ev
	}
	return out, nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

var (
	_ adapter.Adapter         = (*Adapter)(nil)
	_ adapter.RecordPublisher = (*Adapter)(nil)
)
