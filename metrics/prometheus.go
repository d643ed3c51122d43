package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "livefeed"

	defaultReadHeaderTimeout = 10 * time.Second
)

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// SessionCollector exposes a Collector's counters as Prometheus metrics.
// Values are read from a fresh Snapshot on every scrape.
type SessionCollector struct {
	source   *Collector
	counters []counterDesc
	byKind   *prometheus.Desc
}

// NewSessionCollector creates a Prometheus collector over c.
func NewSessionCollector(c *Collector) *SessionCollector {
	snap := c.Snapshot()
	labels := prometheus.Labels{"dataset": snap.Dataset}
	if snap.StorageBackend != "" {
		labels["storage_backend"] = snap.StorageBackend
	}

	counter := func(name, help string, value func(Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}

	return &SessionCollector{
		source: c,
		counters: []counterDesc{
			counter("connections_opened_total", "Gateway connections established.", func(s Snapshot) int64 { return s.ConnectionsOpened }),
			counter("auth_failures_total", "Authentication requests rejected by the gateway.", func(s Snapshot) int64 { return s.AuthFailures }),
			counter("reconnect_attempts_total", "Reconnection attempts.", func(s Snapshot) int64 { return s.ReconnectAttempts }),
			counter("reconnect_successes_total", "Sessions restored after a failure.", func(s Snapshot) int64 { return s.ReconnectSuccesses }),
			counter("reconnect_failures_total", "Reconnections that gave up.", func(s Snapshot) int64 { return s.ReconnectFailures }),
			counter("stale_detections_total", "Heartbeat windows that elapsed without data.", func(s Snapshot) int64 { return s.StaleDetections }),
			counter("bytes_read_total", "Bytes read from the gateway.", func(s Snapshot) int64 { return s.BytesRead }),
			counter("heartbeats_total", "Heartbeat records received.", func(s Snapshot) int64 { return s.Heartbeats }),
			counter("decode_errors_total", "Frames that could not be decoded.", func(s Snapshot) int64 { return s.DecodeErrors }),
			counter("gateway_errors_total", "Error records sent by the gateway.", func(s Snapshot) int64 { return s.GatewayErrors }),
			counter("subscriptions_total", "Subscriptions accepted.", func(s Snapshot) int64 { return s.SubscriptionsAdded }),
			counter("subscription_chunks_sent_total", "Subscription chunks written, replays included.", func(s Snapshot) int64 { return s.ChunksSent }),
			counter("lode_writes_total", "Successful capture writes.", func(s Snapshot) int64 { return s.LodeWriteSuccess }),
			counter("lode_write_failures_total", "Failed capture writes.", func(s Snapshot) int64 { return s.LodeWriteFailure }),
			counter("publishes_total", "Successful adapter publishes.", func(s Snapshot) int64 { return s.PublishSuccess }),
			counter("publish_failures_total", "Failed adapter publishes.", func(s Snapshot) int64 { return s.PublishFailure }),
		},
		byKind: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "records_total"),
			"Records decoded, by record kind.",
			[]string{"kind"}, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (sc *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range sc.counters {
		ch <- c.desc
	}
	ch <- sc.byKind
}

// Collect implements prometheus.Collector.
func (sc *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	snap := sc.source.Snapshot()
	for _, c := range sc.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(snap)))
	}
	for kind, n := range snap.RecordsByKind {
		ch <- prometheus.MustNewConstMetric(sc.byKind, prometheus.CounterValue, float64(n), kind)
	}
}

// Exporter serves Prometheus metrics over HTTP.
type Exporter struct {
	addr     string
	server   *http.Server
	registry *prometheus.Registry
	mu       sync.Mutex
	started  bool
}

// NewExporter creates an exporter serving c and Go runtime metrics at addr.
func NewExporter(addr string, c *Collector) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewSessionCollector(c))
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Exporter{addr: addr, registry: reg}
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an http.Handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start serves /metrics until Shutdown. It blocks and returns
// http.ErrServerClosed after a graceful shutdown.
func (e *Exporter) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	e.started = true
	e.mu.Unlock()

	return e.server.ListenAndServe()
}

// Shutdown gracefully stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil && e.started {
		e.started = false
		return e.server.Shutdown(ctx)
	}
	return nil
}
