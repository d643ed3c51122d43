// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters for the lifetime of one live session,
// across reconnections. It is a leaf package with no internal dependencies;
// Exporter bridges a Collector into Prometheus.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connection lifecycle
	ConnectionsOpened  int64
	AuthFailures       int64
	ReconnectAttempts  int64
	ReconnectSuccesses int64
	ReconnectFailures  int64
	StaleDetections    int64

	// Stream
	RecordsReceived int64
	RecordsByKind   map[string]int64
	BytesRead       int64
	Heartbeats      int64
	DecodeErrors    int64
	GatewayErrors   int64

	// Subscriptions
	SubscriptionsAdded int64
	ChunksSent         int64

	// Sinks
	LodeWriteSuccess int64
	LodeWriteFailure int64
	PublishSuccess   int64
	PublishFailure   int64

	// Dimensions (informational, set at construction)
	Dataset        string
	Client         string
	StorageBackend string
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectionsOpened  int64
	authFailures       int64
	reconnectAttempts  int64
	reconnectSuccesses int64
	reconnectFailures  int64
	staleDetections    int64

	recordsReceived int64
	recordsByKind   map[string]int64
	bytesRead       int64
	heartbeats      int64
	decodeErrors    int64
	gatewayErrors   int64

	subscriptionsAdded int64
	chunksSent         int64

	lodeWriteSuccess int64
	lodeWriteFailure int64
	publishSuccess   int64
	publishFailure   int64

	// Dimensions
	dataset        string
	client         string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend may be empty when records are not captured.
func NewCollector(dataset, client, storageBackend string) *Collector {
	return &Collector{
		recordsByKind:  make(map[string]int64),
		dataset:        dataset,
		client:         client,
		storageBackend: storageBackend,
	}
}

func (c *Collector) add(counter *int64, n int64) {
	c.mu.Lock()
	*counter += n
	c.mu.Unlock()
}

// --- Connection lifecycle ---

// IncConnectionOpened records an established gateway connection.
func (c *Collector) IncConnectionOpened() {
	if c == nil {
		return
	}
	c.add(&c.connectionsOpened, 1)
}

// IncAuthFailure records a rejected authentication.
func (c *Collector) IncAuthFailure() {
	if c == nil {
		return
	}
	c.add(&c.authFailures, 1)
}

// IncReconnectAttempt records one reconnection attempt.
func (c *Collector) IncReconnectAttempt() {
	if c == nil {
		return
	}
	c.add(&c.reconnectAttempts, 1)
}

// IncReconnectSuccess records a session restored after a failure.
func (c *Collector) IncReconnectSuccess() {
	if c == nil {
		return
	}
	c.add(&c.reconnectSuccesses, 1)
}

// IncReconnectFailure records a reconnection that gave up.
func (c *Collector) IncReconnectFailure() {
	if c == nil {
		return
	}
	c.add(&c.reconnectFailures, 1)
}

// IncStaleDetection records a heartbeat window elapsing without data.
func (c *Collector) IncStaleDetection() {
	if c == nil {
		return
	}
	c.add(&c.staleDetections, 1)
}

// --- Stream ---

// RecordReceived records one decoded record of the given kind.
func (c *Collector) RecordReceived(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsReceived++
	c.recordsByKind[kind]++
	c.mu.Unlock()
}

// AddBytesRead records bytes read from the gateway.
func (c *Collector) AddBytesRead(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.add(&c.bytesRead, int64(n))
}

// IncHeartbeat records a heartbeat record.
func (c *Collector) IncHeartbeat() {
	if c == nil {
		return
	}
	c.add(&c.heartbeats, 1)
}

// IncDecodeError records a frame that could not be decoded.
func (c *Collector) IncDecodeError() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors, 1)
}

// IncGatewayError records an error record from the gateway.
func (c *Collector) IncGatewayError() {
	if c == nil {
		return
	}
	c.add(&c.gatewayErrors, 1)
}

// --- Subscriptions ---

// AddSubscriptions records subscriptions accepted by the session.
func (c *Collector) AddSubscriptions(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.add(&c.subscriptionsAdded, int64(n))
}

// AddChunksSent records subscription chunks written to the gateway, replays included.
func (c *Collector) AddChunksSent(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.add(&c.chunksSent, int64(n))
}

// --- Sinks ---

// IncLodeWriteSuccess records a successful capture write.
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteSuccess, 1)
}

// IncLodeWriteFailure records a failed capture write.
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteFailure, 1)
}

// IncPublishSuccess records a successful adapter publish.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.publishSuccess, 1)
}

// IncPublishFailure records a failed adapter publish.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.publishFailure, 1)
}

// Snapshot returns an immutable point-in-time copy of all metrics.
// The RecordsByKind map is deep-copied to prevent aliasing.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{RecordsByKind: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.recordsByKind))
	for k, v := range c.recordsByKind {
		byKind[k] = v
	}

	return Snapshot{
		ConnectionsOpened:  c.connectionsOpened,
		AuthFailures:       c.authFailures,
		ReconnectAttempts:  c.reconnectAttempts,
		ReconnectSuccesses: c.reconnectSuccesses,
		ReconnectFailures:  c.reconnectFailures,
		StaleDetections:    c.staleDetections,
		RecordsReceived:    c.recordsReceived,
		RecordsByKind:      byKind,
		BytesRead:          c.bytesRead,
		Heartbeats:         c.heartbeats,
		DecodeErrors:       c.decodeErrors,
		GatewayErrors:      c.gatewayErrors,
		SubscriptionsAdded: c.subscriptionsAdded,
		ChunksSent:         c.chunksSent,
		LodeWriteSuccess:   c.lodeWriteSuccess,
		LodeWriteFailure:   c.lodeWriteFailure,
		PublishSuccess:     c.publishSuccess,
		PublishFailure:     c.publishFailure,
		Dataset:            c.dataset,
		Client:             c.client,
		StorageBackend:     c.storageBackend,
	}
}
