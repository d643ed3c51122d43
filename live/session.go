// Package live implements the live gateway session: connection bootstrap,
// authentication, subscription framing, heartbeat tracking, record decoding
// and reconnection with resubscription.
//
// A Session has a single consumer. Subscribe, Start, NextRecord and
// Reconnect must not be called concurrently; overlapping calls fail with a
// usage error. Close and the read-only accessors are safe from any goroutine.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/livefeed/auth"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/heartbeat"
	"github.com/justapithecus/livefeed/iox"
	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/lserr"
	"github.com/justapithecus/livefeed/metrics"
	"github.com/justapithecus/livefeed/subscription"
	"github.com/justapithecus/livefeed/types"
)

// Session is an authenticated connection to the live gateway.
type Session struct {
	cfg        Config
	baseLogger *log.Logger
	logger     *log.Logger
	metrics    *metrics.Collector

	state atomic.Int32
	busy  atomic.Bool

	// mu guards fields read by accessors from other goroutines.
	mu        sync.Mutex
	conn      net.Conn
	sessionID string
	metadata  *dbn.Metadata
	closeErr  error

	buf  *dbn.Buffer
	dec  *dbn.Decoder
	hb   *heartbeat.Monitor
	subs *subscription.Manager

	pending    []subscription.Chunk
	started    bool
	gatewayErr string
}

// Connect dials the gateway and authenticates. The returned session is Ready:
// subscriptions may be added and Start called.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := newSession(cfg.withDefaults())
	if err := s.establish(ctx); err != nil {
		s.dropConn()
		s.state.Store(int32(StateClosed))
		return nil, err
	}
	s.emit(Event{Type: EventConnected})
	return s, nil
}

func newSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Session{
		cfg:        cfg,
		baseLogger: logger,
		logger:     logger,
		metrics:    cfg.Metrics,
		buf:        dbn.NewBuffer(cfg.BufferSize, cfg.MaxBufferSize),
		dec:        dbn.NewDecoder(cfg.UpgradePolicy),
		hb:         heartbeat.NewMonitor(cfg.HeartbeatInterval, cfg.HeartbeatGrace),
		subs:       subscription.NewManager(cfg.ChunkLimits),
	}
}

// establish resolves, dials and authenticates a fresh connection.
func (s *Session) establish(ctx context.Context) error {
	addr, err := s.cfg.Resolver.Resolve(ctx)
	if err != nil {
		return lserr.Classify(lserr.ErrTransport, "resolve", err)
	}
	conn, err := s.cfg.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return lserr.Transport("dial", err)
	}

	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return errSessionClosed("connect")
	}
	s.conn = conn
	s.mu.Unlock()

	s.buf.Reset()
	s.gatewayErr = ""
	s.hb.Reset(time.Now())
	s.setState(StateConnected)
	s.metrics.IncConnectionOpened()
	s.logger.Debug("connected", map[string]any{"address": addr})

	s.setState(StateAuthenticating)
	res, err := auth.Handshake(ctx, controlConn{s}, auth.Request{
		Key:               s.cfg.Key,
		Dataset:           s.cfg.Dataset,
		TsOut:             s.cfg.TsOut,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		Client:            s.cfg.Client,
	}, s.baseLogger)
	if err != nil {
		if errors.Is(err, lserr.ErrAuth) {
			s.metrics.IncAuthFailure()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	s.mu.Lock()
	s.sessionID = res.SessionID
	s.logger = s.baseLogger.WithSession(res.SessionID)
	s.mu.Unlock()
	s.setState(StateReady)
	return nil
}

// Subscribe adds subscriptions. Before Start they are queued and sent as one
// batch by Start; afterwards each call is sent immediately as its own batch.
// A replay start time is only allowed before Start.
func (s *Session) Subscribe(ctx context.Context, subs ...types.Subscription) error {
	if err := s.acquire("subscribe"); err != nil {
		return err
	}
	defer s.release()

	if len(subs) == 0 {
		return lserr.BadArgument("subscriptions", "at least one is required")
	}
	if err := s.ensureStreaming(ctx); err != nil {
		return err
	}
	if st := s.State(); st != StateReady && st != StateStreaming {
		return lserr.Usage("subscribe", fmt.Sprintf("session is %s", st))
	}
	if s.started {
		for _, sub := range subs {
			if sub.HasStart() {
				return lserr.BadArgument("start", "replay is only available before the session starts")
			}
		}
	}

	chunks, err := s.subs.Add(subs...)
	if err != nil {
		return err
	}
	s.metrics.AddSubscriptions(len(subs))

	if !s.started {
		s.pending = append(s.pending, chunks...)
		s.logger.Debug("subscription queued", map[string]any{"chunks": len(chunks), "queued": len(s.pending)})
		return nil
	}

	if err := s.sendChunks(ctx, subscription.MarkBatch(chunks)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// the subscription is active, so recovery replays it
		return s.recover(ctx, err)
	}
	return nil
}

// Start sends queued subscriptions and the start request, then reads the
// stream metadata. It may be called once.
func (s *Session) Start(ctx context.Context) (*dbn.Metadata, error) {
	if err := s.acquire("start"); err != nil {
		return nil, err
	}
	defer s.release()

	if s.started {
		return nil, lserr.Usage("start", "session already started")
	}
	if st := s.State(); st != StateReady {
		return nil, lserr.Usage("start", fmt.Sprintf("session is %s", st))
	}

	batch := subscription.MarkBatch(s.pending)
	s.pending = nil
	s.started = true

	err := s.sendChunks(ctx, batch)
	var meta *dbn.Metadata
	if err == nil {
		meta, err = s.startStream(ctx)
	}
	if err == nil {
		return meta.Clone(), nil
	}

	switch {
	case ctx.Err() != nil:
		// the next call reconnects and replays
		s.dropConn()
		return nil, ctx.Err()
	case lserr.IsRetryable(err) && s.cfg.Reconnect.Enabled():
		if err := s.reconnect(ctx, err); err != nil {
			return nil, err
		}
		return s.Metadata(), nil
	default:
		s.fail(err)
		return nil, err
	}
}

// startStream requests streaming and waits for the metadata preamble.
func (s *Session) startStream(ctx context.Context) (*dbn.Metadata, error) {
	if err := s.write(ctx, "start_session", []byte("start_session\n")); err != nil {
		return nil, err
	}
	meta, err := s.readMetadata(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.metadata = meta
	s.mu.Unlock()
	s.setState(StateStreaming)
	s.logger.Info("streaming started", map[string]any{
		"version":       meta.Version,
		"schema":        string(meta.Schema),
		"subscriptions": s.subs.Len(),
	})
	return meta, nil
}

// NextRecord returns the next record. The record's bytes are valid until the
// next call; use Record.Clone to keep them.
//
// Cancelling ctx returns ctx's error and loses no data: a later call resumes
// from the same stream position. Transport failures and heartbeat staleness
// are recovered according to the reconnect policy. With reconnection
// disabled, a clean end of stream returns io.EOF.
func (s *Session) NextRecord(ctx context.Context) (dbn.Record, error) {
	if err := s.acquire("next_record"); err != nil {
		return dbn.Record{}, err
	}
	defer s.release()

	if !s.started {
		return dbn.Record{}, lserr.Usage("next_record", "session has not been started")
	}

	for {
		if err := ctx.Err(); err != nil {
			return dbn.Record{}, err
		}
		if err := s.ensureStreaming(ctx); err != nil {
			return dbn.Record{}, err
		}

		// buffered records are delivered before liveness is judged
		raw, err := s.buf.NextRecord()
		if err == nil {
			return s.decode(raw)
		}
		if !errors.Is(err, dbn.ErrIncomplete) {
			s.metrics.IncDecodeError()
			return dbn.Record{}, s.fail(lserr.Protocol("next_record", "", err))
		}

		err = s.fill(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errIdle):
			if err := s.checkStale(ctx); err != nil {
				return dbn.Record{}, err
			}
		case ctx.Err() != nil:
			return dbn.Record{}, ctx.Err()
		case errors.Is(err, errClosed):
			return dbn.Record{}, errSessionClosed("next_record")
		case errors.Is(err, io.EOF):
			if eofErr := s.endOfStream(); eofErr != nil {
				return dbn.Record{}, eofErr
			}
			if err := s.recover(ctx, lserr.Transport("read", io.ErrUnexpectedEOF)); err != nil {
				return dbn.Record{}, err
			}
		case lserr.IsRetryable(err):
			if err := s.recover(ctx, err); err != nil {
				return dbn.Record{}, err
			}
		default:
			return dbn.Record{}, s.fail(err)
		}
	}
}

// checkStale recovers the connection when nothing has arrived for the
// heartbeat window.
func (s *Session) checkStale(ctx context.Context) error {
	now := time.Now()
	if !s.hb.Stale(now) {
		return nil
	}
	silence := s.hb.Silence(now)
	s.metrics.IncStaleDetection()
	s.logger.Warn("connection stale", map[string]any{
		"silence": silence.String(),
		"window":  s.hb.Window().String(),
	})
	return s.recover(ctx, lserr.Stale(silence))
}

// endOfStream decides how a clean EOF ends the stream. It returns nil when
// the session should reconnect.
func (s *Session) endOfStream() error {
	if s.gatewayErr != "" {
		return s.fail(lserr.Gateway(s.gatewayErr))
	}
	if s.cfg.Reconnect.Enabled() {
		return nil
	}
	if s.buf.Len() > 0 {
		return s.fail(lserr.Protocol("next_record", "stream ended inside a record",
			&dbn.FrameError{Kind: dbn.FrameErrorPartial, Msg: fmt.Sprintf("%d trailing bytes", s.buf.Len())}))
	}
	s.logger.Info("stream ended", nil)
	_ = s.closeWith(nil)
	return io.EOF
}

// decode turns a framed record into a Record and observes it.
func (s *Session) decode(raw []byte) (dbn.Record, error) {
	rec, err := s.dec.Decode(raw)
	if err != nil {
		s.metrics.IncDecodeError()
		return dbn.Record{}, s.fail(lserr.Protocol("decode", "", err))
	}

	now := time.Now()
	switch rec.Header.RType {
	case dbn.RTypeSystem:
		if msg, err := rec.Message(); err == nil {
			if sys, ok := msg.(*dbn.SystemMsg); ok && sys.IsHeartbeat() {
				s.hb.ObserveHeartbeat(now)
				s.metrics.IncHeartbeat()
				s.metrics.RecordReceived(rec.Header.RType.String())
				return rec, nil
			}
		}
	case dbn.RTypeError:
		if msg, err := rec.Message(); err == nil {
			if em, ok := msg.(*dbn.ErrorMsg); ok {
				s.gatewayErr = em.Err
				s.metrics.IncGatewayError()
				s.logger.Warn("gateway error", map[string]any{"error": em.Err, "code": em.Code})
			}
		}
	}
	s.hb.Observe(now)
	s.metrics.RecordReceived(rec.Header.RType.String())
	return rec, nil
}

// Reconnect drops the current connection and establishes a new one. A
// started session has its subscriptions replayed and resumes streaming.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.acquire("reconnect"); err != nil {
		return err
	}
	defer s.release()

	return s.reconnect(ctx, nil)
}

// ensureStreaming restores a started session whose connection was dropped
// by an earlier failure or cancellation.
func (s *Session) ensureStreaming(ctx context.Context) error {
	if !s.started || s.State() == StateStreaming {
		return nil
	}
	return s.reconnect(ctx, nil)
}

// recover reconnects after cause when the policy allows, and otherwise
// ends the session with cause.
func (s *Session) recover(ctx context.Context, cause error) error {
	if !s.cfg.Reconnect.Enabled() {
		return s.fail(cause)
	}
	return s.reconnect(ctx, cause)
}

func (s *Session) sendChunks(ctx context.Context, chunks []subscription.Chunk) error {
	for _, c := range chunks {
		if err := s.write(ctx, "subscribe", []byte(c.Encode())); err != nil {
			return err
		}
	}
	s.metrics.AddChunksSent(len(chunks))
	if len(chunks) > 0 {
		s.logger.Debug("subscription chunks sent", map[string]any{"chunks": len(chunks)})
	}
	return nil
}

// Close closes the session. It is safe to call more than once and from any
// goroutine; a blocked NextRecord returns a usage error.
func (s *Session) Close() error {
	return s.closeWith(nil)
}

// fail closes the session with cause and returns cause.
func (s *Session) fail(cause error) error {
	_ = s.closeWith(cause)
	return cause
}

func (s *Session) closeWith(cause error) error {
	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(StateClosed))
	conn := s.conn
	logger := s.logger
	if cause != nil {
		s.closeErr = cause
	}
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if cause != nil {
		logger.Error("session closed", map[string]any{"error": cause.Error()})
	} else {
		logger.Info("session closed", nil)
	}
	s.emit(Event{Type: EventClosed, Err: cause})
	iox.DiscardErr(logger.Sync)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// dropConn closes the current connection without closing the session.
func (s *Session) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if st := s.State(); st != StateClosed {
		s.state.Store(int32(StateUnstarted))
	}
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Session) acquire(op string) error {
	if s.State() == StateClosed {
		return errSessionClosed(op)
	}
	if !s.busy.CompareAndSwap(false, true) {
		return lserr.Usage(op, "session is already in use by another call")
	}
	return nil
}

func (s *Session) release() {
	s.busy.Store(false)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.State() != StateClosed {
		s.state.Store(int32(st))
	}
	s.mu.Unlock()
}

func (s *Session) emit(e Event) {
	if s.cfg.OnEvent == nil {
		return
	}
	e.Dataset = s.cfg.Dataset
	e.SessionID = s.SessionID()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.cfg.OnEvent(e)
}

// State returns the session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SessionID returns the gateway-assigned id of the current connection.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Dataset returns the session's dataset code.
func (s *Session) Dataset() string {
	return s.cfg.Dataset
}

// Metadata returns a copy of the most recent stream metadata, or nil before Start.
func (s *Session) Metadata() *dbn.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata.Clone()
}

// Stale reports whether the heartbeat window has elapsed without data.
func (s *Session) Stale() bool {
	return s.hb.Stale(time.Now())
}

// LastActivity returns when data was last received.
func (s *Session) LastActivity() time.Time {
	return s.hb.LastActivity()
}

// Subscriptions returns the active subscriptions in the order they were added.
func (s *Session) Subscriptions() []subscription.Entry {
	return s.subs.Active()
}

// Err returns the failure that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
