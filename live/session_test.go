package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/livefeed/auth"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/gatewaytest"
	"github.com/justapithecus/livefeed/iox"
	"github.com/justapithecus/livefeed/lserr"
	"github.com/justapithecus/livefeed/metrics"
	"github.com/justapithecus/livefeed/types"
)

const (
	testKey     = "32-character-with-lots-of-chars-"
	testDataset = "GLBX.MDP3"
)

func testConfig(t *testing.T, srv *gatewaytest.Server) Config {
	t.Helper()
	key, err := auth.ParseKey(testKey)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	return Config{
		Key:      key,
		Dataset:  testDataset,
		Resolver: StaticResolver(srv.Addr()),
	}
}

func esSub() types.Subscription {
	return types.Subscription{
		Symbols: []string{"ESM4", "NQM4"},
		Schema:  types.SchemaTrades,
		STypeIn: types.STypeRawSymbol,
	}
}

func trade(t testing.TB, instrument uint32) []byte {
	t.Helper()
	raw, err := dbn.Encode(&dbn.TradeMsg{
		Hd:    dbn.RecordHeader{RType: dbn.RTypeTrade, PublisherID: 1, InstrumentID: instrument, TsEvent: 1_700_000_000_000_000_000},
		Price: 5_000_250_000_000,
		Size:  3,
	}, dbn.CurrentVersion)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return raw
}

// streamScript authenticates, accepts one subscription chunk, starts the
// stream and then runs then.
func streamScript(then func(c *gatewaytest.Conn)) gatewaytest.Handler {
	return func(c *gatewaytest.Conn) {
		if c.Authenticate(testKey) == nil {
			return
		}
		if c.ExpectSubscribe() == nil || !c.ExpectStart() {
			return
		}
		if !c.SendMetadata(gatewaytest.Metadata(testDataset)) {
			return
		}
		then(c)
	}
}

func startSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := Connect(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(iox.CloseFunc(s))
	if err := s.Subscribe(t.Context(), esSub()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s
}

func nextTrade(t *testing.T, s *Session) *dbn.TradeMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	rec, err := s.NextRecord(ctx)
	if err != nil {
		t.Fatalf("NextRecord failed: %v", err)
	}
	msg, err := rec.Message()
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	tr, ok := msg.(*dbn.TradeMsg)
	if !ok {
		t.Fatalf("got %T, want *dbn.TradeMsg", msg)
	}
	return tr
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func TestSession_ConnectSubscribeStream(t *testing.T) {
	srv := gatewaytest.NewServer(t, func(c *gatewaytest.Conn) {
		fields := c.Authenticate(testKey)
		if fields == nil {
			return
		}
		if fields["dataset"] != testDataset || fields["encoding"] != "dbn" || fields["ts_out"] != "0" {
			t.Errorf("auth fields = %v", fields)
		}
		if fields["client"] != types.ClientID() {
			t.Errorf("client = %q, want %q", fields["client"], types.ClientID())
		}
		if fields["heartbeat_interval_s"] != "30" {
			t.Errorf("heartbeat_interval_s = %q, want 30", fields["heartbeat_interval_s"])
		}

		sub := c.ExpectSubscribe()
		want := map[string]string{
			"schema": "trades", "stype_in": "raw_symbol", "id": "1",
			"symbols": "ESM4,NQM4", "snapshot": "0", "is_last": "1",
		}
		for k, v := range want {
			if sub[k] != v {
				t.Errorf("subscription %s = %q, want %q", k, sub[k], v)
			}
		}
		if !c.ExpectStart() || !c.SendMetadata(gatewaytest.Metadata(testDataset)) {
			return
		}
		for i := uint32(1); i <= 3; i++ {
			c.SendRecord(trade(t, i))
		}
		c.Hold()
	})

	m := metrics.NewCollector(testDataset, types.ClientID(), "")
	cfg := testConfig(t, srv)
	cfg.Metrics = m

	s, err := Connect(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer iox.DiscardClose(s)

	if s.State() != StateReady {
		t.Errorf("State() = %s, want ready", s.State())
	}
	if s.SessionID() != "5" {
		t.Errorf("SessionID() = %q, want 5", s.SessionID())
	}
	if err := s.Subscribe(t.Context(), esSub()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	meta, err := s.Start(t.Context())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if meta.Dataset != testDataset || meta.Version != dbn.CurrentVersion {
		t.Errorf("metadata = %+v", meta)
	}
	if s.State() != StateStreaming {
		t.Errorf("State() = %s, want streaming", s.State())
	}

	for i := uint32(1); i <= 3; i++ {
		tr := nextTrade(t, s)
		if tr.Hd.InstrumentID != i || tr.Price != 5_000_250_000_000 || tr.Size != 3 {
			t.Errorf("record %d = %+v", i, tr)
		}
	}

	snap := m.Snapshot()
	if snap.RecordsByKind["trade"] != 3 || snap.ChunksSent != 1 || snap.ConnectionsOpened != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestSession_QueuedSubscriptionsFormOneBatch(t *testing.T) {
	srv := gatewaytest.NewServer(t, func(c *gatewaytest.Conn) {
		if c.Authenticate(testKey) == nil {
			return
		}
		first := c.ExpectSubscribe()
		second := c.ExpectSubscribe()
		if first["id"] != "1" || first["is_last"] != "0" {
			t.Errorf("first chunk = %v", first)
		}
		if second["id"] != "2" || second["is_last"] != "1" || second["schema"] != "mbo" {
			t.Errorf("second chunk = %v", second)
		}
		if c.ExpectStart() {
			c.SendMetadata(gatewaytest.Metadata(testDataset))
		}
		c.Hold()
	})

	s, err := Connect(t.Context(), testConfig(t, srv))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer iox.DiscardClose(s)

	if err := s.Subscribe(t.Context(), esSub()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	mbo := types.Subscription{Symbols: []string{"CLZ4"}, Schema: types.SchemaMbo, STypeIn: types.STypeRawSymbol}
	if err := s.Subscribe(t.Context(), mbo); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := len(s.Subscriptions()); got != 2 {
		t.Errorf("Subscriptions() has %d entries, want 2", got)
	}
}

func TestSession_SubscribeWhileStreaming(t *testing.T) {
	got := make(chan map[string]string, 1)
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) {
		got <- c.ExpectSubscribe()
		c.Hold()
	}))
	s := startSession(t, testConfig(t, srv))

	late := types.Subscription{Symbols: []string{"ZNZ4"}, Schema: types.SchemaOhlcv1M, STypeIn: types.STypeRawSymbol}
	if err := s.Subscribe(t.Context(), late); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case sub := <-got:
		if sub["id"] != "2" || sub["symbols"] != "ZNZ4" || sub["is_last"] != "1" {
			t.Errorf("late subscription = %v", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not receive the late subscription")
	}

	replay := late
	replay.Start = time.Now().Add(-time.Minute)
	if err := s.Subscribe(t.Context(), replay); !errors.Is(err, lserr.ErrBadArgument) {
		t.Errorf("expected ErrBadArgument for start after Start, got %v", err)
	}
}

func TestSession_UsageErrors(t *testing.T) {
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) { c.Hold() }))

	s, err := Connect(t.Context(), testConfig(t, srv))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer iox.DiscardClose(s)

	if _, err := s.NextRecord(t.Context()); !errors.Is(err, lserr.ErrUsage) {
		t.Errorf("NextRecord before Start: expected ErrUsage, got %v", err)
	}
	if err := s.Subscribe(t.Context(), esSub()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.Start(t.Context()); !errors.Is(err, lserr.ErrUsage) {
		t.Errorf("second Start: expected ErrUsage, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := s.NextRecord(t.Context()); !errors.Is(err, lserr.ErrUsage) {
		t.Errorf("NextRecord after Close: expected ErrUsage, got %v", err)
	}
	if err := s.Subscribe(t.Context(), esSub()); !errors.Is(err, lserr.ErrUsage) {
		t.Errorf("Subscribe after Close: expected ErrUsage, got %v", err)
	}
}

func TestSession_CancelledReadKeepsPartialRecord(t *testing.T) {
	raw := trade(t, 42)
	release := make(chan struct{})
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) {
		c.Send(raw[:20])
		<-release
		c.Send(raw[20:])
		c.Hold()
	}))
	s := startSession(t, testConfig(t, srv))

	// deadline expiry
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	_, err := s.NextRecord(ctx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// explicit cancellation
	ctx, cancel = context.WithCancel(t.Context())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err = s.NextRecord(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if s.State() != StateStreaming {
		t.Errorf("State() = %s after cancellation, want streaming", s.State())
	}

	close(release)
	if tr := nextTrade(t, s); tr.Hd.InstrumentID != 42 {
		t.Errorf("InstrumentID = %d, want 42", tr.Hd.InstrumentID)
	}
}

func TestSession_EndOfStream(t *testing.T) {
	tests := []struct {
		name    string
		send    func(t *testing.T, c *gatewaytest.Conn)
		records int
		wantErr error
	}{
		{
			name:    "clean eof",
			send:    func(t *testing.T, c *gatewaytest.Conn) { c.SendRecord(trade(t, 1)) },
			records: 1,
			wantErr: io.EOF,
		},
		{
			name: "eof inside record",
			send: func(t *testing.T, c *gatewaytest.Conn) {
				c.SendRecord(trade(t, 1))
				c.Send(trade(t, 2)[:30])
			},
			records: 1,
			wantErr: lserr.ErrProtocol,
		},
		{
			name: "gateway error",
			send: func(t *testing.T, c *gatewaytest.Conn) {
				c.SendMessage(&dbn.ErrorMsg{Hd: dbn.RecordHeader{RType: dbn.RTypeError}, Err: "subscription limit exceeded", IsLast: 1}, dbn.CurrentVersion)
			},
			records: 1,
			wantErr: lserr.ErrGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) {
				tt.send(t, c)
				c.Close()
			}))
			s := startSession(t, testConfig(t, srv))

			for i := 0; i < tt.records; i++ {
				if _, err := s.NextRecord(t.Context()); err != nil {
					t.Fatalf("record %d: %v", i, err)
				}
			}
			_, err := s.NextRecord(t.Context())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if s.State() != StateClosed {
				t.Errorf("State() = %s, want closed", s.State())
			}
		})
	}
}

func TestSession_GatewayErrorMessageText(t *testing.T) {
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) {
		c.SendMessage(&dbn.ErrorMsg{Hd: dbn.RecordHeader{RType: dbn.RTypeError}, Err: "unknown symbol FOO"}, dbn.CurrentVersion)
		c.Close()
	}))
	s := startSession(t, testConfig(t, srv))

	rec, err := s.NextRecord(t.Context())
	if err != nil {
		t.Fatalf("NextRecord failed: %v", err)
	}
	msg, err := rec.Message()
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if em, ok := msg.(*dbn.ErrorMsg); !ok || em.Err != "unknown symbol FOO" {
		t.Fatalf("got %#v, want error record", msg)
	}
	_, err = s.NextRecord(t.Context())
	var le *lserr.Error
	if !errors.As(err, &le) || le.Msg != "unknown symbol FOO" {
		t.Errorf("expected gateway error carrying the message, got %v", err)
	}
}

func TestSession_HeartbeatCountsAsActivity(t *testing.T) {
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) {
		c.SendMessage(&dbn.SystemMsg{Hd: dbn.RecordHeader{RType: dbn.RTypeSystem}, Msg: "Heartbeat", Code: dbn.SystemCodeHeartbeat}, dbn.CurrentVersion)
		c.Hold()
	}))
	m := metrics.NewCollector(testDataset, "", "")
	cfg := testConfig(t, srv)
	cfg.Metrics = m
	s := startSession(t, cfg)

	before := s.LastActivity()
	rec, err := s.NextRecord(t.Context())
	if err != nil {
		t.Fatalf("NextRecord failed: %v", err)
	}
	if rec.Header.RType != dbn.RTypeSystem {
		t.Errorf("RType = %s, want system", rec.Header.RType)
	}
	if !s.LastActivity().After(before) {
		t.Error("heartbeat did not advance last activity")
	}
	if s.Stale() {
		t.Error("session reported stale right after a heartbeat")
	}
	if got := m.Snapshot().Heartbeats; got != 1 {
		t.Errorf("Heartbeats = %d, want 1", got)
	}
}

func TestSession_UpgradesVersionOneStream(t *testing.T) {
	srv := gatewaytest.NewServer(t, func(c *gatewaytest.Conn) {
		if c.Authenticate(testKey) == nil || c.ExpectSubscribe() == nil || !c.ExpectStart() {
			return
		}
		meta := gatewaytest.Metadata(testDataset)
		meta.Version = 1
		meta.STypeIn = types.STypeRawSymbol
		c.SendMetadata(meta)
		c.SendMessage(&dbn.SystemMsg{Hd: dbn.RecordHeader{RType: dbn.RTypeSystem}, Msg: "Heartbeat"}, 1)
		c.SendRecord(trade(t, 7))
		c.Hold()
	})
	cfg := testConfig(t, srv)
	cfg.UpgradePolicy = dbn.UpgradeToV2
	s := startSession(t, cfg)

	if meta := s.Metadata(); meta.Version != dbn.CurrentVersion {
		t.Errorf("Metadata().Version = %d, want %d", meta.Version, dbn.CurrentVersion)
	}

	rec, err := s.NextRecord(t.Context())
	if err != nil {
		t.Fatalf("NextRecord failed: %v", err)
	}
	if rec.Version != dbn.CurrentVersion || rec.Len() != 320 {
		t.Errorf("upgraded system record: version %d, %d bytes", rec.Version, rec.Len())
	}
	msg, err := rec.Message()
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if sys, ok := msg.(*dbn.SystemMsg); !ok || !sys.IsHeartbeat() {
		t.Errorf("got %#v, want heartbeat", msg)
	}
	if tr := nextTrade(t, s); tr.Hd.InstrumentID != 7 {
		t.Errorf("InstrumentID = %d, want 7", tr.Hd.InstrumentID)
	}
}

func TestSession_ReconnectReplaysSubscriptions(t *testing.T) {
	replayed := make(chan map[string]string, 1)
	srv := gatewaytest.NewServer(t,
		streamScript(func(c *gatewaytest.Conn) {
			c.SendRecord(trade(t, 1))
			c.Close()
		}),
		func(c *gatewaytest.Conn) {
			if c.Authenticate(testKey) == nil {
				return
			}
			replayed <- c.ExpectSubscribe()
			if !c.ExpectStart() || !c.SendMetadata(gatewaytest.Metadata(testDataset)) {
				return
			}
			c.SendRecord(trade(t, 2))
			c.Hold()
		},
	)

	events := &eventLog{}
	m := metrics.NewCollector(testDataset, "", "")
	cfg := testConfig(t, srv)
	cfg.Reconnect = ReconnectPolicy{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	cfg.OnEvent = events.record
	cfg.Metrics = m
	s := startSession(t, cfg)

	if tr := nextTrade(t, s); tr.Hd.InstrumentID != 1 {
		t.Fatalf("first record InstrumentID = %d, want 1", tr.Hd.InstrumentID)
	}
	if tr := nextTrade(t, s); tr.Hd.InstrumentID != 2 {
		t.Fatalf("second record InstrumentID = %d, want 2", tr.Hd.InstrumentID)
	}

	sub := <-replayed
	if sub["id"] != "1" || sub["symbols"] != "ESM4,NQM4" || sub["is_last"] != "1" || sub["schema"] != "trades" {
		t.Errorf("replayed subscription = %v", sub)
	}
	if s.SessionID() != "6" {
		t.Errorf("SessionID() = %q, want 6", s.SessionID())
	}
	if s.State() != StateStreaming {
		t.Errorf("State() = %s, want streaming", s.State())
	}

	got := events.types()
	want := []EventType{EventConnected, EventReconnecting, EventReconnected}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if snap := m.Snapshot(); snap.ReconnectSuccesses != 1 || snap.ChunksSent != 2 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestSession_StaleConnectionReconnects(t *testing.T) {
	srv := gatewaytest.NewServer(t,
		streamScript(func(c *gatewaytest.Conn) { c.Hold() }),
		streamScript(func(c *gatewaytest.Conn) {
			c.SendRecord(trade(t, 9))
			c.Hold()
		}),
	)
	m := metrics.NewCollector(testDataset, "", "")
	cfg := testConfig(t, srv)
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.HeartbeatGrace = 2
	cfg.Reconnect = ReconnectPolicy{MaxAttempts: 2, InitialBackoff: 10 * time.Millisecond}
	cfg.Metrics = m
	s := startSession(t, cfg)

	if tr := nextTrade(t, s); tr.Hd.InstrumentID != 9 {
		t.Errorf("InstrumentID = %d, want 9", tr.Hd.InstrumentID)
	}
	if got := m.Snapshot().StaleDetections; got != 1 {
		t.Errorf("StaleDetections = %d, want 1", got)
	}
	if srv.Accepted() != 2 {
		t.Errorf("Accepted() = %d, want 2", srv.Accepted())
	}
}

func TestSession_SlowConsumerKeepsBufferedRecords(t *testing.T) {
	tests := []struct {
		name      string
		reconnect ReconnectPolicy
	}{
		{"reconnect disabled", ReconnectPolicy{}},
		{"reconnect enabled", ReconnectPolicy{MaxAttempts: 2, InitialBackoff: 5 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) {
				// both trades in a single write
				c.Send(append(trade(t, 1), trade(t, 2)...))
				c.Hold()
			}))
			m := metrics.NewCollector(testDataset, "", "")
			cfg := testConfig(t, srv)
			cfg.HeartbeatInterval = 100 * time.Millisecond
			cfg.HeartbeatGrace = 2
			cfg.Reconnect = tt.reconnect
			cfg.Metrics = m
			s := startSession(t, cfg)

			if tr := nextTrade(t, s); tr.Hd.InstrumentID != 1 {
				t.Fatalf("first InstrumentID = %d, want 1", tr.Hd.InstrumentID)
			}
			// consumer busy for longer than the heartbeat window
			time.Sleep(300 * time.Millisecond)

			if tr := nextTrade(t, s); tr.Hd.InstrumentID != 2 {
				t.Errorf("second InstrumentID = %d, want 2", tr.Hd.InstrumentID)
			}
			if srv.Accepted() != 1 {
				t.Errorf("Accepted() = %d, want 1", srv.Accepted())
			}
			if got := m.Snapshot().StaleDetections; got != 0 {
				t.Errorf("StaleDetections = %d, want 0", got)
			}
		})
	}
}

func TestSession_StaleWithoutReconnect(t *testing.T) {
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) { c.Hold() }))
	cfg := testConfig(t, srv)
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatGrace = 2
	s := startSession(t, cfg)

	_, err := s.NextRecord(t.Context())
	if !errors.Is(err, lserr.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %s, want closed", s.State())
	}
}

func TestSession_ReconnectExhausted(t *testing.T) {
	// only the first connection is scripted; later ones close on accept
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) { c.Close() }))
	m := metrics.NewCollector(testDataset, "", "")
	cfg := testConfig(t, srv)
	cfg.Reconnect = ReconnectPolicy{MaxAttempts: 2, InitialBackoff: 5 * time.Millisecond}
	cfg.Metrics = m
	s := startSession(t, cfg)

	_, err := s.NextRecord(t.Context())
	if !errors.Is(err, lserr.ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	if !errors.Is(err, lserr.ErrTransport) {
		t.Errorf("exhaustion should wrap the last transport failure: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %s, want closed", s.State())
	}
	if !errors.Is(s.Err(), lserr.ErrReconnectExhausted) {
		t.Errorf("Err() = %v", s.Err())
	}
	if srv.Accepted() != 3 {
		t.Errorf("Accepted() = %d, want 3", srv.Accepted())
	}
	if snap := m.Snapshot(); snap.ReconnectAttempts != 2 || snap.ReconnectFailures != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestSession_AuthFailureDuringReconnectIsTerminal(t *testing.T) {
	srv := gatewaytest.NewServer(t,
		streamScript(func(c *gatewaytest.Conn) { c.Close() }),
		func(c *gatewaytest.Conn) { c.Reject("key revoked") },
	)
	cfg := testConfig(t, srv)
	cfg.Reconnect = ReconnectPolicy{MaxAttempts: 5, InitialBackoff: 5 * time.Millisecond}
	s := startSession(t, cfg)

	_, err := s.NextRecord(t.Context())
	if !errors.Is(err, lserr.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if srv.Accepted() != 2 {
		t.Errorf("Accepted() = %d, want 2", srv.Accepted())
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %s, want closed", s.State())
	}
}

func TestConnect_AuthRejected(t *testing.T) {
	srv := gatewaytest.NewServer(t, func(c *gatewaytest.Conn) { c.Reject("Authentication failed.") })
	m := metrics.NewCollector(testDataset, "", "")
	cfg := testConfig(t, srv)
	cfg.Metrics = m

	_, err := Connect(t.Context(), cfg)
	if !errors.Is(err, lserr.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if m.Snapshot().AuthFailures != 1 {
		t.Errorf("AuthFailures = %d, want 1", m.Snapshot().AuthFailures)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	addr := srv.Addr()
	srv.Close()

	cfg := testConfig(t, srv)
	cfg.Resolver = StaticResolver(addr)
	_, err := Connect(t.Context(), cfg)
	if !errors.Is(err, lserr.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestSession_ExplicitReconnectBeforeStart(t *testing.T) {
	srv := gatewaytest.NewServer(t,
		func(c *gatewaytest.Conn) {
			if c.Authenticate(testKey) != nil {
				c.Hold()
			}
		},
		streamScript(func(c *gatewaytest.Conn) {
			c.SendRecord(trade(t, 3))
			c.Hold()
		}),
	)
	s, err := Connect(t.Context(), testConfig(t, srv))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer iox.DiscardClose(s)

	if err := s.Subscribe(t.Context(), esSub()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := s.Reconnect(t.Context()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if s.State() != StateReady || s.SessionID() != "6" {
		t.Fatalf("after Reconnect: state %s, session %q", s.State(), s.SessionID())
	}
	if _, err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if tr := nextTrade(t, s); tr.Hd.InstrumentID != 3 {
		t.Errorf("InstrumentID = %d, want 3", tr.Hd.InstrumentID)
	}
}

func TestSession_ConcurrentNextRecordRejected(t *testing.T) {
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) { c.Hold() }))
	s := startSession(t, testConfig(t, srv))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := s.NextRecord(ctx)
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !s.busy.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first NextRecord never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.NextRecord(t.Context()); !errors.Is(err, lserr.ErrUsage) {
		t.Errorf("expected ErrUsage for concurrent call, got %v", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("first call: expected Canceled, got %v", err)
	}
}

func TestSession_CloseUnblocksNextRecord(t *testing.T) {
	srv := gatewaytest.NewServer(t, streamScript(func(c *gatewaytest.Conn) { c.Hold() }))
	events := &eventLog{}
	cfg := testConfig(t, srv)
	cfg.OnEvent = events.record
	s := startSession(t, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := s.NextRecord(t.Context())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, lserr.ErrUsage) {
			t.Errorf("expected ErrUsage after Close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("NextRecord did not return after Close")
	}

	got := events.types()
	if len(got) == 0 || got[len(got)-1] != EventClosed {
		t.Errorf("events = %v, want trailing closed", got)
	}
}
