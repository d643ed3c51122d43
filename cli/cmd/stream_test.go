package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/justapithecus/livefeed/adapter/redis"
	"github.com/justapithecus/livefeed/auth"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/gatewaytest"
)

const testDataset = "GLBX.MDP3"

func sendTrade(c *gatewaytest.Conn, instrument uint32, price int64) bool {
	return c.SendMessage(&dbn.TradeMsg{
		Hd:    dbn.RecordHeader{RType: dbn.RTypeTrade, PublisherID: 1, InstrumentID: instrument, TsEvent: 1_700_000_000_000_000_000},
		Price: price,
		Size:  2,
	}, dbn.CurrentVersion)
}

// tradeScript streams n trades after the handshake, then runs then.
func tradeScript(n int, then func(c *gatewaytest.Conn)) gatewaytest.Handler {
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
		for i := range n {
			if !sendTrade(c, uint32(1000+i), 5_000_250_000_000) {
				return
			}
		}
		then(c)
	}
}

func sessionArgs(cmd string, srv *gatewaytest.Server, extra ...string) []string {
	args := []string{cmd,
		"--gateway", srv.Addr(),
		"--dataset", testDataset,
		"--symbols", "ESM4",
		"--max-reconnects", "0",
		"-q",
	}
	return append(args, extra...)
}

func jsonLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("output line is not JSON: %q: %v", line, err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestStream_PrintsRecordsUntilGatewayCloses(t *testing.T) {
	t.Setenv(auth.EnvKey, testKey)
	srv := gatewaytest.NewServer(t, tradeScript(3, func(c *gatewaytest.Conn) {
		c.SendMessage(&dbn.SystemMsg{
			Hd:   dbn.RecordHeader{RType: dbn.RTypeSystem, TsEvent: 1_700_000_001_000_000_000},
			Msg:  "Heartbeat",
			Code: dbn.SystemCodeHeartbeat,
		}, dbn.CurrentVersion)
		c.Close()
	}))

	stdout, _, err := runApp(t, sessionArgs("stream", srv, "--format", "json")...)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	lines := jsonLines(t, stdout)
	if len(lines) != 3 {
		t.Fatalf("got %d records, want 3 (heartbeats are not printed):\n%s", len(lines), stdout)
	}
	for i, l := range lines {
		if l["rtype"] != "trade" {
			t.Errorf("line %d rtype = %v, want trade", i, l["rtype"])
		}
		if l["instrument_id"] != float64(1000+i) {
			t.Errorf("line %d instrument_id = %v", i, l["instrument_id"])
		}
	}
}

func TestStream_Limit(t *testing.T) {
	t.Setenv(auth.EnvKey, testKey)
	srv := gatewaytest.NewServer(t, tradeScript(5, func(c *gatewaytest.Conn) { c.Hold() }))

	stdout, _, err := runApp(t, sessionArgs("stream", srv, "--format", "json", "--limit", "2")...)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if n := len(jsonLines(t, stdout)); n != 2 {
		t.Errorf("got %d records, want 2", n)
	}
}

func TestStream_AuthRejected(t *testing.T) {
	t.Setenv(auth.EnvKey, testKey)
	srv := gatewaytest.NewServer(t, func(c *gatewaytest.Conn) { c.Reject("Authentication failed.") })

	_, _, err := runApp(t, sessionArgs("stream", srv)...)
	if code := exitCodeOf(err); code != exitAuth {
		t.Errorf("exit code = %d, want %d (err: %v)", code, exitAuth, err)
	}
}

func TestStream_ConnectionRefused(t *testing.T) {
	t.Setenv(auth.EnvKey, testKey)
	srv := gatewaytest.NewServer(t)
	addr := srv.Addr()
	srv.Close()

	_, _, err := runApp(t, "stream", "--gateway", addr, "--dataset", testDataset, "--symbols", "ESM4", "--max-reconnects", "0", "-q")
	if code := exitCodeOf(err); code != exitConnection {
		t.Errorf("exit code = %d, want %d (err: %v)", code, exitConnection, err)
	}
}

// asyncReceive drains n messages off the subscriber on its own goroutine.
func asyncReceive(sub *miniredis.Subscriber, n int) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, n)
	go func() {
		for range n {
			ch <- <-sub.Messages()
		}
	}()
	return ch
}

func TestStream_PublishesToRedis(t *testing.T) {
	t.Setenv(auth.EnvKey, testKey)
	mr := miniredis.RunT(t)

	events := mr.NewSubscriber()
	defer events.Close()
	events.Subscribe(redis.DefaultChannel)
	eventCh := asyncReceive(events, 2)

	records := mr.NewSubscriber()
	defer records.Close()
	records.Subscribe(redis.DefaultRecordChannelPrefix + strings.ToLower(testDataset))
	recordCh := asyncReceive(records, 1)

	srv := gatewaytest.NewServer(t, tradeScript(2, func(c *gatewaytest.Conn) { c.Close() }))

	_, _, err := runApp(t, sessionArgs("stream", srv,
		"--publish", "redis",
		"--publish-url", "redis://"+mr.Addr(),
		"--publish-records",
	)...)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var got []string
	for range 2 {
		select {
		case msg := <-eventCh:
			var ev map[string]any
			if err := json.Unmarshal([]byte(msg.Message), &ev); err != nil {
				t.Fatalf("event is not JSON: %v", err)
			}
			if ev["dataset"] != testDataset {
				t.Errorf("event dataset = %v", ev["dataset"])
			}
			got = append(got, ev["event_type"].(string))
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for session events, got %v", got)
		}
	}
	if got[0] != "connected" || got[1] != "closed" {
		t.Errorf("event types = %v, want [connected closed]", got)
	}

	select {
	case msg := <-recordCh:
		if msg.Message == "" {
			t.Error("empty record batch")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for record batch")
	}
}
