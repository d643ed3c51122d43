package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/livefeed/types"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `key: 32-character-with-lots-of-chars-

gateway:
  address: 127.0.0.1:13000
  dial_timeout: 5s

session:
  dataset: GLBX.MDP3
  client: desk-7
  heartbeat_interval: 15s
  heartbeat_grace: 3
  buffer_size: 65536
  max_buffer_size: 1048576
  upgrade_policy: as_is
  ts_out: true
  chunk_limits:
    max_symbols: 100
    max_bytes: 4096
  reconnect:
    max_attempts: 5
    initial_backoff: 250ms
    max_backoff: 10s

subscriptions:
  - symbols: [ESM4, NQM4]
    schema: trades
    stype_in: raw_symbol
  - symbols: [ES.FUT]
    schema: mbp-1
    stype_in: parent
    start: 2024-06-03T13:30:00Z

storage:
  dataset: livefeed
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

policy:
  name: buffered
  flush_mode: at_least_once
  buffer_records: 1000
  buffer_bytes: 10485760

publish:
  type: webhook
  url: https://hooks.example.com/livefeed
  headers:
    Authorization: Bearer token123
  secret: whsec-123
  timeout: 10s
  retries: 3

metrics:
  addr: :9102
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "key", cfg.Key, "32-character-with-lots-of-chars-")

	// Gateway
	assertEqual(t, "gateway.address", cfg.Gateway.Address, "127.0.0.1:13000")
	if cfg.Gateway.DialTimeout.Duration != 5*time.Second {
		t.Errorf("expected dial_timeout=5s, got %v", cfg.Gateway.DialTimeout.Duration)
	}

	// Session
	s := cfg.Session
	assertEqual(t, "session.dataset", s.Dataset, "GLBX.MDP3")
	assertEqual(t, "session.client", s.Client, "desk-7")
	assertEqual(t, "session.upgrade_policy", s.UpgradePolicy, "as_is")
	if s.HeartbeatInterval.Duration != 15*time.Second {
		t.Errorf("expected heartbeat_interval=15s, got %v", s.HeartbeatInterval.Duration)
	}
	if s.HeartbeatGrace != 3 {
		t.Errorf("expected heartbeat_grace=3, got %v", s.HeartbeatGrace)
	}
	if s.BufferSize != 65536 || s.MaxBufferSize != 1048576 {
		t.Errorf("buffer sizes = %d/%d", s.BufferSize, s.MaxBufferSize)
	}
	if !s.TsOut {
		t.Error("expected session.ts_out=true")
	}
	if s.ChunkLimits.MaxSymbols != 100 || s.ChunkLimits.MaxBytes != 4096 {
		t.Errorf("chunk_limits = %+v", s.ChunkLimits)
	}
	if s.Reconnect.MaxAttempts == nil || *s.Reconnect.MaxAttempts != 5 {
		t.Errorf("expected reconnect.max_attempts=5, got %v", s.Reconnect.MaxAttempts)
	}
	if s.Reconnect.InitialBackoff.Duration != 250*time.Millisecond || s.Reconnect.MaxBackoff.Duration != 10*time.Second {
		t.Errorf("reconnect backoff = %v/%v", s.Reconnect.InitialBackoff.Duration, s.Reconnect.MaxBackoff.Duration)
	}

	// Subscriptions
	if len(cfg.Subscriptions) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(cfg.Subscriptions))
	}
	first := cfg.Subscriptions[0]
	if first.Schema != types.SchemaTrades || first.STypeIn != types.STypeRawSymbol {
		t.Errorf("subscriptions[0] = %+v", first)
	}
	if strings.Join(first.Symbols, ",") != "ESM4,NQM4" {
		t.Errorf("subscriptions[0].symbols = %v", first.Symbols)
	}
	wantStart := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	if !cfg.Subscriptions[1].Start.Equal(wantStart) {
		t.Errorf("subscriptions[1].start = %v, want %v", cfg.Subscriptions[1].Start, wantStart)
	}

	// Storage
	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/prefix")
	assertEqual(t, "storage.region", cfg.Storage.Region, "us-east-1")
	assertEqual(t, "storage.endpoint", cfg.Storage.Endpoint, "https://example.com")
	if !cfg.Storage.S3PathStyle {
		t.Error("expected storage.s3_path_style=true")
	}

	// Policy
	assertEqual(t, "policy.name", cfg.Policy.Name, "buffered")
	assertEqual(t, "policy.flush_mode", cfg.Policy.FlushMode, "at_least_once")
	if cfg.Policy.BufferRecords != 1000 {
		t.Errorf("expected buffer_records=1000, got %d", cfg.Policy.BufferRecords)
	}
	if cfg.Policy.BufferBytes != 10485760 {
		t.Errorf("expected buffer_bytes=10485760, got %d", cfg.Policy.BufferBytes)
	}

	// Publish
	assertEqual(t, "publish.type", cfg.Publish.Type, "webhook")
	assertEqual(t, "publish.url", cfg.Publish.URL, "https://hooks.example.com/livefeed")
	assertEqual(t, "publish.headers", cfg.Publish.Headers["Authorization"], "Bearer token123")
	assertEqual(t, "publish.secret", cfg.Publish.Secret, "whsec-123")
	if cfg.Publish.Timeout.Duration != 10*time.Second {
		t.Errorf("expected timeout=10s, got %v", cfg.Publish.Timeout.Duration)
	}
	if cfg.Publish.Retries == nil || *cfg.Publish.Retries != 3 {
		t.Errorf("expected retries=3, got %v", cfg.Publish.Retries)
	}

	assertEqual(t, "metrics.addr", cfg.Metrics.Addr, ":9102")
	if len(cfg.UnsetVars) != 0 {
		t.Errorf("expected no unset vars, got %v", cfg.UnsetVars)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.Dataset != "" || len(cfg.Subscriptions) != 0 {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/livefeed.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected 'not found' error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "session: [\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("LIVEFEED_TEST_KEY", "32-character-with-lots-of-chars-")
	t.Setenv("LIVEFEED_TEST_DATASET", "XNAS.ITCH")

	path := writeTemp(t, "key: ${LIVEFEED_TEST_KEY}\nsession:\n  dataset: ${LIVEFEED_TEST_DATASET}\n  client: ${LIVEFEED_TEST_CLIENT:-fallback}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "key", cfg.Key, "32-character-with-lots-of-chars-")
	assertEqual(t, "session.dataset", cfg.Session.Dataset, "XNAS.ITCH")
	assertEqual(t, "session.client", cfg.Session.Client, "fallback")
}

func TestLoad_UnsetVarsReported(t *testing.T) {
	path := writeTemp(t, "key: ${LIVEFEED_UNSET_KEY_98765}\nsession:\n  dataset: GLBX.MDP3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.UnsetVars) != 1 || cfg.UnsetVars[0] != "LIVEFEED_UNSET_KEY_98765" {
		t.Errorf("UnsetVars = %v", cfg.UnsetVars)
	}
	assertEqual(t, "key", cfg.Key, "")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTemp(t, "sesion:\n  dataset: GLBX.MDP3\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
	if !strings.Contains(err.Error(), "sesion") {
		t.Errorf("error should name the unknown key, got %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	path := writeTemp(t, "session:\n  heartbeat: 10s\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown nested key")
	}
}

func TestLoad_WhitespaceOnlyConfig(t *testing.T) {
	path := writeTemp(t, "   \n\n  \n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoad_CommentsOnlyConfig(t *testing.T) {
	path := writeTemp(t, "# session:\n#   dataset: GLBX.MDP3\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoad_ReconnectZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "session:\n  reconnect:\n    max_attempts: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.Reconnect.MaxAttempts == nil || *cfg.Session.Reconnect.MaxAttempts != 0 {
		t.Errorf("expected explicit max_attempts=0, got %v", cfg.Session.Reconnect.MaxAttempts)
	}

	cfg, err = Load(writeTemp(t, "session:\n  dataset: GLBX.MDP3\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.Reconnect.MaxAttempts != nil {
		t.Errorf("expected nil max_attempts when omitted, got %d", *cfg.Session.Reconnect.MaxAttempts)
	}
}

func TestLoad_RetriesOmittedIsNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "publish:\n  type: webhook\n  url: https://example.com\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Publish.Retries != nil {
		t.Errorf("expected nil retries, got %d", *cfg.Publish.Retries)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad upgrade policy", "session:\n  upgrade_policy: v9\n", "upgrade_policy"},
		{"negative grace", "session:\n  heartbeat_grace: -1\n", "heartbeat_grace"},
		{"negative attempts", "session:\n  reconnect:\n    max_attempts: -2\n", "max_attempts"},
		{"unknown backend", "storage:\n  backend: gcs\n", "storage.backend"},
		{"unknown policy", "policy:\n  name: lossy\n", "policy.name"},
		{"unknown publisher", "publish:\n  type: kafka\n", "publish.type"},
		{"address and pool", "gateway:\n  address: a:1\n  addresses: [b:1]\n", "gateway"},
		{"unknown pool strategy", "gateway:\n  addresses: [b:1]\n  strategy: sticky\n", "gateway.strategy"},
		{"record fan-out without redis", "publish:\n  type: webhook\n  records: true\n", "publish.records"},
		{"event stream without redis", "publish:\n  type: webhook\n  stream: lf:events\n", "publish.stream"},
		{"empty symbols", "subscriptions:\n  - symbols: []\n    schema: trades\n    stype_in: raw_symbol\n", "subscriptions[0]"},
		{"unknown schema", "subscriptions:\n  - symbols: [ESM4]\n    schema: ticks\n    stype_in: raw_symbol\n", "subscriptions[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_GatewayPool(t *testing.T) {
	cfg, err := Load(writeTemp(t, "gateway:\n  addresses: [a.example:13000, b.example:13000]\n  strategy: random\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Gateway.Addresses) != 2 || cfg.Gateway.Addresses[1] != "b.example:13000" {
		t.Errorf("gateway.addresses = %v", cfg.Gateway.Addresses)
	}
	assertEqual(t, "gateway.strategy", cfg.Gateway.Strategy, "random")
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "publish:\n  timeout: soon\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected 'invalid duration' error, got %v", err)
	}
}

func TestDuration_NegativeRejected(t *testing.T) {
	if _, err := Load(writeTemp(t, "gateway:\n  dial_timeout: -5s\n")); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	cfg, err := Load(writeTemp(t, "publish:\n  timeout: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Publish.Timeout.Duration != 0 {
		t.Errorf("expected zero duration, got %v", cfg.Publish.Timeout.Duration)
	}
}

func TestLoad_RedisRecordFanOut(t *testing.T) {
	yaml := `publish:
  type: redis
  url: redis://localhost:6379/0
  channel: livefeed:session_events
  records: true
  record_channel_prefix: "md:"
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "publish.channel", cfg.Publish.Channel, "livefeed:session_events")
	assertEqual(t, "publish.record_channel_prefix", cfg.Publish.RecordChannelPrefix, "md:")
	if !cfg.Publish.Records {
		t.Error("expected publish.records=true")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultPath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
