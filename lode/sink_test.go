package lode

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/metrics"
)

// memClient keeps batches in memory and fails writes while err is set.
type memClient struct {
	mu      sync.Mutex
	records [][]adapter.RecordEnvelope
	events  [][]*adapter.SessionEvent
	err     error
	closed  bool
}

func (c *memClient) WriteRecords(_ context.Context, records []adapter.RecordEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, records)
	return nil
}

func (c *memClient) WriteEvents(_ context.Context, events []*adapter.SessionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, events)
	return nil
}

func (c *memClient) Close() error {
	c.closed = true
	return nil
}

func TestSink_CountsWrites(t *testing.T) {
	client := &memClient{}
	collector := metrics.NewCollector("GLBX.MDP3", "", "fs")
	sink := NewSink(testConfig(), client, collector)

	batch := []adapter.RecordEnvelope{envelope("mbo", 1, nil)}
	if err := sink.WriteRecords(t.Context(), batch); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
	if err := sink.WriteEvents(t.Context(), []*adapter.SessionEvent{{EventType: "closed"}}); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}

	writeErr := errors.New("bucket gone")
	client.err = writeErr
	if err := sink.WriteRecords(t.Context(), batch); !errors.Is(err, writeErr) {
		t.Fatalf("WriteRecords error = %v, want %v", err, writeErr)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(client.records) != 1 || len(client.events) != 1 || !client.closed {
		t.Errorf("client saw %d record and %d event batches, closed=%v", len(client.records), len(client.events), client.closed)
	}
	s := collector.Snapshot()
	if s.LodeWriteSuccess != 2 || s.LodeWriteFailure != 1 {
		t.Errorf("success/failure = %d/%d, want 2/1", s.LodeWriteSuccess, s.LodeWriteFailure)
	}
	if sink.Config().RunID != "run-42" {
		t.Errorf("Config().RunID = %q", sink.Config().RunID)
	}
}

func TestSink_NilCollector(t *testing.T) {
	sink := NewSink(testConfig(), &memClient{}, nil)
	if err := sink.WriteRecords(t.Context(), nil); err != nil {
		t.Errorf("WriteRecords with nil collector: %v", err)
	}
}

func TestDeriveDay(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	got := DeriveDay(time.Date(2024, 6, 3, 22, 0, 0, 0, est))
	if got != "2024-06-04" {
		t.Errorf("DeriveDay = %q, want 2024-06-04 (UTC)", got)
	}
}

func TestNewRunID_Unique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == "" || a == b {
		t.Errorf("NewRunID returned %q and %q", a, b)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"captures", "captures", ""},
		{"captures/glbx", "captures", "glbx"},
		{"captures/glbx/trades", "captures", "glbx/trades"},
		{"s3://captures/glbx/", "captures", "glbx"},
		{"captures//glbx", "captures", "glbx"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q; want %q, %q", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	tests := []struct {
		bucket  string
		wantErr bool
	}{
		{"market-captures", false},
		{"md.captures.2024", false},
		{"", true},
		{"ab", true},
		{strings.Repeat("a", 64), true},
		{"Market-Captures", true},
		{"-captures", true},
		{"captures.", true},
		{"cap_tures", true},
	}
	for _, tt := range tests {
		cfg := S3Config{Bucket: tt.bucket}
		if err := cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) error = %v, wantErr %v", tt.bucket, err, tt.wantErr)
		}
	}
}

func TestS3Config_ClientOptions(t *testing.T) {
	if opts := (S3Config{Bucket: "captures"}).clientOptions(); opts != nil {
		t.Errorf("plain AWS config produced %d options", len(opts))
	}

	opts := S3Config{Bucket: "captures", Endpoint: "http://localhost:9000", UsePathStyle: true}.clientOptions()
	var o s3.Options
	for _, fn := range opts {
		fn(&o)
	}
	if o.BaseEndpoint == nil || *o.BaseEndpoint != "http://localhost:9000" {
		t.Errorf("BaseEndpoint = %v", o.BaseEndpoint)
	}
	if !o.UsePathStyle {
		t.Error("UsePathStyle not applied")
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "datasets/livefeed/partitions/source=GLBX.MDP3/schema=trades/day=2024-06-03/run_id=run-1/kind=trade/data.jsonl"
	tests := []struct {
		key, value string
		want       bool
	}{
		{"run_id", "run-1", true},
		{"run_id", "run-10", false},
		{"kind", "trade", true},
		{"kind", "tra", false},
		{"source", "GLBX.MDP3", true},
	}
	for _, tt := range tests {
		if got := matchesPartitionValue(path, tt.key, tt.value); got != tt.want {
			t.Errorf("matchesPartitionValue(%s=%s) = %v, want %v", tt.key, tt.value, got, tt.want)
		}
	}
}

func TestLocation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		loc     Location
		wantErr bool
	}{
		{"fs", Location{Backend: BackendFS, Path: "/var/lib/livefeed"}, false},
		{"s3", Location{Backend: BackendS3, Path: "s3://market-captures/glbx"}, false},
		{"missing path", Location{Backend: BackendFS}, true},
		{"bad bucket", Location{Backend: BackendS3, Path: "Market_Captures"}, true},
		{"unknown backend", Location{Backend: "gcs", Path: "bucket"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenDataset_InvalidLocation(t *testing.T) {
	_, err := OpenDataset(t.Context(), DefaultDataset, Location{Backend: "gcs", Path: "bucket"})
	if err == nil || !strings.Contains(err.Error(), "gcs") {
		t.Errorf("OpenDataset error = %v, want unknown backend", err)
	}
}
