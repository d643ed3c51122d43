// Package config handles livefeed.yaml loading for the livefeed CLI.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/subscription"
	"github.com/justapithecus/livefeed/types"
)

// Config represents a livefeed.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	// Key is the API key, normally "${DATABENTO_API_KEY}".
	Key           string               `yaml:"key"`
	Gateway       GatewayConfig        `yaml:"gateway"`
	Session       SessionConfig        `yaml:"session"`
	Subscriptions []types.Subscription `yaml:"subscriptions"`
	Storage       StorageConfig        `yaml:"storage"`
	Policy        PolicyConfig         `yaml:"policy"`
	Publish       PublishConfig        `yaml:"publish"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	// LogLevel is debug, info (default), warn or error.
	LogLevel string `yaml:"log_level,omitempty"`

	// UnsetVars lists ${VAR} references that expanded to nothing.
	UnsetVars []string `yaml:"-"`
}

// GatewayConfig overrides gateway discovery.
type GatewayConfig struct {
	// Address is an explicit host:port. Empty derives it from the dataset.
	Address string `yaml:"address"`
	// Addresses is a failover pool; reconnects move through it.
	Addresses []string `yaml:"addresses,omitempty"`
	// Strategy orders the pool: round_robin (default) or random.
	Strategy    string   `yaml:"strategy,omitempty"`
	DialTimeout Duration `yaml:"dial_timeout"`
}

// SessionConfig holds live session defaults.
type SessionConfig struct {
	Dataset           string              `yaml:"dataset"`
	Client            string              `yaml:"client"`
	HeartbeatInterval Duration            `yaml:"heartbeat_interval"`
	HeartbeatGrace    float64             `yaml:"heartbeat_grace"`
	BufferSize        int                 `yaml:"buffer_size"`
	MaxBufferSize     int                 `yaml:"max_buffer_size"`
	UpgradePolicy     string              `yaml:"upgrade_policy"`
	TsOut             bool                `yaml:"ts_out"`
	ChunkLimits       subscription.Limits `yaml:"chunk_limits"`
	Reconnect         ReconnectConfig     `yaml:"reconnect"`
}

// ReconnectConfig holds reconnect policy overrides.
// A nil MaxAttempts keeps the CLI default; zero disables reconnection.
type ReconnectConfig struct {
	MaxAttempts    *int     `yaml:"max_attempts,omitempty"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
}

// StorageConfig holds capture storage defaults.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"` // fs or s3
	Path        string `yaml:"path"`    // directory, or bucket/prefix for s3
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PolicyConfig holds capture policy defaults.
type PolicyConfig struct {
	Name          string   `yaml:"name"` // strict, buffered, streaming, or noop
	FlushMode     string   `yaml:"flush_mode"`
	BufferRecords int      `yaml:"buffer_records"`
	BufferBytes   int64    `yaml:"buffer_bytes"`
	FlushCount    int      `yaml:"flush_count"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// PublishConfig holds publisher defaults.
type PublishConfig struct {
	Type    string            `yaml:"type"` // redis or webhook
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// Secret signs webhook bodies (webhook only).
	Secret  string   `yaml:"secret,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
	// Records also fans out every record (redis only).
	Records             bool   `yaml:"records,omitempty"`
	RecordChannelPrefix string `yaml:"record_channel_prefix,omitempty"`
	// Stream also appends events to this Redis stream key (redis only).
	Stream string `yaml:"stream,omitempty"`
}

// MetricsConfig holds the Prometheus exporter address.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", s)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

// Validate checks enumerated values and subscriptions. Secrets and
// addresses are checked when the session is built.
func (c *Config) Validate() error {
	var errs []error

	if _, err := dbn.ParseUpgradePolicy(c.Session.UpgradePolicy); err != nil {
		errs = append(errs, fmt.Errorf("session.upgrade_policy: %w", err))
	}
	if c.Gateway.Address != "" && len(c.Gateway.Addresses) > 0 {
		errs = append(errs, errors.New("gateway: set address or addresses, not both"))
	}
	if _, err := live.ParsePoolStrategy(c.Gateway.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("gateway.strategy: %w", err))
	}
	if c.Session.HeartbeatGrace < 0 {
		errs = append(errs, errors.New("session.heartbeat_grace: must not be negative"))
	}
	if r := c.Session.Reconnect.MaxAttempts; r != nil && *r < 0 {
		errs = append(errs, errors.New("session.reconnect.max_attempts: must not be negative"))
	}
	for i, sub := range c.Subscriptions {
		if err := sub.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: %w", i, err))
		}
	}

	switch c.Storage.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q (want fs or s3)", c.Storage.Backend))
	}
	switch c.Policy.Name {
	case "", "strict", "buffered", "streaming", "noop":
	default:
		errs = append(errs, fmt.Errorf("policy.name: unknown policy %q", c.Policy.Name))
	}
	switch c.Publish.Type {
	case "", "redis", "webhook":
	default:
		errs = append(errs, fmt.Errorf("publish.type: unknown publisher %q (want redis or webhook)", c.Publish.Type))
	}
	if c.Publish.Records && c.Publish.Type != "redis" {
		errs = append(errs, errors.New("publish.records: record fan-out requires the redis publisher"))
	}
	if c.Publish.Stream != "" && c.Publish.Type != "redis" {
		errs = append(errs, errors.New("publish.stream: event streams require the redis publisher"))
	}

	return errors.Join(errs...)
}
