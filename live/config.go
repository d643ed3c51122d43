package live

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/justapithecus/livefeed/auth"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/heartbeat"
	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/lserr"
	"github.com/justapithecus/livefeed/metrics"
	"github.com/justapithecus/livefeed/subscription"
	"github.com/justapithecus/livefeed/types"
)

// Gateway address constants.
const (
	// GatewayDomain is appended to the dataset-derived host name.
	GatewayDomain = "lsg.databento.com"
	// GatewayPort is the live gateway's TCP port.
	GatewayPort = 13000
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 10 * time.Second
)

// Dialer opens gateway connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver produces the gateway address. It is consulted on every
// connection attempt, reconnections included.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always resolves to the same address.
type StaticResolver string

// Resolve implements Resolver.
func (r StaticResolver) Resolve(_ context.Context) (string, error) {
	if r == "" {
		return "", lserr.BadArgument("address", "is empty")
	}
	return string(r), nil
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context) (string, error) {
	return f(ctx)
}

// DatasetResolver derives the gateway address from a dataset code.
type DatasetResolver struct {
	Dataset string
}

// Resolve implements Resolver.
func (r DatasetResolver) Resolve(_ context.Context) (string, error) {
	if r.Dataset == "" {
		return "", lserr.BadArgument("dataset", "is empty")
	}
	return GatewayAddress(r.Dataset), nil
}

// GatewayAddress returns the gateway address for dataset, e.g.
// GLBX.MDP3 resolves to glbx-mdp3.lsg.databento.com:13000.
func GatewayAddress(dataset string) string {
	host := strings.ReplaceAll(strings.ToLower(dataset), ".", "-")
	return net.JoinHostPort(host+"."+GatewayDomain, fmt.Sprint(GatewayPort))
}

// Config configures a Session.
type Config struct {
	// Key authenticates the session.
	Key auth.APIKey
	// Dataset is the dataset code to stream.
	Dataset string
	// Resolver produces the gateway address. Defaults to DatasetResolver.
	Resolver Resolver
	// Dialer opens connections. Defaults to a net.Dialer with DefaultDialTimeout.
	Dialer Dialer

	// HeartbeatInterval is requested from the gateway when at least one
	// second, and drives stale detection. Defaults to 30s.
	HeartbeatInterval time.Duration
	// HeartbeatGrace multiplies the interval before a silent connection is stale.
	HeartbeatGrace float64

	// BufferSize is the initial frame buffer capacity.
	BufferSize int
	// MaxBufferSize bounds frame buffer growth.
	MaxBufferSize int
	// UpgradePolicy controls version reconciliation of older records.
	UpgradePolicy dbn.UpgradePolicy
	// TsOut requests a gateway send timestamp on every record.
	TsOut bool
	// ChunkLimits bounds subscription request lines.
	ChunkLimits subscription.Limits
	// Reconnect bounds automatic recovery. The zero value disables it.
	Reconnect ReconnectPolicy
	// Client identifies this client to the gateway. Defaults to types.ClientID().
	Client string

	// Logger receives session logs. Nil discards them.
	Logger *log.Logger
	// Metrics receives session counters. Nil disables them.
	Metrics *metrics.Collector
	// OnEvent receives lifecycle events synchronously. Optional.
	OnEvent func(Event)
}

// withDefaults returns a copy of c with defaults applied.
func (c Config) withDefaults() Config {
	if c.Resolver == nil {
		c.Resolver = DatasetResolver{Dataset: c.Dataset}
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{Timeout: DefaultDialTimeout}
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if c.HeartbeatGrace <= 0 {
		c.HeartbeatGrace = heartbeat.DefaultGrace
	}
	if c.BufferSize <= 0 {
		c.BufferSize = dbn.DefaultBufferSize
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = dbn.MaxBufferSize
	}
	if c.Client == "" {
		c.Client = types.ClientID()
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Key.IsZero() {
		return lserr.BadArgument("key", "is required")
	}
	if c.Dataset == "" {
		return lserr.BadArgument("dataset", "is required")
	}
	if strings.ContainsAny(c.Dataset, "|\n") || strings.ContainsAny(c.Client, "|\n") {
		return lserr.BadArgument("dataset", "contains a reserved character")
	}
	if c.HeartbeatInterval < 0 {
		return lserr.BadArgument("heartbeat_interval", "must not be negative")
	}
	if c.BufferSize > 0 && c.MaxBufferSize > 0 && c.BufferSize > c.MaxBufferSize {
		return lserr.BadArgument("buffer_size", fmt.Sprintf("%d exceeds max_buffer_size %d", c.BufferSize, c.MaxBufferSize))
	}
	if c.UpgradePolicy != dbn.AsIs && c.UpgradePolicy != dbn.UpgradeToV2 {
		return lserr.BadArgument("upgrade_policy", c.UpgradePolicy.String())
	}
	return c.Reconnect.Validate()
}
