package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/auth"
	"github.com/justapithecus/livefeed/cli/config"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/metrics"
	"github.com/justapithecus/livefeed/types"
)

// sessionPlan is everything needed to open a session, resolved from
// flags and config before any connection is made.
type sessionPlan struct {
	live        live.Config
	subs        []types.Subscription
	limit       int
	metricsAddr string
	publish     config.PublishConfig
	quiet       bool
	logLevel    log.Level
}

// planSession resolves flags over cfg. Logger, Metrics and OnEvent are
// left for the caller.
func planSession(c *cli.Context, cfg *config.Config) (*sessionPlan, error) {
	key, err := resolveKey(cfg)
	if err != nil {
		return nil, usageErr("%v", err)
	}

	session := configVal(cfg, func(c *config.Config) config.SessionConfig { return c.Session })
	dataset := resolveString(c, "dataset", session.Dataset)
	if dataset == "" {
		return nil, usageErr("--dataset is required (or set session.dataset in config)")
	}

	upgrade, err := dbn.ParseUpgradePolicy(resolveString(c, "upgrade-policy", session.UpgradePolicy))
	if err != nil {
		return nil, usageErr("invalid --upgrade-policy: %v", err)
	}

	reconnect := live.DefaultReconnectPolicy()
	if session.Reconnect.MaxAttempts != nil {
		reconnect.MaxAttempts = *session.Reconnect.MaxAttempts
	}
	if c.IsSet("max-reconnects") {
		if c.Int("max-reconnects") < 0 {
			return nil, usageErr("--max-reconnects must be >= 0")
		}
		reconnect.MaxAttempts = c.Int("max-reconnects")
	}
	if d := session.Reconnect.InitialBackoff.Duration; d > 0 {
		reconnect.InitialBackoff = d
	}
	if d := session.Reconnect.MaxBackoff.Duration; d > 0 {
		reconnect.MaxBackoff = d
	}

	lcfg := live.Config{
		Key:               key,
		Dataset:           dataset,
		HeartbeatInterval: resolveDuration(c, "heartbeat-interval", session.HeartbeatInterval.Duration),
		HeartbeatGrace:    session.HeartbeatGrace,
		BufferSize:        session.BufferSize,
		MaxBufferSize:     session.MaxBufferSize,
		UpgradePolicy:     upgrade,
		TsOut:             resolveBool(c, "ts-out", session.TsOut),
		ChunkLimits:       session.ChunkLimits,
		Reconnect:         reconnect,
		Client:            resolveString(c, "client", session.Client),
	}

	gateway := configVal(cfg, func(c *config.Config) config.GatewayConfig { return c.Gateway })
	switch {
	case c.IsSet("gateway") || len(gateway.Addresses) == 0:
		if addr := resolveString(c, "gateway", gateway.Address); addr != "" {
			lcfg.Resolver = live.StaticResolver(addr)
		}
	default:
		strategy, err := live.ParsePoolStrategy(gateway.Strategy)
		if err != nil {
			return nil, usageErr("invalid gateway.strategy: %v", err)
		}
		pool, err := live.NewPoolResolver(gateway.Addresses, strategy)
		if err != nil {
			return nil, usageErr("invalid gateway.addresses: %v", err)
		}
		lcfg.Resolver = pool
	}
	if d := gateway.DialTimeout.Duration; d > 0 {
		lcfg.Dialer = &net.Dialer{Timeout: d}
	}
	if err := lcfg.Validate(); err != nil {
		return nil, usageErr("invalid session config: %v", err)
	}

	subs, err := resolveSubscriptions(c, cfg)
	if err != nil {
		return nil, err
	}

	publish := configVal(cfg, func(c *config.Config) config.PublishConfig { return c.Publish })
	publish.Type = resolveString(c, "publish", publish.Type)
	publish.URL = resolveString(c, "publish-url", publish.URL)
	publish.Records = resolveBool(c, "publish-records", publish.Records)
	if publish.Type != "" && publish.URL == "" {
		return nil, usageErr("--publish-url is required when --publish=%s", publish.Type)
	}

	level, err := log.ParseLevel(resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel })))
	if err != nil {
		return nil, usageErr("invalid --log-level: %v", err)
	}

	limit := c.Int("limit")
	if limit < 0 {
		return nil, usageErr("--limit must be >= 0")
	}

	return &sessionPlan{
		live:        lcfg,
		subs:        subs,
		limit:       limit,
		metricsAddr: resolveString(c, "metrics-addr", configVal(cfg, func(c *config.Config) string { return c.Metrics.Addr })),
		publish:     publish,
		quiet:       c.Bool("quiet"),
		logLevel:    level,
	}, nil
}

// resolveKey prefers the config key, then DATABENTO_API_KEY.
func resolveKey(cfg *config.Config) (auth.APIKey, error) {
	if s := configVal(cfg, func(c *config.Config) string { return c.Key }); s != "" {
		return auth.ParseKey(s)
	}
	return auth.KeyFromEnv()
}

// resolveSubscriptions builds one subscription from --symbols, or uses the
// config list when no symbols are given on the command line.
func resolveSubscriptions(c *cli.Context, cfg *config.Config) ([]types.Subscription, error) {
	var symbols []string
	for _, s := range c.StringSlice("symbols") {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				symbols = append(symbols, part)
			}
		}
	}

	if len(symbols) == 0 {
		subs := configVal(cfg, func(c *config.Config) []types.Subscription { return c.Subscriptions })
		if len(subs) == 0 {
			return nil, usageErr("--symbols is required (or list subscriptions in config)")
		}
		return subs, nil
	}

	schema, err := types.ParseSchema(c.String("schema"))
	if err != nil {
		return nil, usageErr("invalid --schema: %v", err)
	}
	stype, err := types.ParseSType(c.String("stype-in"))
	if err != nil {
		return nil, usageErr("invalid --stype-in: %v", err)
	}
	sub := types.Subscription{
		Symbols:  symbols,
		Schema:   schema,
		STypeIn:  stype,
		Snapshot: c.Bool("snapshot"),
	}
	if ts := c.Timestamp("start"); ts != nil {
		sub.Start = ts.UTC()
	}
	if err := sub.Validate(); err != nil {
		return nil, usageErr("invalid subscription: %v", err)
	}
	return []types.Subscription{sub}, nil
}

// newSessionLogger logs to stderr unless quiet or a dashboard owns the terminal.
func newSessionLogger(plan *sessionPlan, tui bool) *log.Logger {
	logger := log.NewLogger(log.SessionMeta{Dataset: plan.live.Dataset, Client: plan.live.Client})
	logger.SetLevel(plan.logLevel)
	if plan.quiet || tui {
		return logger.WithOutput(io.Discard)
	}
	return logger.WithOutput(os.Stderr)
}

// startExporter serves collector at addr until the returned closer is
// closed. An empty addr serves nothing.
func startExporter(addr string, collector *metrics.Collector, logger *log.Logger) io.Closer {
	if addr == "" {
		return exporterCloser{}
	}
	exp := metrics.NewExporter(addr, collector)
	go func() {
		if err := exp.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics exporter failed", map[string]any{"addr": addr, "error": err.Error()})
		}
	}()
	logger.Info("serving metrics", map[string]any{"addr": addr})
	return exporterCloser{exp: exp, logger: logger}
}

// exporterCloser shuts an exporter down within shutdownTimeout. Closing
// twice is harmless; shutdown failures are logged, not returned.
type exporterCloser struct {
	exp    *metrics.Exporter
	logger *log.Logger
}

func (e exporterCloser) Close() error {
	if e.exp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.exp.Shutdown(ctx); err != nil {
		e.logger.Warn("stopping metrics exporter failed", map[string]any{"error": err.Error()})
	}
	return nil
}

func describeSubs(subs []types.Subscription) string {
	parts := make([]string, 0, len(subs))
	for _, s := range subs {
		parts = append(parts, fmt.Sprintf("%s:%s[%d]", s.Schema, s.STypeIn, len(s.Symbols)))
	}
	return strings.Join(parts, ",")
}

// shutdownTimeout bounds flushing and closing after the stream ends.
const shutdownTimeout = 10 * time.Second
