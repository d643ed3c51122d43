package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/cli/config"
	"github.com/justapithecus/livefeed/cli/render"
	"github.com/justapithecus/livefeed/cli/tui"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/iox"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/lode"
	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/metrics"
	"github.com/justapithecus/livefeed/policy"
	"github.com/justapithecus/livefeed/types"
)

// CaptureCommand returns the capture command.
func CaptureCommand() *cli.Command {
	flags := append(SessionFlags(), StorageFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "policy", Usage: "Ingestion policy: strict, buffered, streaming, or noop (dry run)", Value: "strict"},
		&cli.StringFlag{Name: "flush-mode", Usage: "Buffered flush mode: at_least_once, records_first", Value: string(policy.FlushAtLeastOnce)},
		&cli.IntFlag{Name: "buffer-records", Usage: "Buffered: maximum records held before flush"},
		&cli.Int64Flag{Name: "buffer-bytes", Usage: "Buffered: maximum bytes held before flush"},
		&cli.IntFlag{Name: "flush-count", Usage: "Streaming: flush after this many records"},
		&cli.DurationFlag{Name: "flush-interval", Usage: "Streaming: flush at least this often"},
		&cli.StringFlag{Name: "run-id", Usage: "Capture run identifier (default: random UUID)"},
		TUIFlag,
		NoColorFlag,
	)
	return &cli.Command{
		Name:  "capture",
		Usage: "Capture live records to storage",
		Description: `Streams a live session into a lode dataset partitioned by source, schema,
day, run and record kind. Session events and a final metrics row are stored
alongside the records, and the stream metadata is written as a sidecar file.`,
		Flags:  flags,
		Action: captureAction,
	}
}

// captureStore is the storage opened for one capture run.
type captureStore struct {
	client *lode.LodeClient
	policy policy.Policy
	cfg    lode.Config
}

func captureAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return usageErr("failed to load config: %v", err)
	}
	plan, err := planSession(c, cfg)
	if err != nil {
		return err
	}
	useTUI := c.Bool("tui")

	logger := newSessionLogger(plan, useTUI)
	defer iox.DiscardErr(logger.Sync)

	storage := resolveStorage(c, cfg)
	collector := metrics.NewCollector(plan.live.Dataset, plan.live.Client, storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	store, err := openCaptureStore(ctx, c, cfg, plan, storage, collector, logger, startTime)
	if err != nil {
		return err
	}

	exporter := startExporter(plan.metricsAddr, collector, logger)
	defer iox.DiscardClose(exporter)

	pub, err := openPublisher(plan, logger, collector)
	if err != nil {
		iox.DiscardClose(store.policy)
		return err
	}

	cons := &consumer{plan: plan, logger: logger, metrics: collector}
	symbols := render.NewSymbolMap()
	var dash *dashboard
	if useTUI {
		dash = newDashboard(plan.live.Dataset, cons, collector)
	}

	plan.live.OnEvent = func(e live.Event) {
		// the closed event arrives after ctx is done
		if err := store.policy.IngestEvent(context.WithoutCancel(ctx), adapter.EventFrom(e)); err != nil {
			logger.Warn("storing session event failed", map[string]any{"event_type": string(e.Type), "error": err.Error()})
		}
		pub.OnEvent(e)
		dash.event(e)
	}
	cons.onStart = func(ctx context.Context, meta *dbn.Metadata) error {
		data, err := dbn.EncodeMetadata(meta)
		if err != nil {
			return err
		}
		if store.client == nil {
			return nil
		}
		if err := store.client.PutFile(ctx, lode.MetadataFile, data); err != nil {
			logger.Warn("writing metadata sidecar failed", map[string]any{"error": err.Error()})
		}
		return nil
	}
	cons.onRecord = func(ctx context.Context, rec dbn.Record, msg dbn.Message) error {
		if err := store.policy.IngestRecord(ctx, adapter.EnvelopeFrom(plan.live.Dataset, rec)); err != nil {
			return fmt.Errorf("capture stopped: %w", err)
		}
		pub.Record(ctx, rec)
		if dash != nil {
			symbols.Observe(msg)
			if sys, ok := msg.(*dbn.SystemMsg); !ok || !sys.IsHeartbeat() {
				dash.record(render.NewRecordView(msg, symbols))
			}
		}
		return nil
	}

	var runErr error
	if dash != nil {
		runErr = dash.run(ctx, cons)
	} else {
		runErr = cons.run(ctx)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pub.Close(closeCtx); err != nil {
		logger.Warn("closing publisher failed", map[string]any{"error": err.Error()})
	}
	stats := store.policy.Stats()
	// metrics stay scrapeable until the final flush lands
	if err := iox.CloseAll(exporter, store.policy); err != nil {
		logger.Error("final flush failed", map[string]any{"error": err.Error()})
		if runErr == nil {
			runErr = err
		}
	}
	if store.client != nil {
		if err := store.client.WriteMetrics(closeCtx, collector.Snapshot(), time.Now()); err != nil {
			logger.Warn("writing metrics row failed", map[string]any{"error": err.Error()})
		}
	}

	if c.Bool("no-color") {
		tui.DisableColor()
	}
	if !plan.quiet && !useTUI {
		summary := sessionSummary("Capture complete", cons, collector, runErr)
		summary.Rows = append(summary.Rows,
			[2]string{"Run", store.cfg.RunID},
			[2]string{"Persisted", fmt.Sprint(store.persisted())},
			[2]string{"Dropped", fmt.Sprint(stats.RecordsDropped)},
			[2]string{"Duration", time.Since(startTime).Round(time.Millisecond).String()},
		)
		fmt.Fprintln(c.App.ErrWriter, tui.RenderSummaryStatic(summary))
	}
	return exitErr(runErr)
}

// resolveStorage merges storage flags over config.
func resolveStorage(c *cli.Context, cfg *config.Config) config.StorageConfig {
	s := configVal(cfg, func(c *config.Config) config.StorageConfig { return c.Storage })
	s.Dataset = resolveString(c, "storage-dataset", s.Dataset)
	s.Backend = resolveString(c, "storage-backend", s.Backend)
	if s.Backend == "" {
		s.Backend = "fs"
	}
	s.Path = resolveString(c, "storage-path", s.Path)
	s.Region = resolveString(c, "storage-region", s.Region)
	s.Endpoint = resolveString(c, "storage-endpoint", s.Endpoint)
	s.S3PathStyle = resolveBool(c, "storage-s3-path-style", s.S3PathStyle)
	return s
}

// persisted is what reached storage; a dry run persists nothing.
func (s *captureStore) persisted() int64 {
	if s.client == nil {
		return 0
	}
	return s.client.RecordsWritten()
}

func openCaptureStore(ctx context.Context, c *cli.Context, cfg *config.Config, plan *sessionPlan, storage config.StorageConfig, collector *metrics.Collector, logger *log.Logger, startTime time.Time) (*captureStore, error) {
	runID := c.String("run-id")
	if runID == "" {
		runID = lode.NewRunID()
	}
	lcfg := lode.Config{
		Dataset: storage.Dataset,
		Source:  plan.live.Dataset,
		Schema:  partitionSchema(plan.subs),
		Day:     lode.DeriveDay(startTime),
		RunID:   runID,
	}

	// dry run: records are counted, storage is never opened
	if policyName(c, cfg) == "noop" {
		logger.Info("dry run, nothing is persisted", map[string]any{"run_id": runID})
		return &captureStore{policy: policy.NewNoopPolicy(), cfg: lcfg}, nil
	}
	if storage.Path == "" {
		return nil, usageErr("--storage-path is required for capture")
	}

	loc, err := storageLocation(storage)
	if err != nil {
		return nil, err
	}
	client, err := lode.OpenClient(ctx, lcfg, loc)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("opening storage: %v", err), exitStorage)
	}
	sink := lode.NewSink(lcfg, client, collector)

	pol, err := buildPolicy(c, cfg, sink, logger)
	if err != nil {
		iox.DiscardClose(sink)
		return nil, err
	}
	logger.Info("capturing", map[string]any{"run_id": runID, "backend": storage.Backend, "path": storage.Path})
	return &captureStore{client: client, policy: pol, cfg: lcfg}, nil
}

// storageLocation maps storage settings onto a lode location. Bad
// settings are usage errors.
func storageLocation(storage config.StorageConfig) (lode.Location, error) {
	loc := lode.Location{
		Backend: storage.Backend,
		Path:    storage.Path,
		S3: lode.S3Config{
			Region:       storage.Region,
			Endpoint:     storage.Endpoint,
			UsePathStyle: storage.S3PathStyle,
		},
	}
	if err := loc.Validate(); err != nil {
		return loc, usageErr("invalid storage: %v", err)
	}
	return loc, nil
}

// buildPolicy selects the ingestion policy from flags over config.
func buildPolicy(c *cli.Context, cfg *config.Config, sink policy.Sink, logger *log.Logger) (policy.Policy, error) {
	pc := configVal(cfg, func(c *config.Config) config.PolicyConfig { return c.Policy })
	name := policyName(c, cfg)

	switch name {
	case "strict":
		return policy.NewStrictPolicy(sink), nil
	case "buffered":
		bc := policy.BufferedConfig{
			MaxBufferRecords: resolveInt(c, "buffer-records", pc.BufferRecords),
			MaxBufferBytes:   pc.BufferBytes,
			FlushMode:        policy.FlushMode(resolveString(c, "flush-mode", pc.FlushMode)),
			Logger:           logger,
		}
		if c.IsSet("buffer-bytes") || bc.MaxBufferBytes == 0 {
			bc.MaxBufferBytes = c.Int64("buffer-bytes")
		}
		if bc.MaxBufferRecords <= 0 && bc.MaxBufferBytes <= 0 {
			def := policy.DefaultBufferedConfig()
			bc.MaxBufferRecords, bc.MaxBufferBytes = def.MaxBufferRecords, def.MaxBufferBytes
		}
		pol, err := policy.NewBufferedPolicy(sink, bc)
		if err != nil {
			return nil, usageErr("invalid buffered policy: %v", err)
		}
		return pol, nil
	case "streaming":
		sc := policy.StreamingConfig{
			FlushCount:    resolveInt(c, "flush-count", pc.FlushCount),
			FlushInterval: resolveDuration(c, "flush-interval", pc.FlushInterval.Duration),
			Logger:        logger,
		}
		pol, err := policy.NewStreamingPolicy(sink, sc)
		if err != nil {
			return nil, usageErr("invalid streaming policy: %v (set --flush-count or --flush-interval)", err)
		}
		return pol, nil
	default:
		return nil, usageErr("unknown --policy %q (must be strict, buffered, streaming or noop)", name)
	}
}

func policyName(c *cli.Context, cfg *config.Config) string {
	return resolveString(c, "policy", configVal(cfg, func(c *config.Config) string { return c.Policy.Name }))
}

// partitionSchema is the single subscribed schema, or "mixed".
func partitionSchema(subs []types.Subscription) string {
	if len(subs) == 0 {
		return "mixed"
	}
	first := subs[0].Schema
	for _, s := range subs[1:] {
		if s.Schema != first {
			return "mixed"
		}
	}
	return string(first)
}
