package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/cli/render"
	"github.com/justapithecus/livefeed/cli/tui"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/iox"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/metrics"
)

// StreamCommand returns the stream command.
func StreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream live records to stdout",
		Description: `Connects to the live gateway, subscribes and prints each record as it
arrives. Output is JSON lines unless --format says otherwise; --tui shows a
dashboard instead. Interrupt with Ctrl-C, or bound the stream with --limit.`,
		Flags:  append(SessionFlags(), ReadOnlyFlags()...),
		Action: streamAction,
	}
}

func streamAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return usageErr("failed to load config: %v", err)
	}
	plan, err := planSession(c, cfg)
	if err != nil {
		return err
	}

	useTUI := c.Bool("tui")
	var writer *render.RecordWriter
	if !useTUI {
		format, err := render.FormatFromContext(c)
		if err != nil {
			return usageErr("%v", err)
		}
		if writer, err = render.NewRecordWriter(format, c.App.Writer); err != nil {
			return usageErr("%v", err)
		}
	}

	logger := newSessionLogger(plan, useTUI)
	defer iox.DiscardErr(logger.Sync)

	collector := metrics.NewCollector(plan.live.Dataset, plan.live.Client, "")
	defer iox.DiscardClose(startExporter(plan.metricsAddr, collector, logger))

	pub, err := openPublisher(plan, logger, collector)
	if err != nil {
		return err
	}

	cons := &consumer{plan: plan, logger: logger, metrics: collector}
	symbols := render.NewSymbolMap()
	var dash *dashboard
	if useTUI {
		dash = newDashboard(plan.live.Dataset, cons, collector)
	}

	plan.live.OnEvent = func(e live.Event) {
		pub.OnEvent(e)
		dash.event(e)
	}
	cons.onRecord = func(ctx context.Context, rec dbn.Record, msg dbn.Message) error {
		symbols.Observe(msg)
		pub.Record(ctx, rec)
		if sys, ok := msg.(*dbn.SystemMsg); ok && sys.IsHeartbeat() {
			return nil
		}
		view := render.NewRecordView(msg, symbols)
		if dash != nil {
			dash.record(view)
			return nil
		}
		return writer.Write(view)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if dash != nil {
		runErr = dash.run(ctx, cons)
	} else {
		runErr = cons.run(ctx)
		if err := writer.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pub.Close(closeCtx); err != nil {
		logger.Warn("closing publisher failed", map[string]any{"error": err.Error()})
	}

	if c.Bool("no-color") {
		tui.DisableColor()
	}
	if !plan.quiet && !useTUI && isStderrTTY() {
		fmt.Fprintln(os.Stderr, tui.RenderSummaryStatic(sessionSummary("Stream ended", cons, collector, runErr)))
	}
	return exitErr(runErr)
}

// openPublisher builds the configured adapter, if any.
func openPublisher(plan *sessionPlan, logger *log.Logger, collector *metrics.Collector) (*publisher, error) {
	a, err := buildAdapter(plan.publish)
	if err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			return nil, err
		}
		return nil, usageErr("invalid publish config: %v", err)
	}
	pub, err := newPublisher(a, plan.publish, plan.live.Dataset, logger, collector)
	if err != nil {
		iox.DiscardClose(a)
		return nil, usageErr("invalid publish config: %v", err)
	}
	return pub, nil
}

// sessionSummary describes a finished session.
func sessionSummary(title string, cons *consumer, collector *metrics.Collector, err error) tui.Summary {
	snap := collector.Snapshot()
	state, id := cons.status()
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	return tui.Summary{
		Title: title,
		State: state,
		Rows: [][2]string{
			{"Dataset", snap.Dataset},
			{"Session", id},
			{"Records", fmt.Sprint(snap.RecordsReceived)},
			{"Bytes", fmt.Sprint(snap.BytesRead)},
			{"Reconnects", fmt.Sprint(snap.ReconnectSuccesses)},
			{"Error", errText},
		},
	}
}
