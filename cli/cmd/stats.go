package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/cli/reader"
	"github.com/justapithecus/livefeed/cli/render"
	"github.com/justapithecus/livefeed/lode"
)

// storageReadTimeout bounds a single stats query.
const storageReadTimeout = 30 * time.Second

// StatsCommand summarizes stored captures.
func StatsCommand() *cli.Command {
	flags := append(append(ReadOnlyFlags(), StorageFlags()...),
		ConfigFlag,
		&cli.StringFlag{Name: "run-id", Usage: "Restrict to one capture run"},
		&cli.StringFlag{Name: "source", Usage: "Restrict to one gateway dataset, e.g. GLBX.MDP3"},
	)
	return &cli.Command{
		Name:  "stats",
		Usage: "Show statistics for stored captures (runs, metrics)",
		Subcommands: []*cli.Command{
			{
				Name:   "runs",
				Usage:  "List capture runs with record and event counts",
				Flags:  flags,
				Action: storageQuery(queryRuns),
			},
			{
				Name:   "metrics",
				Usage:  "Show the session metrics recorded at the end of a capture",
				Flags:  flags,
				Action: storageQuery(queryMetrics),
			},
		},
	}
}

// storageQuery opens the capture dataset, runs query under
// storageReadTimeout and renders its result. Query errors exit with
// exitStorage.
func storageQuery(query func(context.Context, *cli.Context, lodelibrary.Dataset) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := checkTUI(c); err != nil {
			return err
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return usageErr("%v", err)
		}
		ds, err := openReadDataset(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(c.Context, storageReadTimeout)
		defer cancel()

		out, err := query(ctx, c, ds)
		if err != nil {
			return cli.Exit(err.Error(), exitStorage)
		}
		return r.Render(out)
	}
}

func queryRuns(ctx context.Context, c *cli.Context, ds lodelibrary.Dataset) (any, error) {
	rows, err := lode.ReadRows(ctx, ds, lode.Filter{RunID: c.String("run-id"), Source: c.String("source")})
	if err != nil {
		return nil, fmt.Errorf("failed to read captures: %w", err)
	}
	return reader.Summarize(rows), nil
}

func queryMetrics(ctx context.Context, c *cli.Context, ds lodelibrary.Dataset) (any, error) {
	row, err := lode.QueryLatestMetrics(ctx, ds, c.String("run-id"), c.String("source"))
	switch {
	case errors.Is(err, lode.ErrNoMetricsFound):
		return nil, errors.New("no metrics found (has a capture finished?)")
	case err != nil:
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}
	snapshot, err := reader.ParseMetricsRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics record: %w", err)
	}
	return snapshot, nil
}
