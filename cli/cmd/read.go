package cmd

import (
	"context"
	"fmt"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/cli/reader"
	"github.com/justapithecus/livefeed/cli/render"
	"github.com/justapithecus/livefeed/lode"
)

// ReadCommand returns the read command.
func ReadCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Print records from a capture",
		Description: `Reads captured records back from storage and prints them the way stream
does. Filter by --source (the gateway dataset), --run-id and --kind.`,
		Flags: append(append(ReadOnlyFlags(), StorageFlags()...),
			ConfigFlag,
			&cli.StringFlag{Name: "source", Usage: "Gateway dataset the records came from, e.g. GLBX.MDP3"},
			&cli.StringFlag{Name: "run-id", Usage: "Capture run identifier"},
			&cli.StringFlag{Name: "kind", Usage: "Record kind, e.g. trade, mbo, ohlcv"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Stop after this many records (0 = all)"},
			&cli.BoolFlag{Name: "events", Usage: "Print stored session events instead of records"},
		),
		Action: readAction,
	}
}

func readAction(c *cli.Context) error {
	if err := checkTUI(c); err != nil {
		return err
	}
	format, err := render.FormatFromContext(c)
	if err != nil {
		return usageErr("%v", err)
	}
	ds, err := openReadDataset(c)
	if err != nil {
		return err
	}

	kind := c.String("kind")
	if c.Bool("events") && kind == "" {
		kind = lode.RecordKindEvent
	}
	rows, err := lode.ReadRows(c.Context, ds, lode.Filter{
		RunID:  c.String("run-id"),
		Source: c.String("source"),
		Kind:   kind,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading capture: %v", err), exitStorage)
	}

	if c.Bool("events") {
		return render.New(format, c.App.Writer).Render(reader.Events(rows))
	}

	w, err := render.NewRecordWriter(format, c.App.Writer)
	if err != nil {
		return usageErr("%v", err)
	}
	n, err := writeStoredRecords(w, rows, c.Int("limit"))
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(c.App.ErrWriter, "no records found")
	}
	return nil
}

// openReadDataset opens the capture dataset named by the storage flags.
func openReadDataset(c *cli.Context) (lodelibrary.Dataset, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, usageErr("failed to load config: %v", err)
	}
	storage := resolveStorage(c, cfg)
	if storage.Path == "" {
		return nil, usageErr("--storage-path is required")
	}

	loc, err := storageLocation(storage)
	if err != nil {
		return nil, err
	}
	ds, err := lode.OpenDataset(context.Background(), storage.Dataset, loc)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("opening storage: %v", err), exitStorage)
	}
	return ds, nil
}

// writeStoredRecords decodes record rows in order and writes them to w.
// Rows that are not records are skipped. Returns the number written.
func writeStoredRecords(w *render.RecordWriter, rows []map[string]any, limit int) (int, error) {
	symbols := render.NewSymbolMap()
	written := 0
	for _, row := range rows {
		if !reader.IsRecord(row) {
			continue
		}
		_, msg, err := reader.DecodeRecord(row)
		if err != nil {
			return written, cli.Exit(fmt.Sprintf("decoding stored record %v: %v", row["seq"], err), exitStorage)
		}
		symbols.Observe(msg)
		if err := w.Write(render.NewRecordView(msg, symbols)); err != nil {
			return written, err
		}
		written++
		if limit > 0 && written >= limit {
			break
		}
	}
	return written, nil
}
