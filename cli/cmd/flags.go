// Package cmd provides CLI commands for the livefeed binary.
package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/cli/tui"
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for commands that observe a live session (stream, capture).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable live dashboard (stream, capture only)",
	}

	// ConfigFlag points at a livefeed.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default: ./livefeed.yaml when present)",
	}
)

// ReadOnlyFlags returns the shared flags for all output-producing commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// SessionFlags returns the flags that shape a live session. Each overrides
// the matching livefeed.yaml value.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{Name: "dataset", Aliases: []string{"d"}, Usage: "Dataset code, e.g. GLBX.MDP3"},
		&cli.StringFlag{Name: "gateway", Usage: "Gateway host:port (default: derived from dataset)"},
		&cli.StringSliceFlag{Name: "symbols", Aliases: []string{"s"}, Usage: "Symbols to subscribe to (repeat or comma-separate)"},
		&cli.StringFlag{Name: "schema", Usage: "Record schema, e.g. trades, mbp-1, ohlcv-1s", Value: "trades"},
		&cli.StringFlag{Name: "stype-in", Usage: "Symbology of --symbols", Value: "raw_symbol"},
		&cli.TimestampFlag{Name: "start", Usage: "Replay from this time (RFC 3339)", Layout: "2006-01-02T15:04:05Z07:00"},
		&cli.BoolFlag{Name: "snapshot", Usage: "Request a book snapshot before live data"},
		&cli.StringFlag{Name: "client", Usage: "Client identifier sent to the gateway"},
		&cli.DurationFlag{Name: "heartbeat-interval", Usage: "Heartbeat interval requested from the gateway"},
		&cli.BoolFlag{Name: "ts-out", Usage: "Request gateway send timestamps"},
		&cli.StringFlag{Name: "upgrade-policy", Usage: "Version reconciliation: upgrade or as_is"},
		&cli.IntFlag{Name: "max-reconnects", Usage: "Reconnection attempts before giving up (0 disables)", Value: -1},
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Stop after this many data records (0 = unlimited)"},
		&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics at this address, e.g. :9102"},
		&cli.StringFlag{Name: "publish", Usage: "Publish session events: redis or webhook"},
		&cli.StringFlag{Name: "publish-url", Usage: "Redis URL or webhook endpoint"},
		&cli.BoolFlag{Name: "publish-records", Usage: "Also fan out records (redis only)"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress session logs on stderr"},
		&cli.StringFlag{Name: "log-level", Usage: "Minimum log level: debug, info, warn or error"},
	}
}

// StorageFlags returns the flags selecting a lode storage location.
func StorageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset ID", Value: "livefeed"},
		&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3"},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "S3-compatible endpoint URL"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Use path-style S3 addressing"},
	}
}

// checkTUI rejects --tui on commands without a dashboard.
func checkTUI(c *cli.Context) error {
	if !c.Bool("tui") {
		return nil
	}
	if err := tui.CheckSupported(c.Command.Name); err != nil {
		return usageErr("%v", err)
	}
	return nil
}

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
