// Command livefeed streams and captures live market data.
//
//	livefeed <command> [options]
//
// Exit status is 0 on success or Ctrl-C, 1 for usage and configuration
// errors, 2 when authentication is rejected, 3 when the connection is lost
// for good, 4 for gateway error records and protocol violations, and 5 for
// capture storage failures.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/cli/cmd"
	"github.com/justapithecus/livefeed/types"
)

// commit is stamped with -ldflags "-X main.commit=...".
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "livefeed",
		Usage:          "Live market data gateway client",
		Version:        types.Version + " (commit: " + commit + ")",
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.StreamCommand(),
			cmd.CaptureCommand(),
			cmd.ReadCommand(),
			cmd.StatsCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err != nil {
		os.Exit(reportExit(os.Stderr, err))
	}
}

// reportExit writes err to w and returns the exit status it maps to.
// Errors without an exit code are unexpected and exit 1.
func reportExit(w io.Writer, err error) int {
	var coded cli.ExitCoder
	if !errors.As(err, &coded) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 1
	}
	code := coded.ExitCode()
	// cli.Exit("", n) renders as "exit status n"
	if msg := coded.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
		fmt.Fprintln(w, msg)
	}
	return code
}
