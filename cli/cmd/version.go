package cmd

import (
	"runtime"
	"runtime/debug"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/cli/render"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/types"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Client     string `json:"client"`
	DBNVersion uint8  `json:"dbn_version"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// VersionCommand prints build information without contacting the gateway.
// commit comes from ldflags; when unset the VCS revision stamped by the
// Go toolchain is used.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if err := checkTUI(c); err != nil {
				return err
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return usageErr("%v", err)
			}
			return r.Render(buildInfo(commit))
		},
	}
}

func buildInfo(commit string) VersionInfo {
	if commit == "" || commit == "unknown" {
		commit = vcsRevision()
	}
	return VersionInfo{
		Version:    types.Version,
		Commit:     commit,
		Client:     types.ClientID(),
		DBNVersion: dbn.CurrentVersion,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return "unknown"
}
