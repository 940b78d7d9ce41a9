package main

import (
	"github.com/3leaps/expinfo/internal/cmd"
	"github.com/3leaps/expinfo/internal/observability"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if code := cmd.Execute(); code != 0 {
		cmd.ExitWithCode(observability.CLILogger, code, "expinfo exiting", nil)
	}
}
