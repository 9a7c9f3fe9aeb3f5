// Command kektech runs the KEKTECH API gateway and its admin tooling.
package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/kektech/kektech/internal/cmd"
	"github.com/kektech/kektech/internal/server/handlers"
)

// Set via ldflags, e.g.
// go build -ldflags="-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Commands log their own failures; this only sets the exit code.
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "Command execution failed", err)
	}
}
