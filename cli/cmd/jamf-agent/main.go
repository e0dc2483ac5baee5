package main

import (
	"context"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/kagent-dev/jamf-agent/cli/internal/cli/agent"
	"github.com/kagent-dev/jamf-agent/pkg/tools"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	tools.ClientVersion = Version

	root := agent.NewRootCmd()
	root.Version = Version
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
