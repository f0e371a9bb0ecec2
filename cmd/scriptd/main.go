// Command scriptd runs the headless automation daemon.
package main

import (
	"os"

	"github.com/dagucloud/scriptd/internal/cli"
)

// buildVersion is set at link time via -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func main() {
	os.Exit(cli.Execute(buildVersion))
}
