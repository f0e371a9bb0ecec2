// Package cli wires the daemon's cobra commands: serve, keys and
// version (spec §6.5), following the persistent-flags-plus-viper idiom
// of the teacher's cmd/main.go.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	version = "dev"
)

// NewRootCommand builds the root "scriptd" command with every
// subcommand attached. buildVersion is baked in at link time by
// cmd/scriptd via -ldflags, mirroring the teacher's version variable.
func NewRootCommand(buildVersion string) *cobra.Command {
	if buildVersion != "" {
		version = buildVersion
	}

	root := &cobra.Command{
		Use:           "scriptd",
		Short:         "Headless automation daemon",
		Long:          "scriptd watches a directory of automation scripts, schedules and executes them, and exposes a REST and WebSocket control plane.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./scriptd.yaml)")

	// Unrecognized/malformed flags are cobra's own misuse case; wrap them
	// as usageError so Execute maps them to exit code 2 like our own
	// hand-raised usage errors (spec §6.5).
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(serveCommand())
	root.AddCommand(keysCommand())
	root.AddCommand(versionCommand())

	return root
}

// Execute runs the root command and maps its outcome to a process exit
// code (spec §6.5: 0 success, 1 fatal error, 2 misuse/unknown command).
func Execute(buildVersion string) int {
	root := NewRootCommand(buildVersion)
	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	if isUsage(err) {
		return 2
	}
	return 1
}

// isUsage reports whether err is command misuse rather than a runtime
// failure: either our own usageError, a flag error wrapped by
// SetFlagErrorFunc above, or cobra's own "unknown command" error from
// failing to find a matching subcommand (cobra returns that directly
// from Execute, not through FlagErrorFunc or a RunE we control).
func isUsage(err error) bool {
	var u usageError
	if errors.As(err, &u) {
		return true
	}
	return strings.HasPrefix(err.Error(), "unknown command ")
}

// usageError marks an error as command misuse rather than a runtime
// failure, so Execute can report exit code 2 for it.
type usageError struct{ error }

func newViper() *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("scriptd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return v
}
