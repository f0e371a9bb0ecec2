package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dagucloud/scriptd/internal/config"
	"github.com/dagucloud/scriptd/internal/daemon"
)

func serveCommand() *cobra.Command {
	var (
		watchDir string
		port     int
		noAuth   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the automation daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(newViper())
			if err != nil {
				return err
			}
			if watchDir != "" {
				cfg.Watch.Dir = watchDir
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if noAuth {
				cfg.Auth.Enabled = false
			}

			d, err := daemon.New(cfg, version)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			listenSignals(func(sig os.Signal) {
				log.Printf("received signal %v, shutting down", sig)
				cancel()
			})

			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&watchDir, "watch-dir", "", "directory of automation scripts (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "control plane listen port (overrides config)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "disable API key authentication")

	return cmd
}

// listenSignals invokes abortFunc the first time SIGINT or SIGTERM
// arrives, letting a second signal fall through to the default
// handler so an unresponsive shutdown can still be killed.
func listenSignals(abortFunc func(sig os.Signal)) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		abortFunc(sig)
		signal.Stop(sigs)
	}()
}
