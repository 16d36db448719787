package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/novik133/novasearch/internal/config"
	"github.com/novik133/novasearch/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the indexing daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			var output io.Writer = cmd.ErrOrStderr()
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				output = f
			}
			logger := log.New(output, "", log.LstdFlags)
			logFn := func(format string, args ...any) {
				if verbose || logFile != "" {
					logger.Printf(format, args...)
				}
			}
			errFn := func(format string, args ...any) {
				logger.Printf(format, args...)
			}

			path := config.ResolvePath(cfgFile)
			cfg, err := config.Load(path, errFn)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if path == "" {
				errFn("no config file found, using defaults")
			}

			mgr := config.NewManager(path, cfg, errFn)
			sup := daemon.New(daemon.Config{
				Manager: mgr,
				Logger:  logFn,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				errFn("shutting down...")
				cancel()
			}()

			errFn("indexing %d roots into %s", len(cfg.Roots()), config.IndexPath())
			if err := sup.Run(ctx); err != nil {
				return fmt.Errorf("daemon: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", "", "append all output to this file")

	return cmd
}
