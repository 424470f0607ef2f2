package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"booth/internal/config"
	"booth/internal/logger"

	"github.com/spf13/cobra"
)

var (
	// cfg is loaded once before any subcommand runs
	cfg *config.Config
	// log writes next to the server's logs
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "boothctl",
	Short: "Operator tools for the booth server",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		var err error
		log, err = logger.NewLogger(cfg.LogDirectory)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Close()
		}
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
