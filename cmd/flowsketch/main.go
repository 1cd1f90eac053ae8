// Command flowsketch serves the FlowSketch web app and exposes its flowchart
// tooling on the command line and over MCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand once the root pre-run has
// loaded the configuration.
type cli struct {
	cfg    Config
	level  *slog.LevelVar
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{level: new(slog.LevelVar)}

	var logLevel, logFormat string
	root := &cobra.Command{
		Use:           "flowsketch",
		Short:         "Turn descriptions into flowcharts, repair them and render them",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.cfg = loadConfig()
			if logLevel != "" {
				c.cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				c.cfg.LogFormat = logFormat
			}
			logger, err := newLogger(cmd.ErrOrStderr(), c.cfg, c.level)
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			c.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json, text or pretty")

	root.AddCommand(
		c.serveCmd(),
		c.normalizeCmd(),
		c.repairCmd(),
		c.lintCmd(),
		c.renderCmd(),
		c.generateCmd(),
		c.mcpCmd(),
		c.keyCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}
