package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glimte/email-consumer/internal/config"
	"github.com/glimte/email-consumer/internal/consumer"
	"github.com/glimte/email-consumer/internal/logging"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "email-consumer",
		Short: "Consume send_email_queue and log every message",
		Long: `email-consumer connects to RabbitMQ, declares the configured queue and logs
each message body it receives. Settings come from the environment, optionally
seeded from a .env file. Press Ctrl+C to shut down gracefully.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, cmd.Flags().Changed("env-file"))
		},
	}

	rootCmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Optional .env file merged into the environment")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
		},
	})

	return rootCmd
}

// run loads the configuration and consumes until interrupted. Options are
// applied after the default logger.
func run(parent context.Context, envFile string, envFileRequired bool, options ...consumer.Option) error {
	if parent == nil {
		parent = context.Background()
	}

	if err := config.LoadEnvFile(envFile, envFileRequired); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	svc, err := consumer.New(cfg, append([]consumer.Option{consumer.WithLogger(logger)}, options...)...)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A second signal during teardown kills the process
	context.AfterFunc(ctx, stop)

	logger.Info("starting consumer",
		"queue", cfg.QueueName,
		"ackMode", cfg.AckMode.String(),
		"version", version)

	if err := svc.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted before startup completed")
			return nil
		}
		logger.Error("consumer stopped with error", "error", err)
		return err
	}

	logger.Info("consumer exited cleanly")
	return nil
}
