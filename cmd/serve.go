package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matiz0/matiz/api"
	"github.com/matiz0/matiz/internal/app"
	"github.com/matiz0/matiz/internal/config"
	"github.com/matiz0/matiz/internal/log"
)

func newServeCmd() *cobra.Command {
	var addr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(addr, debug)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides configuration)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(addr string, debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: true})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting matiz", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if addr == "" {
		addr = cfg.ListenAddr
	}

	server := api.NewServer(a.Assistant, a.Pool, logger.With("component", "api"))
	return server.Run(ctx, addr)
}
