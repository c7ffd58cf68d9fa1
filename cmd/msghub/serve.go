package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/msghub/msghub/engine"
	"github.com/msghub/msghub/internal/config"
	"github.com/msghub/msghub/internal/logging"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	addr := fs.String("addr", "", "admin listen address (overrides config)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *addr != "" {
		cfg.Admin.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	logging.PrintBanner(version, cfg.Admin.Addr)

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting msghub", "version", version, "dataDir", cfg.DataDir)
	return e.Serve(ctx)
}
