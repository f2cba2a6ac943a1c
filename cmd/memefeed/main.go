package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fanzone/memefeed/internal/config"
	"github.com/fanzone/memefeed/internal/logging"
	"github.com/fanzone/memefeed/internal/services"
	"github.com/fanzone/memefeed/pkg/model"
)

func main() {
	// 0. Parse Command Line Flags
	configDir := flag.String("config", "config", "Directory holding config.yml and config.local.yml")
	filter := flag.String("filter", string(model.FilterAll), "Filter selected at startup (empty to skip)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Shutdown()

	opts := services.Options{}
	if *filter != "" {
		key, err := model.ParseFilterKey(*filter)
		if err != nil {
			slog.Error("Invalid startup filter", "filter", *filter, "error", err)
			os.Exit(1)
		}
		opts.InitialFilter = key
	}

	slog.Info("Starting memefeed",
		"remote", cfg.Remote.Backend,
		"realtime", cfg.Realtime.Source,
		"relay", cfg.Realtime.Relay,
		"cache", cfg.Cache.Path,
	)

	// 2. Initialize Service Manager
	mgr := services.NewManager(cfg, opts, slog.Default())

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		mgr.Shutdown(ctx)
	}

	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		shutdown()
		logging.Shutdown()
		os.Exit(1)
	}

	// 3. Start Services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	mgr.Start(bgCtx)

	// 4. Wait for Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down", "signal", sig.String())

	// Cancel background tasks first
	bgCancel()
	shutdown()

	slog.Info("All services stopped")
}
