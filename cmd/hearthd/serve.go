// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/HearthCore/pkg/logging"
	"github.com/AleutianAI/HearthCore/services/voicecore/config"
	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/observability"
	"github.com/AleutianAI/HearthCore/services/voicecore/optimizer"
	"github.com/AleutianAI/HearthCore/services/voicecore/pipeline"
	"github.com/AleutianAI/HearthCore/services/voicecore/resmon"
	"github.com/AleutianAI/HearthCore/services/voicecore/server"
	"github.com/AleutianAI/HearthCore/services/voicecore/session"
	"github.com/AleutianAI/HearthCore/services/voicecore/telemetry"
)

// enginesFactory builds the model engine bindings. Production builds
// register their runtime here; --dev-engines substitutes the built-in
// echo engines.
var enginesFactory func(cfg config.Config, logger *slog.Logger) (pipeline.Engines, error)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	loggerWrap, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "hearthd",
	})
	if err != nil {
		return err
	}
	defer loggerWrap.Close()
	logger := loggerWrap.Slog()
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	metrics := observability.New(prometheus.DefaultRegisterer)

	bus := events.New(
		events.WithHistorySize(cfg.Events.HistorySize),
		events.WithLogger(logger),
	)

	monitor := resmon.New(cfg.Monitor.Profile,
		resmon.WithInterval(cfg.Monitor.SampleInterval.Std()),
		resmon.WithPublisher(bus),
		resmon.WithLogger(logger),
		resmon.WithMetrics(metrics),
	)
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("start resource monitor: %w", err)
	}
	defer monitor.Stop()

	opt, err := optimizer.New(cfg.OptimizerConfig(),
		optimizer.WithMonitor(monitor),
		optimizer.WithBus(bus),
		optimizer.WithLogger(logger),
		optimizer.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create optimizer: %w", err)
	}
	if err := opt.Start(); err != nil {
		return fmt.Errorf("start optimizer: %w", err)
	}
	defer opt.Stop()

	storeCfg := cfg.StoreConfig()
	storeCfg.Logger = logger
	store, err := session.OpenStore(storeCfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	sessions, err := session.NewManager(cfg.SessionConfig(),
		session.WithBus(bus),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithStore(store),
	)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}
	defer sessions.Stop()

	engines, err := buildEngines(cfg, logger)
	if err != nil {
		return err
	}

	orch, err := pipeline.New(cfg.PipelineConfig(), engines, sessions,
		pipeline.WithMonitor(monitor),
		pipeline.WithQualityProvider(opt),
		pipeline.WithBus(bus),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer orch.Stop()

	srv, err := server.New(server.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}, orch, sessions,
		server.WithMonitor(monitor),
		server.WithOptimizer(opt),
		server.WithBus(bus),
		server.WithLogger(logger),
		server.WithMetricsHandler(telemetry.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Threshold profile edits apply live; structural changes need a
	// restart.
	watcher, err := config.NewWatcher(configPath, func(next config.Config) {
		monitor.SetProfile(next.Monitor.Profile)
		logger.Info("applied updated monitor profile; other sections apply on restart")
	}, logger)
	if err != nil {
		logger.Warn("config watching disabled", slog.Any("error", err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watching disabled", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	logger.Info("hearthd started",
		slog.String("version", version),
		slog.String("listen_addr", cfg.Server.ListenAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("hearthd stopped")
	return nil
}

// buildEngines resolves the engine bindings for this build.
func buildEngines(cfg config.Config, logger *slog.Logger) (pipeline.Engines, error) {
	if devEngines {
		return newDevEngines(logger), nil
	}
	if enginesFactory == nil {
		return pipeline.Engines{}, fmt.Errorf(
			"no engine runtime compiled into this build; run with --dev-engines for the echo engines")
	}
	return enginesFactory(cfg, logger)
}
