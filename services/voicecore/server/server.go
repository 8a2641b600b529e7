// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the hearthd control API: device status,
// running metrics, session administration, the audit event feed, and
// the websocket audio ingest.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/optimizer"
	"github.com/AleutianAI/HearthCore/services/voicecore/pipeline"
	"github.com/AleutianAI/HearthCore/services/voicecore/resmon"
	"github.com/AleutianAI/HearthCore/services/voicecore/session"
)

// Config holds server tunables.
type Config struct {
	// ListenAddr is the bind address, e.g. ":8264".
	ListenAddr string

	// ReadTimeout and WriteTimeout bound request handling. The write
	// timeout must cover a full voice turn.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8264",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the hearthd HTTP/WebSocket front end.
type Server struct {
	cfg      Config
	pipeline *pipeline.Orchestrator
	sessions *session.Manager
	monitor  *resmon.Monitor
	opt      *optimizer.Optimizer
	bus      *events.Bus
	logger   *slog.Logger

	router *gin.Engine
	httpd  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMonitor attaches the resource monitor for status reporting.
func WithMonitor(m *resmon.Monitor) Option {
	return func(s *Server) {
		s.monitor = m
	}
}

// WithOptimizer attaches the optimizer for status reporting.
func WithOptimizer(o *optimizer.Optimizer) Option {
	return func(s *Server) {
		s.opt = o
	}
}

// WithBus attaches the event bus backing the audit feed.
func WithBus(bus *events.Bus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts a prometheus scrape handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.router.GET("/metrics", gin.WrapH(h))
		}
	}
}

// New creates the control API server.
func New(cfg Config, orch *pipeline.Orchestrator, sessions *session.Manager, opts ...Option) (*Server, error) {
	if orch == nil || sessions == nil {
		return nil, fmt.Errorf("pipeline and session manager are required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("hearthd"))

	s := &Server{
		cfg:      cfg,
		pipeline: orch,
		sessions: sessions,
		logger:   slog.Default(),
		router:   router,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("subsystem", "server"))
	s.registerRoutes()

	s.httpd = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// registerRoutes mounts the /v1 API.
func (s *Server) registerRoutes() {
	v1 := s.router.Group("/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/metrics", s.handleMetrics)

		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions", s.handleSessionStats)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleEndSession)
		v1.GET("/users/:id/sessions", s.handleUserSessions)

		v1.GET("/events", s.handleEvents)
		v1.GET("/audio/stream", s.handleAudioStream)
	}
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Run serves until ctx is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", slog.String("addr", s.cfg.ListenAddr))
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpd.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
