// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/pipeline"
	"github.com/AleutianAI/HearthCore/services/voicecore/session"
)

// statusResponse is the GET /v1/status body.
type statusResponse struct {
	Pipeline pipeline.Status `json:"pipeline"`
	Alerts   any             `json:"alerts,omitempty"`

	DegradationLevel int    `json:"degradation_level"`
	DegradationName  string `json:"degradation_name,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{Pipeline: s.pipeline.Status()}
	if s.monitor != nil {
		resp.Alerts = s.monitor.ActiveAlerts()
	}
	if s.opt != nil {
		resp.DegradationLevel = s.opt.DegradationLevel()
		resp.DegradationName = s.opt.CurrentSettings().Name
	}
	c.JSON(http.StatusOK, resp)
}

// metricsResponse is the GET /v1/metrics body: the running aggregates,
// not the prometheus exposition (that lives at /metrics).
type metricsResponse struct {
	Pipeline  pipeline.Metrics   `json:"pipeline"`
	Sessions  session.Statistics `json:"sessions"`
	Optimizer any                `json:"optimizer,omitempty"`
}

func (s *Server) handleMetrics(c *gin.Context) {
	resp := metricsResponse{
		Pipeline: s.pipeline.Metrics(),
		Sessions: s.sessions.Statistics(),
	}
	if s.opt != nil {
		resp.Optimizer = s.opt.Metrics()
	}
	c.JSON(http.StatusOK, resp)
}

// createSessionRequest is the POST /v1/sessions body.
type createSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Resume bool   `json:"resume"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := s.sessions.CreateOrResumeSession(req.UserID, session.CreateOptions{Resume: req.Resume})
	if err != nil {
		c.JSON(sessionErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) handleSessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.Statistics())
}

func (s *Server) handleGetSession(c *gin.Context) {
	state, err := s.sessions.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(sessionErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleUserSessions(c *gin.Context) {
	states := s.sessions.UserSessions(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"sessions": states, "count": len(states)})
}

func (s *Server) handleEndSession(c *gin.Context) {
	reason := c.DefaultQuery("reason", "user_request")
	if err := s.sessions.EndSession(c.Param("id"), reason); err != nil {
		c.JSON(sessionErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": true})
}

// handleEvents serves the audit history with optional filtering:
// ?type=safety-audit&user_id=u1&session_id=s1&limit=50
func (s *Server) handleEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event history not enabled"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	filter := events.HistoryFilter{
		Type:      events.Type(c.Query("type")),
		Source:    c.Query("source"),
		UserID:    c.Query("user_id"),
		SessionID: c.Query("session_id"),
	}
	c.JSON(http.StatusOK, gin.H{"events": s.bus.History(filter, limit)})
}

// sessionErrorStatus maps session errors to HTTP codes.
func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrOutsideAllowedHours),
		errors.Is(err, session.ErrSupervisionRequired):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
