// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns per-user conversational state: lifecycle,
// concurrency limits, parental-control gating, multi-user arbitration,
// and persistence.
package session

import (
	"errors"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrSessionLimitExceeded is returned when the global concurrency
	// ceiling is reached.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProfileNotFound is returned for unknown user ids.
	ErrProfileNotFound = errors.New("user profile not found")

	// ErrOutsideAllowedHours is returned when parental controls restrict
	// the current time of day.
	ErrOutsideAllowedHours = errors.New("outside allowed hours")

	// ErrSupervisionRequired is returned when parental controls require
	// a supervising adult session.
	ErrSupervisionRequired = errors.New("supervision required")

	// ErrInvalidParticipants is returned for multi-user interactions
	// with fewer than two valid sessions.
	ErrInvalidParticipants = errors.New("invalid participant set")

	// ErrAlreadyRunning is returned by Start when the sweep loop is
	// already active.
	ErrAlreadyRunning = errors.New("session manager already running")
)

// ============================================================================
// Status
// ============================================================================

// Status is a session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusSuspended Status = "suspended"
	StatusEnded     Status = "ended"
)

// ============================================================================
// User profiles
// ============================================================================

// AgeGroup coarsely classifies a family member for arbitration and
// content filtering.
type AgeGroup string

const (
	AgeGroupChild AgeGroup = "child"
	AgeGroupTeen  AgeGroup = "teen"
	AgeGroupAdult AgeGroup = "adult"
)

// ContentFilterLevel orders filtering strictness. Strictest wins in
// multi-user contexts.
type ContentFilterLevel string

const (
	FilterRelaxed  ContentFilterLevel = "relaxed"
	FilterModerate ContentFilterLevel = "moderate"
	FilterStrict   ContentFilterLevel = "strict"
)

// filterRank orders filter levels for strictest-wins merging.
func filterRank(l ContentFilterLevel) int {
	switch l {
	case FilterStrict:
		return 2
	case FilterModerate:
		return 1
	default:
		return 0
	}
}

// Preferences holds per-user interaction preferences.
type Preferences struct {
	ContentFilter ContentFilterLevel `json:"content_filter" yaml:"content_filter"`
	Voice         string             `json:"voice,omitempty" yaml:"voice,omitempty"`
	Volume        int                `json:"volume" yaml:"volume"`
	Language      string             `json:"language,omitempty" yaml:"language,omitempty"`
}

// ParentalControls gates when and how a user may interact.
type ParentalControls struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// AllowedStartHour/AllowedEndHour bound interaction to a daily
	// window in local time (24h clock). A window of 0..0 means no time
	// restriction. Windows may wrap midnight (e.g. 20..7).
	AllowedStartHour int `json:"allowed_start_hour" yaml:"allowed_start_hour"`
	AllowedEndHour   int `json:"allowed_end_hour" yaml:"allowed_end_hour"`

	// SupervisionRequired demands an active adult session before this
	// user may start one.
	SupervisionRequired bool `json:"supervision_required" yaml:"supervision_required"`
}

// UserProfile is the persistent record for one family member.
type UserProfile struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name,omitempty"`
	AgeGroup AgeGroup `json:"age_group"`

	// BirthYear supports eldest-participant command arbitration.
	// Zero means unknown, ranked youngest.
	BirthYear int `json:"birth_year,omitempty"`

	Preferences      Preferences      `json:"preferences"`
	ParentalControls ParentalControls `json:"parental_controls"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ============================================================================
// Sessions
// ============================================================================

// Turn is one completed conversational exchange retained as context for
// intent classification. Text fields hold already-redacted content.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	Intent    string    `json:"intent,omitempty"`
	UserText  string    `json:"user_text,omitempty"`
	Response  string    `json:"response,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Success   bool      `json:"success"`
}

// Metrics are per-session running aggregates.
type Metrics struct {
	Interactions     int64   `json:"interactions"`
	Failures         int64   `json:"failures"`
	SafetyViolations int64   `json:"safety_violations"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// State is the full record of one session. The manager exclusively owns
// session lifetime; callers receive copies.
type State struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Status       Status    `json:"status"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`

	// Context is the bounded conversation history, newest last.
	Context []Turn `json:"context,omitempty"`

	Profile UserProfile `json:"profile"`
	Metrics Metrics     `json:"metrics"`

	// EndReason is set when Status is ended.
	EndReason string `json:"end_reason,omitempty"`
}

// Identification is the result of resolving a speaker to a user.
type Identification struct {
	UserID     string  `json:"user_id"`
	Confidence float64 `json:"confidence"`

	// Method is "voiceprint", "hint", or "fallback".
	Method string `json:"method"`
}

// ============================================================================
// Multi-user
// ============================================================================

// MultiUserContext coordinates two or more concurrently interacting
// users. Keyed by the sorted participant user-id set; created lazily
// and garbage-collected when no participant session remains active.
type MultiUserContext struct {
	Key           string    `json:"key"`
	PrimaryUserID string    `json:"primary_user_id"`
	ActiveUsers   []string  `json:"active_users"`
	CreatedAt     time.Time `json:"created_at"`

	// SharedPreferences is the deterministic merge of participant
	// preferences: strictest content filter, primary user's voice and
	// language, lowest volume.
	SharedPreferences Preferences `json:"shared_preferences"`

	// CommandPriorityUserID is the participant whose commands win
	// conflicts: eldest registered participant, ties broken by
	// lexicographic user id.
	CommandPriorityUserID string `json:"command_priority_user_id"`
}

// ============================================================================
// Statistics
// ============================================================================

// Statistics summarizes manager-wide state.
type Statistics struct {
	ActiveSessions    int     `json:"active_sessions"`
	TotalCreated      int64   `json:"total_created"`
	TotalResumed      int64   `json:"total_resumed"`
	TotalEnded        int64   `json:"total_ended"`
	TotalDenied       int64   `json:"total_denied"`
	MultiUserContexts int     `json:"multi_user_contexts"`
	RegisteredUsers   int     `json:"registered_users"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
}
