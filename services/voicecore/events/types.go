// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events implements the voice core's event bus: typed
// publish/subscribe with priority-ordered delivery, payload sanitization,
// and a bounded audit history.
//
// Every cross-component signal in the voice core flows through this bus:
// pipeline stage boundaries, resource alerts, optimization triggers,
// session lifecycle, and safety audits. Components never call into each
// other's internals to observe state changes; they subscribe here.
package events

import "time"

// Priority orders events by importance.
//
// It affects audit semantics and is carried on the event itself; delivery
// order for a single publish is governed by subscriber priority, not
// event priority.
type Priority int

const (
	// PriorityLow is routine telemetry.
	PriorityLow Priority = iota

	// PriorityMedium is normal operational signaling.
	PriorityMedium

	// PriorityHigh is audit-relevant signaling (safety, session denial).
	PriorityHigh

	// PriorityCritical is signaling that demands immediate reaction
	// (critical resource alerts).
	PriorityCritical
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Type identifies a category of event.
type Type string

// Well-known event types. Components may publish additional ad-hoc types;
// these are the ones the core itself produces and reacts to.
const (
	// Pipeline stage boundaries and turn outcomes.
	TypeWakeWordDetected Type = "wake-word-detected"
	TypeStageStarted     Type = "stage-started"
	TypeStageCompleted   Type = "stage-completed"
	TypeTurnCompleted    Type = "turn-completed"
	TypeTurnFailed       Type = "turn-failed"
	TypeTTSError         Type = "tts-error"

	// Safety and parental-control audit trail.
	TypeSafetyAudit          Type = "safety-audit"
	TypeParentalControlDenied Type = "parental-control-denied"

	// Resource monitor signaling.
	TypeResourceAlert        Type = "resource-alert"
	TypeResourceAlertCleared Type = "resource-alert-cleared"
	TypeOptimizationTrigger  Type = "optimization-trigger"
	TypeMonitoringError      Type = "monitoring-error"

	// Performance optimizer signaling.
	TypeOptimizationApplied  Type = "optimization-applied"
	TypeOptimizationReverted Type = "optimization-reverted"
	TypeDegradationChanged   Type = "degradation-changed"
	TypeModelEvicted         Type = "model-evicted"
	TypeQueueOverflow        Type = "queue-overflow"

	// Session lifecycle.
	TypeSessionCreated       Type = "session-created"
	TypeSessionResumed       Type = "session-resumed"
	TypeSessionEnded         Type = "session-ended"
	TypeSessionExpiryWarning Type = "session-expiry-warning"
	TypeMultiUserStarted     Type = "multi-user-started"

	// Bus self-reporting: a subscriber panicked during delivery.
	TypeSubscriberError Type = "subscriber-error"
)

// Event is a single immutable signal on the bus.
//
// Payload is sanitized (sensitive keys redacted) by the bus before the
// event enters history or reaches subscribers; publishers should still
// avoid putting raw audio or credentials on the bus at all.
type Event struct {
	// ID uniquely identifies this event. Assigned by the bus if empty.
	ID string `json:"id"`

	// Type categorizes the event.
	Type Type `json:"type"`

	// Timestamp is when the event was published. Assigned by the bus
	// if zero.
	Timestamp time.Time `json:"timestamp"`

	// Source identifies the publishing component.
	Source string `json:"source"`

	// Target optionally identifies the intended consumer.
	Target string `json:"target,omitempty"`

	// UserID optionally scopes the event to a user.
	UserID string `json:"user_id,omitempty"`

	// SessionID optionally scopes the event to a session.
	SessionID string `json:"session_id,omitempty"`

	// Priority indicates event importance.
	Priority Priority `json:"priority"`

	// Payload carries event-specific data.
	Payload map[string]any `json:"payload,omitempty"`
}

// HistoryFilter selects events from the bus history.
//
// Zero-value fields match everything.
type HistoryFilter struct {
	Type      Type
	Source    string
	UserID    string
	SessionID string
	Since     time.Time
}

// matches reports whether an event passes the filter.
func (f HistoryFilter) matches(ev Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && !ev.Timestamp.After(f.Since) {
		return false
	}
	return true
}
