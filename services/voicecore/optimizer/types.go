// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimizer implements the performance optimizer: priority
// request queues, a size-bounded model cache with eviction, a discrete
// graceful-degradation ladder, and targeted optimization strategies.
//
// The optimizer exclusively owns queue, cache, and degradation state.
// It reacts to resource-alert and optimization-trigger events from the
// resource monitor and steps quality back up when pressure subsides.
package optimizer

import (
	"errors"
	"time"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
)

// Sentinel errors for optimizer operations.
var (
	// ErrInvalidLevel is returned for degradation levels outside
	// 0..MaxLevel. Levels are never clamped silently.
	ErrInvalidLevel = errors.New("invalid degradation level")

	// ErrUnknownStrategy is returned for unrecognized strategy ids.
	ErrUnknownStrategy = errors.New("unknown optimization strategy")

	// ErrActionNotFound is returned when reverting an unknown action.
	ErrActionNotFound = errors.New("optimization action not found")

	// ErrNotReversible is returned when reverting an irreversible action.
	ErrNotReversible = errors.New("optimization action is not reversible")

	// ErrUnknownQueue is returned for unrecognized queue ids.
	ErrUnknownQueue = errors.New("unknown processing queue")

	// ErrThrottled is returned by ProcessNextRequest while a
	// queue-throttle action limits the dequeue rate.
	ErrThrottled = errors.New("queue is throttled")

	// ErrModelTooLarge is returned when a model exceeds total cache
	// capacity and could never be loaded.
	ErrModelTooLarge = errors.New("model exceeds cache capacity")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("optimizer already running")
)

// Request is a queued processing request.
type Request struct {
	// ID uniquely identifies the request. Assigned on queueing if empty.
	ID string `json:"id"`

	// Type is the request category ("speech-recognition",
	// "intent-classification", "response-generation", "tts"). It selects
	// the target queue: "<type>-queue".
	Type string `json:"type"`

	// Priority orders dequeueing: critical > high > medium > low,
	// FIFO within a tier.
	Priority events.Priority `json:"priority"`

	// UserID optionally attributes the request to a user.
	UserID string `json:"user_id,omitempty"`

	// Timestamp is when the request was queued. Assigned on queueing.
	Timestamp time.Time `json:"timestamp"`

	// Timeout bounds how long the request may wait; expired requests
	// are dropped at dequeue. Zero means no timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Payload carries request-specific data.
	Payload map[string]any `json:"payload,omitempty"`

	// RetryCount and MaxRetries track re-queueing by the caller.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// QueueConfig configures one processing queue.
type QueueConfig struct {
	// ID is the queue identifier ("speech-recognition-queue").
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable label.
	Name string `yaml:"name" json:"name"`

	// MaxSize bounds queue length; insertion at capacity evicts the
	// oldest low-priority entry, else the oldest entry overall.
	MaxSize int `yaml:"max_size" json:"max_size"`

	// ProcessingRateHint is the expected sustainable dequeue rate per
	// second, used when a throttle action has no explicit rate.
	ProcessingRateHint float64 `yaml:"processing_rate_hint" json:"processing_rate_hint"`
}

// DefaultQueues returns the voice core's standard queue set.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{ID: "speech-recognition-queue", Name: "Speech Recognition", MaxSize: 32, ProcessingRateHint: 8},
		{ID: "intent-classification-queue", Name: "Intent Classification", MaxSize: 32, ProcessingRateHint: 16},
		{ID: "response-generation-queue", Name: "Response Generation", MaxSize: 16, ProcessingRateHint: 4},
		{ID: "tts-queue", Name: "Speech Synthesis", MaxSize: 16, ProcessingRateHint: 4},
	}
}

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Depth            int     `json:"depth"`
	MaxSize          int     `json:"max_size"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	Throttled        bool    `json:"throttled"`
	Evictions        int64   `json:"evictions"`
}

// CacheEntry describes one model resident in the cache.
type CacheEntry struct {
	ModelID      string          `json:"model_id"`
	ModelType    string          `json:"model_type"`
	SizeBytes    int64           `json:"size_bytes"`
	LastAccessed time.Time       `json:"last_accessed"`
	AccessCount  int64           `json:"access_count"`
	LoadTimeMs   int64           `json:"load_time_ms"`
	IsLoaded     bool            `json:"is_loaded"`
	Priority     events.Priority `json:"priority"`
}

// CacheStats summarizes cache state.
type CacheStats struct {
	Entries       int   `json:"entries"`
	ResidentBytes int64 `json:"resident_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
}

// SafetyLevel describes how content-safety processing behaves at a
// degradation level. Content-safety validation itself is never bypassed
// at any level; "reduced" only relaxes audio/processing quality around
// it.
type SafetyLevel string

const (
	// SafetyMaintained means full safety processing quality.
	SafetyMaintained SafetyLevel = "maintained"

	// SafetyReduced means safety processing runs with reduced
	// surrounding quality but unchanged strictness.
	SafetyReduced SafetyLevel = "reduced"

	// SafetyMinimal exists only on the theoretical ladder tail and is
	// never reachable: MaxLevel is validated to stay below it.
	SafetyMinimal SafetyLevel = "minimal"
)

// DegradationSetting maps one ladder level to its quality targets.
type DegradationSetting struct {
	Level                     int         `json:"level"`
	Name                      string      `json:"name"`
	AudioQuality              string      `json:"audio_quality"`
	ProcessingSpeedMultiplier float64     `json:"processing_speed_multiplier"`
	ModelComplexity           string      `json:"model_complexity"`
	CacheSizeFraction         float64     `json:"cache_size_fraction"`
	SafetyLevel               SafetyLevel `json:"safety_level"`
}

// degradationLadder is the full theoretical ladder. The device ceiling
// (MaxLevel, default 3) is always below the last entry so the minimal
// safety tier can never be reached.
var degradationLadder = []DegradationSetting{
	{Level: 0, Name: "full", AudioQuality: "high", ProcessingSpeedMultiplier: 1.0, ModelComplexity: "full", CacheSizeFraction: 1.0, SafetyLevel: SafetyMaintained},
	{Level: 1, Name: "slight", AudioQuality: "high", ProcessingSpeedMultiplier: 0.9, ModelComplexity: "full", CacheSizeFraction: 0.8, SafetyLevel: SafetyMaintained},
	{Level: 2, Name: "moderate", AudioQuality: "medium", ProcessingSpeedMultiplier: 0.75, ModelComplexity: "reduced", CacheSizeFraction: 0.6, SafetyLevel: SafetyMaintained},
	{Level: 3, Name: "performance", AudioQuality: "low", ProcessingSpeedMultiplier: 0.5, ModelComplexity: "minimal", CacheSizeFraction: 0.4, SafetyLevel: SafetyReduced},
	{Level: 4, Name: "emergency", AudioQuality: "minimal", ProcessingSpeedMultiplier: 0.25, ModelComplexity: "minimal", CacheSizeFraction: 0.2, SafetyLevel: SafetyMinimal},
}

// TheoreticalMaxLevel is the last ladder index. Configured ceilings must
// stay strictly below it.
const TheoreticalMaxLevel = 4

// ActionType classifies optimization actions.
type ActionType string

const (
	ActionReduceQuality    ActionType = "reduce_quality"
	ActionPauseComponent   ActionType = "pause_component"
	ActionRestartComponent ActionType = "restart_component"
	ActionClearCache       ActionType = "clear_cache"
	ActionQueueThrottle    ActionType = "queue_throttle"
)

// Action is an applied optimization.
type Action struct {
	// ID uniquely identifies the action.
	ID string `json:"id"`

	// Type classifies the action.
	Type ActionType `json:"type"`

	// Target names the affected component or queue.
	Target string `json:"target,omitempty"`

	// Parameters carries strategy-specific settings.
	Parameters map[string]any `json:"parameters,omitempty"`

	// AppliedAt is when the action took effect.
	AppliedAt time.Time `json:"applied_at"`

	// Reversible marks actions that RevertOptimization can undo.
	Reversible bool `json:"reversible"`

	// AutoRevertAt, when non-zero, schedules an automatic revert swept
	// by the optimization cycle.
	AutoRevertAt time.Time `json:"auto_revert_at,omitempty"`

	// revert undoes the action's effect. Nil for irreversible actions.
	revert func()
}

// PerformanceMetrics is the optimizer's aggregate view.
type PerformanceMetrics struct {
	DegradationLevel      int                `json:"degradation_level"`
	AppliedOptimizations  int                `json:"applied_optimizations"`
	QueueDepths           map[string]int     `json:"queue_depths"`
	AverageQueueLatencyMs map[string]float64 `json:"average_queue_latency_ms"`
	RequestsQueued        int64              `json:"requests_queued"`
	RequestsProcessed     int64              `json:"requests_processed"`
	RequestsEvicted       int64              `json:"requests_evicted"`
	RequestsExpired       int64              `json:"requests_expired"`
	Cache                 CacheStats         `json:"cache"`
	PausedComponents      []string           `json:"paused_components,omitempty"`
}
