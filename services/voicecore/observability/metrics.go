// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the voice core.
//
// # Description
//
// One Metrics struct covers the five subsystems: pipeline turn counters
// and latency histograms, session gauges, optimizer queue/cache/
// degradation instrumentation, resource monitor gauges, and event bus
// error counters. Initialize once at startup via New() and hand the
// same instance to every component; components treat a nil *Metrics as
// "metrics disabled".
//
// # Integration
//
// Expose via promhttp on /metrics. Use with Prometheus + Grafana for
// dashboards and latency-budget alerting (end-to-end target <500ms).
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all voice core metrics.
const metricsNamespace = "hearth"

// Metrics holds all Prometheus instruments for the voice core.
type Metrics struct {
	// ---- Pipeline ----

	// TurnsTotal counts completed voice turns.
	// Labels: status (success, failure)
	TurnsTotal *prometheus.CounterVec

	// TurnLatencySeconds measures end-to-end turn latency.
	TurnLatencySeconds prometheus.Histogram

	// StageLatencySeconds measures per-stage latency.
	// Labels: stage (recognize, safety_in, classify, execute, respond,
	// safety_out, synthesize)
	StageLatencySeconds *prometheus.HistogramVec

	// StageErrorsTotal counts stage failures.
	// Labels: stage, code
	StageErrorsTotal *prometheus.CounterVec

	// ---- Sessions ----

	// ActiveSessions gauges currently active sessions.
	ActiveSessions prometheus.Gauge

	// SessionsCreatedTotal counts session creations.
	// Labels: resumed (true, false)
	SessionsCreatedTotal *prometheus.CounterVec

	// SessionsEndedTotal counts session terminations.
	// Labels: reason (user_request, timeout, max_duration, shutdown, error)
	SessionsEndedTotal *prometheus.CounterVec

	// SafetyViolationsTotal counts blocked inputs/outputs.
	// Labels: direction (input, output)
	SafetyViolationsTotal *prometheus.CounterVec

	// ---- Optimizer ----

	// QueueDepth gauges queued requests per queue.
	// Labels: queue
	QueueDepth *prometheus.GaugeVec

	// QueueEvictionsTotal counts overflow evictions per queue.
	// Labels: queue
	QueueEvictionsTotal *prometheus.CounterVec

	// CacheResidentBytes gauges total loaded model bytes.
	CacheResidentBytes prometheus.Gauge

	// CacheEvictionsTotal counts model cache evictions.
	CacheEvictionsTotal prometheus.Counter

	// CacheHitsTotal counts model cache hits.
	CacheHitsTotal prometheus.Counter

	// CacheMissesTotal counts model cache misses (loads).
	CacheMissesTotal prometheus.Counter

	// DegradationLevel gauges the current degradation ladder level.
	DegradationLevel prometheus.Gauge

	// OptimizationActionsTotal counts applied optimization actions.
	// Labels: type (reduce_quality, pause_component, restart_component,
	// clear_cache, queue_throttle)
	OptimizationActionsTotal *prometheus.CounterVec

	// ---- Resource monitor ----

	// ResourceMemoryMB gauges sampled system memory usage.
	ResourceMemoryMB prometheus.Gauge

	// ResourceCPUPercent gauges sampled CPU utilization.
	ResourceCPUPercent prometheus.Gauge

	// ResourceAlertsTotal counts alert transitions.
	// Labels: resource (memory, cpu, gpu), level (warning, critical, cleared)
	ResourceAlertsTotal *prometheus.CounterVec

	// MonitorErrorsTotal counts sampling/evaluation failures.
	MonitorErrorsTotal prometheus.Counter

	// ---- Event bus ----

	// SubscriberErrorsTotal counts recovered subscriber panics.
	// Labels: event_type
	SubscriberErrorsTotal *prometheus.CounterVec
}

// New creates and registers all voice core metrics.
//
// Inputs:
//
//	reg - Registry to register with. Pass prometheus.DefaultRegisterer
//	      in the daemon; a fresh registry in tests.
//
// Outputs:
//
//	*Metrics - The registered metric set. Never nil.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "turns_total",
			Help:      "Completed voice turns by status.",
		}, []string{"status"}),

		TurnLatencySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end voice turn latency.",
			// Sub-second budget; fine buckets around the 500ms target.
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.75, 1, 2, 5},
		}),

		StageLatencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Per-stage processing latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6},
		}, []string{"stage"}),

		StageErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Stage failures by stage and error code.",
		}, []string{"stage", "code"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "active_sessions",
			Help:      "Currently active user sessions.",
		}),

		SessionsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Session creations, split by resume.",
		}, []string{"resumed"}),

		SessionsEndedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Session terminations by reason.",
		}, []string{"reason"}),

		SafetyViolationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "safety",
			Name:      "violations_total",
			Help:      "Content safety blocks by direction.",
		}, []string{"direction"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "queue_depth",
			Help:      "Queued requests per processing queue.",
		}, []string{"queue"}),

		QueueEvictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "queue_evictions_total",
			Help:      "Overflow evictions per processing queue.",
		}, []string{"queue"}),

		CacheResidentBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "cache_resident_bytes",
			Help:      "Total bytes of loaded models.",
		}),

		CacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "cache_evictions_total",
			Help:      "Model cache evictions.",
		}),

		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "cache_hits_total",
			Help:      "Model cache hits.",
		}),

		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "cache_misses_total",
			Help:      "Model cache misses requiring a load.",
		}),

		DegradationLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "degradation_level",
			Help:      "Current graceful-degradation ladder level.",
		}),

		OptimizationActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "actions_total",
			Help:      "Applied optimization actions by type.",
		}, []string{"type"}),

		ResourceMemoryMB: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "resource",
			Name:      "memory_mb",
			Help:      "Sampled system memory usage in MB.",
		}),

		ResourceCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "resource",
			Name:      "cpu_percent",
			Help:      "Sampled CPU utilization percent.",
		}),

		ResourceAlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resource",
			Name:      "alerts_total",
			Help:      "Resource alert transitions by resource and level.",
		}, []string{"resource", "level"}),

		MonitorErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resource",
			Name:      "monitor_errors_total",
			Help:      "Resource sampling or evaluation failures.",
		}),

		SubscriberErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "events",
			Name:      "subscriber_errors_total",
			Help:      "Recovered event subscriber panics by event type.",
		}, []string{"event_type"}),
	}
}
