// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "sync"

// metricsAlpha weights new observations in running averages.
const metricsAlpha = 0.2

// Metrics are pipeline-wide running aggregates, updated incrementally
// after every turn rather than recomputed from history.
type Metrics struct {
	TotalInteractions int64            `json:"total_interactions"`
	Successes         int64            `json:"successes"`
	AverageLatencyMs  float64          `json:"average_latency_ms"`
	SuccessRate       float64          `json:"success_rate"`
	ErrorCounts       map[string]int64 `json:"error_counts,omitempty"`

	// Resource peaks observed at turn pre-flight checks.
	PeakMemoryMB   float64 `json:"peak_memory_mb"`
	PeakCPUPercent float64 `json:"peak_cpu_percent"`
}

// metricsTracker folds turn outcomes into the running aggregates.
//
// Thread Safety: safe for concurrent use.
type metricsTracker struct {
	mu sync.Mutex
	m  Metrics
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{m: Metrics{ErrorCounts: make(map[string]int64)}}
}

// observeTurn records one completed turn.
func (t *metricsTracker) observeTurn(latencyMs float64, success bool, code Code) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.m.TotalInteractions++
	if success {
		t.m.Successes++
	} else if code != "" {
		t.m.ErrorCounts[string(code)]++
	}

	if t.m.TotalInteractions == 1 {
		t.m.AverageLatencyMs = latencyMs
	} else {
		t.m.AverageLatencyMs = metricsAlpha*latencyMs + (1-metricsAlpha)*t.m.AverageLatencyMs
	}
	t.m.SuccessRate = float64(t.m.Successes) / float64(t.m.TotalInteractions)
}

// observeResources tracks resource peaks seen at pre-flight.
func (t *metricsTracker) observeResources(memoryMB, cpuPercent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if memoryMB > t.m.PeakMemoryMB {
		t.m.PeakMemoryMB = memoryMB
	}
	if cpuPercent > t.m.PeakCPUPercent {
		t.m.PeakCPUPercent = cpuPercent
	}
}

// snapshot returns a copy of the aggregates.
func (t *metricsTracker) snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.m
	out.ErrorCounts = make(map[string]int64, len(t.m.ErrorCounts))
	for k, v := range t.m.ErrorCounts {
		out.ErrorCounts[k] = v
	}
	return out
}
