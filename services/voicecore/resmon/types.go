// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resmon implements the resource monitor: fixed-interval sampling
// of memory/CPU/GPU usage, per-component usage tracking, two-tier
// threshold alerting with hysteresis, and optimization-trigger signaling.
//
// The monitor is the single source of truth for resource state. Samples
// and alert state are mutated only by the monitor's own tick; other
// components observe through the read API or through bus events.
package resmon

import (
	"errors"
	"time"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
)

// Sentinel errors for monitor operations.
var (
	// ErrComponentNotRegistered is returned when usage is reported for
	// an unknown component.
	ErrComponentNotRegistered = errors.New("component not registered")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("resource monitor already running")
)

// Resource identifies a monitored resource dimension.
type Resource string

const (
	ResourceMemory Resource = "memory"
	ResourceCPU    Resource = "cpu"
	ResourceGPU    Resource = "gpu"
)

// AlertLevel is the severity of an active alert.
type AlertLevel int

const (
	// AlertNone means the resource is below its warning threshold.
	AlertNone AlertLevel = iota

	// AlertWarning means the resource crossed its warning threshold.
	AlertWarning

	// AlertCritical means the resource crossed its critical threshold.
	AlertCritical
)

// String returns a human-readable alert level name.
func (l AlertLevel) String() string {
	switch l {
	case AlertNone:
		return "none"
	case AlertWarning:
		return "warning"
	case AlertCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Sample is one point-in-time resource measurement.
type Sample struct {
	// MemoryMB is used system memory in megabytes.
	MemoryMB float64 `json:"memory_mb"`

	// CPUPercent is aggregate CPU utilization, 0-100.
	CPUPercent float64 `json:"cpu_percent"`

	// GPUPercent is GPU utilization, 0-100. Zero when not sampled.
	GPUPercent float64 `json:"gpu_percent,omitempty"`

	// DiskIOPS is disk operations per second. Zero when not sampled.
	DiskIOPS float64 `json:"disk_iops,omitempty"`

	// Timestamp is when the sample was taken.
	Timestamp time.Time `json:"timestamp"`
}

// SampleFunc produces a resource sample. Injectable for tests.
type SampleFunc func() (Sample, error)

// Trigger is a configured optimization trigger.
//
// A trigger whose condition holds emits an optimization-trigger event
// every tick it continues to hold, not just on the transition; the
// optimizer deduplicates by action.
type Trigger struct {
	// Condition names the evaluated predicate:
	// "memory_above", "cpu_above", "gpu_above".
	Condition string `yaml:"condition" json:"condition"`

	// Threshold is the condition's comparison value (MB for memory,
	// percent for cpu/gpu).
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Action names the optimization strategy to request:
	// "clear_cache", "queue_throttle", "pause_component", "reduce_quality".
	Action string `yaml:"action" json:"action"`

	// Priority of the emitted event.
	Priority events.Priority `yaml:"priority" json:"priority"`
}

// holds evaluates the trigger condition against a sample.
func (t Trigger) holds(s Sample) bool {
	switch t.Condition {
	case "memory_above":
		return s.MemoryMB > t.Threshold
	case "cpu_above":
		return s.CPUPercent > t.Threshold
	case "gpu_above":
		return s.GPUPercent > t.Threshold
	default:
		return false
	}
}

// Profile is a named threshold configuration.
type Profile struct {
	// Name identifies the profile ("soc-8gb" default).
	Name string `yaml:"name" json:"name"`

	// MemoryWarningMB and MemoryCriticalMB are the two memory tiers.
	MemoryWarningMB  float64 `yaml:"memory_warning_mb" json:"memory_warning_mb"`
	MemoryCriticalMB float64 `yaml:"memory_critical_mb" json:"memory_critical_mb"`

	// CPUWarningPercent and CPUCriticalPercent are the two CPU tiers.
	CPUWarningPercent  float64 `yaml:"cpu_warning_percent" json:"cpu_warning_percent"`
	CPUCriticalPercent float64 `yaml:"cpu_critical_percent" json:"cpu_critical_percent"`

	// GPUWarningPercent and GPUCriticalPercent are optional GPU tiers.
	// Zero disables GPU alerting.
	GPUWarningPercent  float64 `yaml:"gpu_warning_percent,omitempty" json:"gpu_warning_percent,omitempty"`
	GPUCriticalPercent float64 `yaml:"gpu_critical_percent,omitempty" json:"gpu_critical_percent,omitempty"`

	// Triggers are evaluated independently of alert thresholds.
	Triggers []Trigger `yaml:"triggers" json:"triggers"`

	// AdaptiveScaling allows the optimizer to auto-recover degradation
	// when pressure subsides.
	AdaptiveScaling bool `yaml:"adaptive_scaling" json:"adaptive_scaling"`
}

// DefaultProfile returns thresholds tuned for the target 8GB/6-core SoC.
func DefaultProfile() Profile {
	return Profile{
		Name:               "soc-8gb",
		MemoryWarningMB:    6144,
		MemoryCriticalMB:   7372,
		CPUWarningPercent:  70,
		CPUCriticalPercent: 90,
		Triggers: []Trigger{
			{Condition: "memory_above", Threshold: 7000, Action: "clear_cache", Priority: events.PriorityHigh},
			{Condition: "cpu_above", Threshold: 85, Action: "queue_throttle", Priority: events.PriorityMedium},
		},
		AdaptiveScaling: true,
	}
}

// Alert is an active threshold violation.
type Alert struct {
	// Resource is the violated dimension.
	Resource Resource `json:"resource"`

	// Level is the current severity.
	Level AlertLevel `json:"level"`

	// Value is the sample value that raised or escalated the alert.
	Value float64 `json:"value"`

	// Threshold is the boundary that was crossed.
	Threshold float64 `json:"threshold"`

	// RaisedAt is when the alert entered its current level.
	RaisedAt time.Time `json:"raised_at"`
}

// ComponentUsage tracks per-component resource consumption as reported
// by the components themselves.
type ComponentUsage struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MemoryMB   float64   `json:"memory_mb"`
	CPUPercent float64   `json:"cpu_percent"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Recommendation suggests an optimization to relieve pressure.
type Recommendation struct {
	// Type names the suggested strategy: "clear_cache", "queue_throttle",
	// "pause_component", "reduce_quality".
	Type string `json:"type"`

	// Target optionally names the component to act on.
	Target string `json:"target,omitempty"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason"`

	// Priority orders recommendations.
	Priority events.Priority `json:"priority"`
}

// EventPublisher is the narrow bus surface the monitor needs.
type EventPublisher interface {
	Publish(ev events.Event)
}
