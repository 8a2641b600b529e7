// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resmon

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/history"
	"github.com/AleutianAI/HearthCore/services/voicecore/observability"
)

// Monitor samples resource usage on a fixed interval and raises alerts
// against a two-tier threshold profile with hysteresis.
//
// # Description
//
// Each tick: take a sample, append it to a bounded rolling window,
// evaluate warning/critical thresholds per resource, and evaluate the
// profile's optimization triggers. Alert transitions and trigger firings
// are published on the event bus. Sampling errors are reported as
// monitoring-error events without stopping the loop.
//
// Hysteresis: an alert raised at warning or critical is only cleared
// once the value drops back below the warning threshold. A critical
// alert whose value falls between the two thresholds stays critical
// rather than flapping.
//
// # Thread Safety
//
// Safe for concurrent use. Samples and alert state are mutated only by
// Tick, which the run loop serializes.
type Monitor struct {
	profile   Profile
	interval  time.Duration
	sampleFn  SampleFunc
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu         sync.RWMutex
	window     *history.RingBuffer[Sample]
	components map[string]*ComponentUsage
	alerts     map[Resource]*Alert
	lastSample Sample
	haveSample bool
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the sampling interval (default 1s).
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSampleFunc overrides the platform sampler. Tests inject
// deterministic samples through this.
func WithSampleFunc(fn SampleFunc) Option {
	return func(m *Monitor) {
		m.sampleFn = fn
	}
}

// WithPublisher sets the event bus surface for alert/trigger signaling.
func WithPublisher(p EventPublisher) Option {
	return func(m *Monitor) {
		m.publisher = p
	}
}

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMetrics attaches prometheus metrics (may be nil).
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithWindow sets the rolling sample window duration (default 5m).
// Window capacity is derived from the sampling interval.
func WithWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d <= 0 {
			return
		}
		capacity := int(d / m.interval)
		if capacity < 1 {
			capacity = 1
		}
		m.window = history.NewRingBuffer[Sample](capacity)
	}
}

// New creates a resource monitor for the given profile.
//
// Outputs:
//
//	*Monitor - Ready to Start. Never nil.
func New(profile Profile, opts ...Option) *Monitor {
	m := &Monitor{
		profile:    profile,
		interval:   time.Second,
		logger:     slog.Default(),
		components: make(map[string]*ComponentUsage),
		alerts:     make(map[Resource]*Alert),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sampleFn == nil {
		sampler := newSystemSampler()
		m.sampleFn = sampler.Sample
	}
	if m.window == nil {
		// 5 minutes at the configured interval.
		capacity := int(5 * time.Minute / m.interval)
		if capacity < 1 {
			capacity = 1
		}
		m.window = history.NewRingBuffer[Sample](capacity)
	}
	m.logger = m.logger.With(slog.String("subsystem", "resource_monitor"))
	return m
}

// Start begins the sampling loop.
//
// Outputs:
//
//	error - ErrAlreadyRunning if the monitor is already started.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("resource monitor started",
		slog.Duration("interval", m.interval),
		slog.String("profile", m.profile.Name),
	)
	return nil
}

// Stop halts the sampling loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("resource monitor stopped")
}

// run is the sampling loop.
func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick performs one sampling and evaluation cycle.
//
// # Description
//
// Exported so tests (and the optimizer's deterministic-cycle tests) can
// drive the monitor without wall-clock timers. Safe to call while the
// loop runs, though normal operation relies on the internal ticker only.
func (m *Monitor) Tick() {
	sample, err := m.sampleFn()
	if err != nil {
		m.logger.Error("resource sampling failed", slog.Any("error", err))
		if m.metrics != nil {
			m.metrics.MonitorErrorsTotal.Inc()
		}
		m.publish(events.Event{
			Type:     events.TypeMonitoringError,
			Source:   "resource_monitor",
			Priority: events.PriorityMedium,
			Payload:  map[string]any{"error": err.Error()},
		})
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.window.Push(sample)
	m.lastSample = sample
	m.haveSample = true
	transitions := m.evaluateAlertsLocked(sample)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ResourceMemoryMB.Set(sample.MemoryMB)
		m.metrics.ResourceCPUPercent.Set(sample.CPUPercent)
	}

	for _, ev := range transitions {
		m.publish(ev)
	}

	for _, trigger := range m.profile.Triggers {
		if !trigger.holds(sample) {
			continue
		}
		m.publish(events.Event{
			Type:     events.TypeOptimizationTrigger,
			Source:   "resource_monitor",
			Priority: trigger.Priority,
			Payload: map[string]any{
				"condition":   trigger.Condition,
				"threshold":   trigger.Threshold,
				"action":      trigger.Action,
				"memory_mb":   sample.MemoryMB,
				"cpu_percent": sample.CPUPercent,
			},
		})
	}
}

// evaluateAlertsLocked applies the hysteresis state machine to every
// resource and returns the alert events to publish. Caller holds mu.
func (m *Monitor) evaluateAlertsLocked(sample Sample) []events.Event {
	var out []events.Event

	out = append(out, m.evaluateResourceLocked(
		ResourceMemory, sample.MemoryMB,
		m.profile.MemoryWarningMB, m.profile.MemoryCriticalMB, sample.Timestamp)...)
	out = append(out, m.evaluateResourceLocked(
		ResourceCPU, sample.CPUPercent,
		m.profile.CPUWarningPercent, m.profile.CPUCriticalPercent, sample.Timestamp)...)

	if m.profile.GPUWarningPercent > 0 {
		out = append(out, m.evaluateResourceLocked(
			ResourceGPU, sample.GPUPercent,
			m.profile.GPUWarningPercent, m.profile.GPUCriticalPercent, sample.Timestamp)...)
	}

	return out
}

// evaluateResourceLocked transitions a single resource's alert state.
//
// Transitions:
//
//	none     -> warning | critical  (crossing the respective threshold)
//	warning  -> critical            (crossing critical)
//	warning  -> none                (dropping below warning)
//	critical -> none                (dropping below warning; never a
//	                                 silent downgrade between the tiers)
func (m *Monitor) evaluateResourceLocked(res Resource, value, warning, critical float64, ts time.Time) []events.Event {
	if warning <= 0 {
		return nil
	}

	current := AlertNone
	if alert, ok := m.alerts[res]; ok {
		current = alert.Level
	}

	next := current
	threshold := warning
	switch {
	case critical > 0 && value >= critical:
		next = AlertCritical
		threshold = critical
	case value >= warning:
		// Hysteresis: a critical alert whose value sits between the
		// tiers stays critical.
		if current != AlertCritical {
			next = AlertWarning
		}
	default:
		next = AlertNone
	}

	if next == current {
		return nil
	}

	var out []events.Event
	if next == AlertNone {
		delete(m.alerts, res)
		out = append(out, events.Event{
			Type:     events.TypeResourceAlertCleared,
			Source:   "resource_monitor",
			Priority: events.PriorityMedium,
			Payload: map[string]any{
				"resource": string(res),
				"value":    value,
				"previous": current.String(),
			},
		})
		if m.metrics != nil {
			m.metrics.ResourceAlertsTotal.WithLabelValues(string(res), "cleared").Inc()
		}
		m.logger.Info("resource alert cleared",
			slog.String("resource", string(res)),
			slog.Float64("value", value),
		)
		return out
	}

	m.alerts[res] = &Alert{
		Resource:  res,
		Level:     next,
		Value:     value,
		Threshold: threshold,
		RaisedAt:  ts,
	}

	priority := events.PriorityHigh
	if next == AlertCritical {
		priority = events.PriorityCritical
	}
	out = append(out, events.Event{
		Type:     events.TypeResourceAlert,
		Source:   "resource_monitor",
		Priority: priority,
		Payload: map[string]any{
			"resource":  string(res),
			"level":     next.String(),
			"value":     value,
			"threshold": threshold,
		},
	})
	if m.metrics != nil {
		m.metrics.ResourceAlertsTotal.WithLabelValues(string(res), next.String()).Inc()
	}
	m.logger.Warn("resource alert",
		slog.String("resource", string(res)),
		slog.String("level", next.String()),
		slog.Float64("value", value),
		slog.Float64("threshold", threshold),
	)
	return out
}

// publish sends an event if a publisher is configured.
func (m *Monitor) publish(ev events.Event) {
	if m.publisher != nil {
		m.publisher.Publish(ev)
	}
}

// Current returns the most recent sample. If no tick has run yet, a
// sample is taken synchronously.
func (m *Monitor) Current() Sample {
	m.mu.RLock()
	if m.haveSample {
		s := m.lastSample
		m.mu.RUnlock()
		return s
	}
	m.mu.RUnlock()

	sample, err := m.sampleFn()
	if err != nil {
		return Sample{Timestamp: time.Now()}
	}
	return sample
}

// History returns samples from the last N minutes, oldest first.
// minutes <= 0 returns the whole retained window.
func (m *Monitor) History(minutes int) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.window.Items()
	if minutes <= 0 {
		return items
	}

	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	var out []Sample
	for _, s := range items {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// RegisterComponent registers a component for usage tracking.
func (m *Monitor) RegisterComponent(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.components[id]; ok {
		return
	}
	m.components[id] = &ComponentUsage{ID: id, Name: name}
}

// UpdateComponentUsage records a component's self-reported usage.
//
// Outputs:
//
//	error - ErrComponentNotRegistered for unknown ids.
func (m *Monitor) UpdateComponentUsage(id string, memoryMB, cpuPercent float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage, ok := m.components[id]
	if !ok {
		return ErrComponentNotRegistered
	}
	usage.MemoryMB = memoryMB
	usage.CPUPercent = cpuPercent
	usage.UpdatedAt = time.Now()
	return nil
}

// Components returns a snapshot of per-component usage.
func (m *Monitor) Components() []ComponentUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ComponentUsage, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsUnderPressure reports whether any tracked metric currently exceeds
// its warning threshold.
func (m *Monitor) IsUnderPressure() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.haveSample {
		return false
	}
	s := m.lastSample
	if m.profile.MemoryWarningMB > 0 && s.MemoryMB >= m.profile.MemoryWarningMB {
		return true
	}
	if m.profile.CPUWarningPercent > 0 && s.CPUPercent >= m.profile.CPUWarningPercent {
		return true
	}
	if m.profile.GPUWarningPercent > 0 && s.GPUPercent >= m.profile.GPUWarningPercent {
		return true
	}
	return false
}

// ActiveAlerts returns a snapshot of current alerts.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// Profile returns the active threshold profile.
func (m *Monitor) Profile() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// SetProfile replaces the threshold profile. Used by config hot reload;
// existing alert state is re-evaluated on the next tick.
func (m *Monitor) SetProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
}

// Recommendations suggests optimizations based on active alerts and
// per-component usage.
func (m *Monitor) Recommendations() []Recommendation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Recommendation
	for _, alert := range m.alerts {
		switch alert.Resource {
		case ResourceMemory:
			if alert.Level == AlertCritical {
				out = append(out, Recommendation{
					Type:     "reduce_quality",
					Reason:   "memory critically constrained",
					Priority: events.PriorityCritical,
				})
			}
			out = append(out, Recommendation{
				Type:     "clear_cache",
				Reason:   "memory above warning threshold",
				Priority: events.PriorityHigh,
			})
		case ResourceCPU:
			if alert.Level == AlertCritical {
				out = append(out, Recommendation{
					Type:     "pause_component",
					Target:   m.topCPUComponentLocked(),
					Reason:   "cpu critically constrained",
					Priority: events.PriorityCritical,
				})
			}
			out = append(out, Recommendation{
				Type:     "queue_throttle",
				Reason:   "cpu above warning threshold",
				Priority: events.PriorityMedium,
			})
		case ResourceGPU:
			out = append(out, Recommendation{
				Type:     "reduce_quality",
				Reason:   "gpu above warning threshold",
				Priority: events.PriorityHigh,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// topCPUComponentLocked returns the id of the heaviest CPU consumer, or
// empty if no component has reported usage. Caller holds mu.
func (m *Monitor) topCPUComponentLocked() string {
	var top string
	var topCPU float64
	for id, c := range m.components {
		if c.CPUPercent > topCPU {
			top = id
			topCPU = c.CPUPercent
		}
	}
	return top
}
