// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the hearthd configuration file.
// One YAML file carries every component's tunables; the daemon maps the
// validated sections onto component configs at wire-up.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/HearthCore/services/voicecore/optimizer"
	"github.com/AleutianAI/HearthCore/services/voicecore/pipeline"
	"github.com/AleutianAI/HearthCore/services/voicecore/resmon"
	"github.com/AleutianAI/HearthCore/services/voicecore/session"
	"github.com/AleutianAI/HearthCore/services/voicecore/telemetry"
)

// validate is the shared validator instance.
var validate = validator.New()

// Duration wraps time.Duration with YAML support for strings like
// "500ms" or "10s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	// ListenAddr is the bind address for the control API.
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// EventsConfig holds event bus tunables.
type EventsConfig struct {
	// HistorySize bounds the retained audit history.
	HistorySize int `yaml:"history_size" validate:"gte=16,lte=65536"`
}

// MonitorConfig holds resource monitor tunables.
type MonitorConfig struct {
	// SampleInterval is the sampling cadence.
	SampleInterval Duration `yaml:"sample_interval"`

	// Profile carries the alert thresholds and triggers.
	Profile resmon.Profile `yaml:"profile"`
}

// OptimizerConfig holds performance optimizer tunables.
type OptimizerConfig struct {
	// CacheCapacityMB bounds resident model size.
	CacheCapacityMB int64 `yaml:"cache_capacity_mb" validate:"gt=0"`

	// MaxDegradationLevel is the degradation ceiling. The emergency
	// level is never permitted.
	MaxDegradationLevel int `yaml:"max_degradation_level" validate:"gte=0,lte=3"`

	// CycleInterval is the optimization cycle cadence.
	CycleInterval Duration `yaml:"cycle_interval"`

	// AutoRevertAfter schedules automatic revert for strategy actions.
	AutoRevertAfter Duration `yaml:"auto_revert_after"`
}

// SessionsConfig holds session manager tunables.
type SessionsConfig struct {
	MaxConcurrent int      `yaml:"max_concurrent" validate:"gte=1,lte=64"`
	IdleTimeout   Duration `yaml:"idle_timeout"`
	MaxDuration   Duration `yaml:"max_duration"`
	SweepInterval Duration `yaml:"sweep_interval"`
	ContextWindow int      `yaml:"context_window" validate:"gte=1,lte=100"`
}

// PipelineConfig holds orchestrator tunables.
type PipelineConfig struct {
	ResponseTimeout     Duration `yaml:"response_timeout"`
	MemoryThresholdMB   float64  `yaml:"memory_threshold_mb" validate:"gte=0"`
	CPUThresholdPercent float64  `yaml:"cpu_threshold_percent" validate:"gte=0,lte=100"`
	RetryMaxAttempts    int      `yaml:"retry_max_attempts" validate:"gte=1,lte=10"`
	RetryBaseDelay      Duration `yaml:"retry_base_delay"`
}

// StorageConfig holds the session store tunables.
type StorageConfig struct {
	// Path is the on-disk store location. Ignored when InMemory.
	Path string `yaml:"path"`

	// InMemory runs the store without persistence.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites forces fsync on every write.
	SyncWrites bool `yaml:"sync_writes"`

	// SessionTTL expires persisted session records.
	SessionTTL Duration `yaml:"session_ttl"`
}

// LoggingConfig holds logger tunables.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Config is the complete hearthd configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Events    EventsConfig     `yaml:"events"`
	Monitor   MonitorConfig    `yaml:"monitor"`
	Optimizer OptimizerConfig  `yaml:"optimizer"`
	Sessions  SessionsConfig   `yaml:"sessions"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Storage   StorageConfig    `yaml:"storage"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// Default returns the configuration tuned for the target SoC.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:   ":8264",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Events: EventsConfig{
			HistorySize: 1000,
		},
		Monitor: MonitorConfig{
			SampleInterval: Duration(time.Second),
			Profile:        resmon.DefaultProfile(),
		},
		Optimizer: OptimizerConfig{
			CacheCapacityMB:     2048,
			MaxDegradationLevel: 3,
			CycleInterval:       Duration(time.Second),
			AutoRevertAfter:     Duration(30 * time.Second),
		},
		Sessions: SessionsConfig{
			MaxConcurrent: 5,
			IdleTimeout:   Duration(10 * time.Minute),
			MaxDuration:   Duration(2 * time.Hour),
			SweepInterval: Duration(30 * time.Second),
			ContextWindow: 10,
		},
		Pipeline: PipelineConfig{
			ResponseTimeout:     Duration(10 * time.Second),
			MemoryThresholdMB:   7000,
			CPUThresholdPercent: 90,
			RetryMaxAttempts:    3,
			RetryBaseDelay:      Duration(100 * time.Millisecond),
		},
		Storage: StorageConfig{
			Path:       "/var/lib/hearthd/sessions",
			SyncWrites: false,
			SessionTTL: Duration(24 * time.Hour),
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file at path, layered over defaults.
//
// A missing file is not an error: defaults apply unchanged. A present
// but invalid file is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field invariants.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	p := c.Monitor.Profile
	if p.MemoryCriticalMB <= p.MemoryWarningMB {
		return fmt.Errorf("monitor: memory_critical_mb (%.0f) must exceed memory_warning_mb (%.0f)",
			p.MemoryCriticalMB, p.MemoryWarningMB)
	}
	if p.CPUCriticalPercent <= p.CPUWarningPercent {
		return fmt.Errorf("monitor: cpu_critical_percent (%.0f) must exceed cpu_warning_percent (%.0f)",
			p.CPUCriticalPercent, p.CPUWarningPercent)
	}
	if c.Sessions.IdleTimeout.Std() <= 0 {
		return fmt.Errorf("sessions: idle_timeout must be positive")
	}
	if c.Sessions.MaxDuration.Std() < c.Sessions.IdleTimeout.Std() {
		return fmt.Errorf("sessions: max_duration must be at least idle_timeout")
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage: path is required unless in_memory is set")
	}
	return nil
}

// ============================================================================
// Component config mapping
// ============================================================================

// OptimizerConfig maps the optimizer section onto the component config.
func (c Config) OptimizerConfig() optimizer.Config {
	return optimizer.Config{
		CacheCapacityBytes: c.Optimizer.CacheCapacityMB * 1024 * 1024,
		MaxLevel:           c.Optimizer.MaxDegradationLevel,
		CycleInterval:      c.Optimizer.CycleInterval.Std(),
		Queues:             optimizer.DefaultQueues(),
		AutoRevertAfter:    c.Optimizer.AutoRevertAfter.Std(),
	}
}

// SessionConfig maps the sessions section onto the component config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		MaxConcurrentSessions: c.Sessions.MaxConcurrent,
		SessionTimeout:        c.Sessions.IdleTimeout.Std(),
		MaxSessionDuration:    c.Sessions.MaxDuration.Std(),
		SweepInterval:         c.Sessions.SweepInterval.Std(),
		ContextWindow:         c.Sessions.ContextWindow,
	}
}

// PipelineConfig maps the pipeline section onto the component config.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MemoryThresholdMB:   c.Pipeline.MemoryThresholdMB,
		CPUThresholdPercent: c.Pipeline.CPUThresholdPercent,
		ResponseTimeout:     c.Pipeline.ResponseTimeout.Std(),
		Retry: pipeline.RetryPolicy{
			MaxAttempts: c.Pipeline.RetryMaxAttempts,
			BaseDelay:   c.Pipeline.RetryBaseDelay.Std(),
		},
	}
}

// StoreConfig maps the storage section onto the session store config.
func (c Config) StoreConfig() session.StoreConfig {
	if c.Storage.InMemory {
		return session.InMemoryStoreConfig()
	}
	sc := session.DefaultStoreConfig(c.Storage.Path)
	sc.SyncWrites = c.Storage.SyncWrites
	sc.SessionTTL = c.Storage.SessionTTL.Std()
	return sc
}
