// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline sequences the voice-turn stages: wake word, speech
// recognition, safety validation, intent classification, command
// execution, response generation, and synthesis. It composes the event
// bus, resource monitor, optimizer, and session manager; the model
// engines themselves are external collaborators.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/observability"
	"github.com/AleutianAI/HearthCore/services/voicecore/optimizer"
	"github.com/AleutianAI/HearthCore/services/voicecore/resmon"
	"github.com/AleutianAI/HearthCore/services/voicecore/session"
)

var tracer = otel.Tracer("hearth.pipeline")

// Stage identifies a point in the turn state machine. Stages are
// ordered; Status reports the most advanced stage across live turns.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageListening    Stage = "listening"
	StageRecognizing  Stage = "recognizing"
	StageSafetyInput  Stage = "safety_input"
	StageClassifying  Stage = "classifying"
	StageExecuting    Stage = "executing"
	StageResponding   Stage = "responding"
	StageSafetyOutput Stage = "safety_output"
	StageSynthesizing Stage = "synthesizing"
)

var stageRank = map[Stage]int{
	StageIdle:         0,
	StageListening:    1,
	StageRecognizing:  2,
	StageSafetyInput:  3,
	StageClassifying:  4,
	StageExecuting:    5,
	StageResponding:   6,
	StageSafetyOutput: 7,
	StageSynthesizing: 8,
}

// ResourceReader is the monitor surface the orchestrator consults at
// turn pre-flight.
type ResourceReader interface {
	Current() resmon.Sample
}

// QualityProvider supplies the active degradation settings used to
// shape synthesis quality.
type QualityProvider interface {
	CurrentSettings() optimizer.DegradationSetting
}

// Config holds orchestrator tunables.
type Config struct {
	// MemoryThresholdMB rejects turns at pre-flight above this usage.
	MemoryThresholdMB float64 `yaml:"memory_threshold_mb" json:"memory_threshold_mb"`

	// CPUThresholdPercent rejects turns at pre-flight above this usage.
	CPUThresholdPercent float64 `yaml:"cpu_threshold_percent" json:"cpu_threshold_percent"`

	// ResponseTimeout bounds a whole turn end to end.
	ResponseTimeout time.Duration `yaml:"response_timeout" json:"response_timeout"`

	// Retry is the stage retry policy.
	Retry RetryPolicy `yaml:"retry" json:"retry"`
}

// DefaultConfig returns orchestrator defaults for the target SoC.
func DefaultConfig() Config {
	return Config{
		MemoryThresholdMB:   7000,
		CPUThresholdPercent: 90,
		ResponseTimeout:     10 * time.Second,
		Retry:               DefaultRetryPolicy(),
	}
}

// Status is the operator-facing pipeline snapshot.
type Status struct {
	IsActive      bool          `json:"is_active"`
	CurrentStage  Stage         `json:"current_stage"`
	ActiveUsers   int           `json:"active_users"`
	ResourceUsage resmon.Sample `json:"resource_usage"`
	LastActivity  time.Time     `json:"last_activity"`
}

// TurnResult is the outcome of one processed voice turn.
type TurnResult struct {
	TurnID       string        `json:"turn_id"`
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	ResponseText string        `json:"response_text"`
	Audio        []byte        `json:"-"`
	UsedFallback bool          `json:"used_fallback"`
	TextOnly     bool          `json:"text_only"`
	Latency      time.Duration `json:"latency"`
}

// Orchestrator drives the turn state machine.
//
// # Description
//
// ProcessVoiceInput runs the full stage sequence with pre-flight
// resource and session checks, per-stage retry with exponential
// backoff, output-safety fallback substitution, and non-fatal synthesis
// failure. Every stage boundary publishes a bus event and opens an OTel
// child span; running metrics update after every turn regardless of
// outcome.
//
// # Thread Safety
//
// Safe for concurrent use; turns for different sessions may be in
// flight concurrently.
type Orchestrator struct {
	cfg      Config
	engines  Engines
	sessions *session.Manager
	monitor  ResourceReader
	quality  QualityProvider
	bus      *events.Bus
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracker  *metricsTracker

	mu           sync.Mutex
	active       bool
	liveTurns    map[string]Stage
	lastActivity time.Time
	wakeCancel   context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMonitor attaches the resource monitor surface.
func WithMonitor(m ResourceReader) Option {
	return func(o *Orchestrator) {
		o.monitor = m
	}
}

// WithQualityProvider attaches the degradation settings source.
func WithQualityProvider(q QualityProvider) Option {
	return func(o *Orchestrator) {
		o.quality = q
	}
}

// WithBus attaches the event bus.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics attaches prometheus metrics (may be nil).
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// New creates a pipeline orchestrator.
func New(cfg Config, engines Engines, sessions *session.Manager, opts ...Option) (*Orchestrator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if engines.Recognizer == nil || engines.Classifier == nil || engines.Router == nil ||
		engines.Generator == nil || engines.Safety == nil {
		return nil, fmt.Errorf("recognizer, classifier, router, generator, and safety engines are required")
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}

	o := &Orchestrator{
		cfg:       cfg,
		engines:   engines,
		sessions:  sessions,
		logger:    slog.Default(),
		tracker:   newMetricsTracker(),
		liveTurns: make(map[string]Stage),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("subsystem", "pipeline"))
	return o, nil
}

// Start activates the pipeline and begins wake-word listening.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return errPipelineAlreadyActive()
	}
	o.active = true
	o.lastActivity = time.Now()

	var wakeCtx context.Context
	if o.engines.WakeWord != nil {
		wakeCtx, o.wakeCancel = context.WithCancel(ctx)
	}
	o.mu.Unlock()

	if o.engines.WakeWord != nil {
		err := o.engines.WakeWord.StartListening(wakeCtx, func(d WakeWordDetection) {
			o.publish(events.Event{
				Type:     events.TypeWakeWordDetected,
				Source:   "pipeline",
				Priority: events.PriorityHigh,
				Payload: map[string]any{
					"phrase":     d.Phrase,
					"confidence": d.Confidence,
				},
			})
		})
		if err != nil {
			o.mu.Lock()
			o.active = false
			o.mu.Unlock()
			return fmt.Errorf("start wake-word listening: %w", err)
		}
	}

	o.logger.Info("pipeline started",
		slog.Duration("response_timeout", o.cfg.ResponseTimeout))
	return nil
}

// Stop deactivates the pipeline and stops wake-word listening.
// Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.active = false
	cancel := o.wakeCancel
	o.wakeCancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if o.engines.WakeWord != nil {
		if err := o.engines.WakeWord.StopListening(); err != nil {
			o.logger.Warn("stop wake-word listening", slog.Any("error", err))
		}
	}
	o.logger.Info("pipeline stopped")
}

// Status reports the operator-facing snapshot. CurrentStage is the most
// advanced stage across all live turns.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		IsActive:     o.active,
		CurrentStage: StageIdle,
		LastActivity: o.lastActivity,
	}
	if o.active {
		st.CurrentStage = StageListening
	}
	for _, stage := range o.liveTurns {
		if stageRank[stage] > stageRank[st.CurrentStage] {
			st.CurrentStage = stage
		}
	}
	o.mu.Unlock()

	st.ActiveUsers = o.sessions.Statistics().ActiveSessions
	if o.monitor != nil {
		st.ResourceUsage = o.monitor.Current()
	}
	return st
}

// Metrics returns the pipeline-wide running aggregates.
func (o *Orchestrator) Metrics() Metrics {
	return o.tracker.snapshot()
}

// EndSession terminates a session through the session manager.
func (o *Orchestrator) EndSession(sessionID, reason string) error {
	return o.sessions.EndSession(sessionID, reason)
}

// ProcessVoiceInput runs one full voice turn.
//
// # Inputs
//
//   - audio: The captured utterance.
//   - userID: Known speaker, or empty to trigger identification.
//
// # Outputs
//
//	*TurnResult - Response text/audio for a completed turn.
//	error - A *Error classifying the failure. Terminal failures
//	        best-effort speak the error's user message first.
func (o *Orchestrator) ProcessVoiceInput(ctx context.Context, audio []byte, userID string) (*TurnResult, error) {
	start := time.Now()
	turnID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ResponseTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.Turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
		),
	)
	defer span.End()

	result, err := o.runTurn(ctx, turnID, audio, userID, start)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		if _, ok := AsError(err); !ok {
			err = errTimeout("", err)
		}
	}

	latency := time.Since(start)
	success := err == nil
	var code Code
	if pe, ok := AsError(err); ok {
		code = pe.Code
	}
	o.tracker.observeTurn(float64(latency.Milliseconds()), success, code)
	if o.metrics != nil {
		status := "success"
		if !success {
			status = "failure"
		}
		o.metrics.TurnsTotal.WithLabelValues(status).Inc()
		o.metrics.TurnLatencySeconds.Observe(latency.Seconds())
	}

	o.mu.Lock()
	delete(o.liveTurns, turnID)
	o.lastActivity = time.Now()
	o.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		o.publish(events.Event{
			Type:     events.TypeTurnFailed,
			Source:   "pipeline",
			UserID:   userID,
			Priority: events.PriorityMedium,
			Payload: map[string]any{
				"turn_id":    turnID,
				"code":       string(code),
				"latency_ms": latency.Milliseconds(),
			},
		})
		o.speakFailure(ctx, err)
		return nil, err
	}

	result.Latency = latency
	o.publish(events.Event{
		Type:      events.TypeTurnCompleted,
		Source:    "pipeline",
		UserID:    result.UserID,
		SessionID: result.SessionID,
		Priority:  events.PriorityLow,
		Payload: map[string]any{
			"turn_id":       turnID,
			"latency_ms":    latency.Milliseconds(),
			"used_fallback": result.UsedFallback,
			"text_only":     result.TextOnly,
		},
	})
	return result, nil
}

// runTurn executes the stage sequence. Step numbering follows the turn
// algorithm; every step short-circuits on failure.
func (o *Orchestrator) runTurn(ctx context.Context, turnID string, audio []byte, userID string, start time.Time) (*TurnResult, error) {
	// Step 1: reject when inactive.
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return nil, errPipelineNotActive()
	}
	o.liveTurns[turnID] = StageListening
	o.mu.Unlock()

	// Step 2: resource pre-flight.
	if o.monitor != nil {
		sample := o.monitor.Current()
		o.tracker.observeResources(sample.MemoryMB, sample.CPUPercent)
		if (o.cfg.MemoryThresholdMB > 0 && sample.MemoryMB > o.cfg.MemoryThresholdMB) ||
			(o.cfg.CPUThresholdPercent > 0 && sample.CPUPercent > o.cfg.CPUThresholdPercent) {
			return nil, errResourceExhaustion(fmt.Errorf(
				"memory %.0fMB cpu %.1f%%", sample.MemoryMB, sample.CPUPercent))
		}
	}

	// Step 3: acquire or create the session.
	if userID == "" {
		id := o.sessions.IdentifyUser(audio, nil)
		userID = id.UserID
	}
	sess, err := o.sessions.CreateOrResumeSession(userID, session.CreateOptions{Resume: true})
	if err != nil {
		return nil, mapSessionError(err)
	}

	// From here on the session's running metrics count the turn whether
	// it succeeds or not. Step 11 flips turnRecorded on the success path.
	turnRecorded := false
	var userText string
	defer func() {
		if turnRecorded {
			return
		}
		o.recordTurn(sess.SessionID, session.Turn{
			UserText:  userText,
			LatencyMs: time.Since(start).Milliseconds(),
			Success:   false,
		})
	}()

	// Step 4: speech recognition.
	recognition, err := runStage(ctx, o, turnID, sess, StageRecognizing,
		func(ctx context.Context) (*RecognitionResult, error) {
			r, err := o.engines.Recognizer.Recognize(ctx, audio, userID)
			if err != nil {
				return nil, errSpeechRecognition(err)
			}
			return r, nil
		})
	if err != nil {
		return nil, err
	}
	userText = recognition.Text

	// Step 5: input safety. Fails closed: an unavailable filter blocks
	// the turn like a violation would.
	_, err = runStage(ctx, o, turnID, sess, StageSafetyInput,
		func(ctx context.Context) (*InputSafetyResult, error) {
			verdict, err := o.engines.Safety.ValidateInput(ctx, recognition.Text, userID)
			if err != nil {
				return nil, errSafetyViolation(StageSafetyInput, []string{"filter unavailable"})
			}
			if !verdict.IsAllowed {
				return nil, errSafetyViolation(StageSafetyInput, verdict.BlockedReasons)
			}
			return verdict, nil
		})
	if err != nil {
		o.auditSafetyViolation(sess, "input", err)
		return nil, err
	}

	// Step 6: intent classification with conversation context.
	intent, err := runStage(ctx, o, turnID, sess, StageClassifying,
		func(ctx context.Context) (*IntentResult, error) {
			r, err := o.engines.Classifier.ClassifyIntent(ctx, recognition.Text, conversationContext(sess))
			if err != nil {
				return nil, errIntentClassification(err)
			}
			return r, nil
		})
	if err != nil {
		return nil, err
	}

	// Step 7: command execution.
	command, err := runStage(ctx, o, turnID, sess, StageExecuting,
		func(ctx context.Context) (*CommandResult, error) {
			r, err := o.engines.Router.RouteCommand(ctx, intent, userID)
			if err != nil {
				return nil, errCommandExecution(err)
			}
			return r, nil
		})
	if err != nil {
		return nil, err
	}

	// Step 8: response generation.
	responseText, err := runStage(ctx, o, turnID, sess, StageResponding,
		func(ctx context.Context) (string, error) {
			text, err := o.engines.Generator.GenerateResponse(ctx, command, ResponseContext{
				UserID:   userID,
				AgeGroup: string(sess.Profile.AgeGroup),
				Language: sess.Profile.Preferences.Language,
			})
			if err != nil {
				return "", errResponseGeneration(err)
			}
			return text, nil
		})
	if err != nil {
		return nil, err
	}

	// Step 9: output safety. A blocked response is replaced with a safe
	// fallback phrase; the turn still succeeds.
	usedFallback := false
	verdict, stageErr := runStage(ctx, o, turnID, sess, StageSafetyOutput,
		func(ctx context.Context) (*OutputSafetyResult, error) {
			return o.engines.Safety.ValidateOutput(ctx, responseText, userID)
		})
	switch {
	case stageErr != nil:
		responseText = fallbackPhrase(turnID)
		usedFallback = true
	case !verdict.IsAllowed:
		if verdict.SanitizedText != "" {
			responseText = verdict.SanitizedText
		} else {
			responseText = fallbackPhrase(turnID)
		}
		usedFallback = true
		o.auditSafetyViolation(sess, "output", nil)
	}

	// Step 10: synthesis. Failure is non-fatal; the user gets text only.
	textOnly := false
	var responseAudio []byte
	if o.engines.Synthesizer != nil {
		responseAudio, err = runStage(ctx, o, turnID, sess, StageSynthesizing,
			func(ctx context.Context) ([]byte, error) {
				return o.engines.Synthesizer.Synthesize(ctx, responseText, o.synthesisOptions(sess))
			})
		if err != nil {
			textOnly = true
			responseAudio = nil
			o.publish(events.Event{
				Type:      events.TypeTTSError,
				Source:    "pipeline",
				UserID:    userID,
				SessionID: sess.SessionID,
				Priority:  events.PriorityMedium,
				Payload:   map[string]any{"turn_id": turnID, "error": err.Error()},
			})
		}
	} else {
		textOnly = true
	}

	// Step 11: record the turn on the session.
	turnRecorded = true
	o.recordTurn(sess.SessionID, session.Turn{
		Intent:    intent.Intent,
		UserText:  recognition.Text,
		Response:  responseText,
		LatencyMs: time.Since(start).Milliseconds(),
		Success:   true,
	})

	return &TurnResult{
		TurnID:       turnID,
		SessionID:    sess.SessionID,
		UserID:       userID,
		ResponseText: responseText,
		Audio:        responseAudio,
		UsedFallback: usedFallback,
		TextOnly:     textOnly,
	}, nil
}

// runStage executes one stage with retry, tracing, timing events, and
// live-turn stage tracking.
func runStage[T any](ctx context.Context, o *Orchestrator, turnID string, sess session.State, stage Stage, fn func(ctx context.Context) (T, error)) (T, error) {
	o.mu.Lock()
	o.liveTurns[turnID] = stage
	o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "pipeline."+string(stage),
		trace.WithAttributes(attribute.String("turn.id", turnID)),
	)
	defer span.End()

	o.publish(events.Event{
		Type:      events.TypeStageStarted,
		Source:    "pipeline",
		SessionID: sess.SessionID,
		Priority:  events.PriorityLow,
		Payload:   map[string]any{"turn_id": turnID, "stage": string(stage)},
	})

	start := time.Now()
	out, err := withRetry(ctx, o.cfg.Retry, fn)
	elapsed := time.Since(start)

	if o.metrics != nil {
		o.metrics.StageLatencySeconds.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		var code Code
		if pe, ok := AsError(err); ok {
			code = pe.Code
		}
		if o.metrics != nil {
			o.metrics.StageErrorsTotal.WithLabelValues(string(stage), string(code)).Inc()
		}
		var zero T
		return zero, err
	}

	o.publish(events.Event{
		Type:      events.TypeStageCompleted,
		Source:    "pipeline",
		SessionID: sess.SessionID,
		Priority:  events.PriorityLow,
		Payload: map[string]any{
			"turn_id":     turnID,
			"stage":       string(stage),
			"duration_ms": elapsed.Milliseconds(),
		},
	})
	return out, nil
}

// recordTurn writes a turn onto the session's running metrics. Failures
// here never fail the turn itself.
func (o *Orchestrator) recordTurn(sessionID string, turn session.Turn) {
	if err := o.sessions.RecordTurn(sessionID, turn); err != nil {
		o.logger.Warn("record turn failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}

// auditSafetyViolation bumps the session counter and publishes a
// high-priority audit event. Content never rides along; the payload
// carries direction and session identity only.
func (o *Orchestrator) auditSafetyViolation(sess session.State, direction string, cause error) {
	if err := o.sessions.IncrementSafetyViolations(sess.SessionID); err != nil {
		o.logger.Warn("safety counter update failed",
			slog.String("session_id", sess.SessionID),
			slog.Any("error", err),
		)
	}
	if o.metrics != nil {
		o.metrics.SafetyViolationsTotal.WithLabelValues(direction).Inc()
	}

	payload := map[string]any{"direction": direction}
	if cause != nil {
		if pe, ok := AsError(cause); ok {
			payload["code"] = string(pe.Code)
		}
	}
	o.publish(events.Event{
		Type:      events.TypeSafetyAudit,
		Source:    "pipeline",
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Priority:  events.PriorityHigh,
		Payload:   payload,
	})
}

// speakFailure best-effort speaks a terminal error's user message.
// Secondary failures are swallowed.
func (o *Orchestrator) speakFailure(ctx context.Context, err error) {
	pe, ok := AsError(err)
	if !ok || pe.UserMessage == "" || o.engines.Synthesizer == nil {
		return
	}
	if _, synthErr := o.engines.Synthesizer.Synthesize(ctx, pe.UserMessage, SynthesisOptions{}); synthErr != nil {
		o.logger.Debug("failure message synthesis failed", slog.Any("error", synthErr))
	}
}

// synthesisOptions derives voice options from the session profile and
// the active degradation level.
func (o *Orchestrator) synthesisOptions(sess session.State) SynthesisOptions {
	opts := SynthesisOptions{
		Voice:  sess.Profile.Preferences.Voice,
		Volume: sess.Profile.Preferences.Volume,
	}
	if o.quality != nil {
		opts.AudioQuality = o.quality.CurrentSettings().AudioQuality
	}
	return opts
}

// conversationContext converts the session's bounded history for the
// classifier.
func conversationContext(sess session.State) []ConversationTurn {
	var out []ConversationTurn
	for _, t := range sess.Context {
		// Failed turns count toward metrics but carry no exchange
		// worth classifying against.
		if !t.Success {
			continue
		}
		out = append(out, ConversationTurn{
			Intent:   t.Intent,
			UserText: t.UserText,
			Response: t.Response,
		})
	}
	return out
}

// mapSessionError classifies session-manager denials.
func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionLimitExceeded):
		return errSessionLimit(err)
	case errors.Is(err, session.ErrOutsideAllowedHours):
		return errTimeRestriction(err)
	case errors.Is(err, session.ErrSupervisionRequired):
		return errSupervisionRequired(err)
	default:
		return errSessionLimit(err)
	}
}

// publish sends an event if a bus is attached.
func (o *Orchestrator) publish(ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}
