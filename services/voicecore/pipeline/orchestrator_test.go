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

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/resmon"
	"github.com/AleutianAI/HearthCore/services/voicecore/session"
)

// ============================================================================
// Fakes
// ============================================================================

// fakeEngines implements every engine interface with overridable funcs.
type fakeEngines struct {
	mu             sync.Mutex
	recognizeCalls int
	classifyCalls  int
	synthCalls     int
	wakeStarted    bool
	wakeStopped    bool

	recognize   func(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error)
	classify    func(ctx context.Context, text string, turns []ConversationTurn) (*IntentResult, error)
	route       func(ctx context.Context, intent *IntentResult, userID string) (*CommandResult, error)
	generate    func(ctx context.Context, result *CommandResult, rc ResponseContext) (string, error)
	synthesize  func(ctx context.Context, text string, opts SynthesisOptions) ([]byte, error)
	validateIn  func(ctx context.Context, text, userID string) (*InputSafetyResult, error)
	validateOut func(ctx context.Context, text, userID string) (*OutputSafetyResult, error)
}

func (f *fakeEngines) StartListening(ctx context.Context, onDetect func(WakeWordDetection)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeStarted = true
	return nil
}

func (f *fakeEngines) StopListening() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeStopped = true
	return nil
}

func (f *fakeEngines) Recognize(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error) {
	f.mu.Lock()
	f.recognizeCalls++
	f.mu.Unlock()
	if f.recognize != nil {
		return f.recognize(ctx, audio, userID)
	}
	return &RecognitionResult{Text: "what time is it", Confidence: 0.95}, nil
}

func (f *fakeEngines) ClassifyIntent(ctx context.Context, text string, turns []ConversationTurn) (*IntentResult, error) {
	f.mu.Lock()
	f.classifyCalls++
	f.mu.Unlock()
	if f.classify != nil {
		return f.classify(ctx, text, turns)
	}
	return &IntentResult{Intent: "time.query", Confidence: 0.9}, nil
}

func (f *fakeEngines) RouteCommand(ctx context.Context, intent *IntentResult, userID string) (*CommandResult, error) {
	if f.route != nil {
		return f.route(ctx, intent, userID)
	}
	return &CommandResult{Success: true, Response: "3:00 PM"}, nil
}

func (f *fakeEngines) GenerateResponse(ctx context.Context, result *CommandResult, rc ResponseContext) (string, error) {
	if f.generate != nil {
		return f.generate(ctx, result, rc)
	}
	return "It's three o'clock!", nil
}

func (f *fakeEngines) Synthesize(ctx context.Context, text string, opts SynthesisOptions) ([]byte, error) {
	f.mu.Lock()
	f.synthCalls++
	f.mu.Unlock()
	if f.synthesize != nil {
		return f.synthesize(ctx, text, opts)
	}
	return []byte("audio:" + text), nil
}

func (f *fakeEngines) ValidateInput(ctx context.Context, text, userID string) (*InputSafetyResult, error) {
	if f.validateIn != nil {
		return f.validateIn(ctx, text, userID)
	}
	return &InputSafetyResult{IsAllowed: true}, nil
}

func (f *fakeEngines) ValidateOutput(ctx context.Context, text, userID string) (*OutputSafetyResult, error) {
	if f.validateOut != nil {
		return f.validateOut(ctx, text, userID)
	}
	return &OutputSafetyResult{IsAllowed: true}, nil
}

type staticMonitor struct {
	sample resmon.Sample
}

func (s *staticMonitor) Current() resmon.Sample {
	return s.sample
}

// eventRecorder captures published events by type.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ============================================================================
// Harness
// ============================================================================

type testPipeline struct {
	orch     *Orchestrator
	engines  *fakeEngines
	sessions *session.Manager
	bus      *events.Bus
	recorder *eventRecorder
}

func newTestPipeline(t *testing.T, mutate ...func(*Config, *fakeEngines)) *testPipeline {
	t.Helper()

	bus := events.New()
	recorder := &eventRecorder{}
	for _, typ := range []events.Type{
		events.TypeTurnCompleted, events.TypeTurnFailed,
		events.TypeSafetyAudit, events.TypeTTSError,
		events.TypeStageCompleted, events.TypeWakeWordDetected,
	} {
		bus.Subscribe(typ, recorder.record)
	}

	sessions, err := session.NewManager(session.DefaultConfig(), session.WithBus(bus))
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}

	fe := &fakeEngines{}
	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	for _, fn := range mutate {
		fn(&cfg, fe)
	}

	orch, err := New(cfg, Engines{
		WakeWord:    fe,
		Recognizer:  fe,
		Classifier:  fe,
		Router:      fe,
		Generator:   fe,
		Synthesizer: fe,
		Safety:      fe,
	}, sessions, WithBus(bus))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(orch.Stop)

	return &testPipeline{orch: orch, engines: fe, sessions: sessions, bus: bus, recorder: recorder}
}

func (tp *testPipeline) start(t *testing.T) {
	t.Helper()
	if err := tp.orch.Start(context.Background()); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}
}

func requireCode(t *testing.T, err error, want Code) *Error {
	t.Helper()
	pe, ok := AsError(err)
	if !ok {
		t.Fatalf("expected pipeline error, got %v", err)
	}
	if pe.Code != want {
		t.Fatalf("expected code %s, got %s (%v)", want, pe.Code, err)
	}
	return pe
}

// ============================================================================
// Tests
// ============================================================================

func TestFullTurnSucceeds(t *testing.T) {
	tp := newTestPipeline(t)
	tp.start(t)

	result, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if result.ResponseText != "It's three o'clock!" {
		t.Fatalf("unexpected response %q", result.ResponseText)
	}
	if len(result.Audio) == 0 {
		t.Fatal("expected synthesized audio")
	}
	if result.UsedFallback || result.TextOnly {
		t.Fatalf("clean turn flagged fallback=%v textOnly=%v", result.UsedFallback, result.TextOnly)
	}

	// The turn lands on the session.
	sess, err := tp.orch.sessions.GetSession(result.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Metrics.Interactions != 1 || sess.Metrics.Failures != 0 {
		t.Fatalf("session metrics = %+v", sess.Metrics)
	}
	if len(sess.Context) != 1 || sess.Context[0].Intent != "time.query" {
		t.Fatalf("session context = %+v", sess.Context)
	}

	if got := tp.recorder.ofType(events.TypeTurnCompleted); len(got) != 1 {
		t.Fatalf("expected 1 turn-completed event, got %d", len(got))
	}

	m := tp.orch.Metrics()
	if m.TotalInteractions != 1 || m.SuccessRate != 1.0 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestInactivePipelineRejectsTurns(t *testing.T) {
	tp := newTestPipeline(t)

	_, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	pe := requireCode(t, err, CodePipelineNotActive)
	if pe.Retryable {
		t.Fatal("not-active should not be retryable")
	}
	if tp.engines.recognizeCalls != 0 {
		t.Fatal("recognizer should not run when inactive")
	}
}

func TestDoubleStartRejected(t *testing.T) {
	tp := newTestPipeline(t)
	tp.start(t)

	err := tp.orch.Start(context.Background())
	requireCode(t, err, CodePipelineAlreadyActive)
}

func TestStartStopDrivesWakeWord(t *testing.T) {
	tp := newTestPipeline(t)
	tp.start(t)
	if !tp.engines.wakeStarted {
		t.Fatal("wake-word listening not started")
	}

	tp.orch.Stop()
	if !tp.engines.wakeStopped {
		t.Fatal("wake-word listening not stopped")
	}
	tp.orch.Stop() // idempotent

	if st := tp.orch.Status(); st.IsActive {
		t.Fatal("pipeline still active after Stop")
	}
}

func TestResourceExhaustionPreFlight(t *testing.T) {
	tp := newTestPipeline(t)
	tp.orch.monitor = &staticMonitor{sample: resmon.Sample{MemoryMB: 7500, CPUPercent: 50}}
	tp.start(t)

	_, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	pe := requireCode(t, err, CodeResourceExhaustion)
	if !pe.Retryable {
		t.Fatal("resource exhaustion should be retryable")
	}
	if tp.engines.recognizeCalls != 0 {
		t.Fatal("recognizer should not run past a failed pre-flight")
	}

	m := tp.orch.Metrics()
	if m.PeakMemoryMB != 7500 {
		t.Fatalf("peak memory = %.0f", m.PeakMemoryMB)
	}
	if m.ErrorCounts[string(CodeResourceExhaustion)] != 1 {
		t.Fatalf("error counts = %v", m.ErrorCounts)
	}
}

func TestOutputSafetyBlockSubstitutesFallback(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.validateOut = func(ctx context.Context, text, userID string) (*OutputSafetyResult, error) {
			return &OutputSafetyResult{IsAllowed: false}, nil
		}
	})
	tp.start(t)

	result, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	if err != nil {
		t.Fatalf("blocked output must not fail the turn: %v", err)
	}
	if !result.UsedFallback {
		t.Fatal("expected fallback substitution")
	}
	found := false
	for _, phrase := range fallbackPhrases {
		if result.ResponseText == phrase {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("response %q is not a known safe phrase", result.ResponseText)
	}

	// The fallback is what gets spoken.
	if string(result.Audio) != "audio:"+result.ResponseText {
		t.Fatalf("synthesized text mismatch: %q", result.Audio)
	}

	// Success metric still increments.
	if m := tp.orch.Metrics(); m.Successes != 1 {
		t.Fatalf("metrics = %+v", m)
	}

	audits := tp.recorder.ofType(events.TypeSafetyAudit)
	if len(audits) != 1 || audits[0].Payload["direction"] != "output" {
		t.Fatalf("safety audit events = %+v", audits)
	}

	sess, err := tp.orch.sessions.GetSession(result.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Metrics.SafetyViolations != 1 {
		t.Fatalf("safety violations = %d", sess.Metrics.SafetyViolations)
	}
}

func TestOutputSafetySanitizedTextPreferred(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.validateOut = func(ctx context.Context, text, userID string) (*OutputSafetyResult, error) {
			return &OutputSafetyResult{IsAllowed: false, SanitizedText: "Let's keep it friendly!"}, nil
		}
	})
	tp.start(t)

	result, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.ResponseText != "Let's keep it friendly!" {
		t.Fatalf("expected sanitized text, got %q", result.ResponseText)
	}
	if !result.UsedFallback {
		t.Fatal("sanitized substitution should flag fallback")
	}
}

func TestInputSafetyViolationTerminal(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.validateIn = func(ctx context.Context, text, userID string) (*InputSafetyResult, error) {
			return &InputSafetyResult{IsAllowed: false, BlockedReasons: []string{"unsafe_topic"}}, nil
		}
	})
	tp.start(t)

	_, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	pe := requireCode(t, err, CodeSafetyViolation)
	if pe.Retryable {
		t.Fatal("safety violations are never retryable")
	}
	if tp.engines.classifyCalls != 0 {
		t.Fatal("classifier must not see blocked input")
	}

	audits := tp.recorder.ofType(events.TypeSafetyAudit)
	if len(audits) != 1 || audits[0].Payload["direction"] != "input" {
		t.Fatalf("safety audit events = %+v", audits)
	}
	if audits[0].Priority != events.PriorityHigh {
		t.Fatalf("audit priority = %v", audits[0].Priority)
	}

	sessions := tp.orch.sessions.UserSessions("user-1")
	if len(sessions) != 1 || sessions[0].Metrics.SafetyViolations != 1 {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestSynthesisFailureFallsBackToText(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.synthesize = func(ctx context.Context, text string, opts SynthesisOptions) ([]byte, error) {
			return nil, errors.New("tts engine crashed")
		}
	})
	tp.start(t)

	result, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	if err != nil {
		t.Fatalf("synthesis failure must not fail the turn: %v", err)
	}
	if !result.TextOnly || result.Audio != nil {
		t.Fatalf("expected text-only result, got %+v", result)
	}
	if result.ResponseText == "" {
		t.Fatal("text response missing")
	}
	if got := tp.recorder.ofType(events.TypeTTSError); len(got) != 1 {
		t.Fatalf("expected 1 tts-error event, got %d", len(got))
	}
	if m := tp.orch.Metrics(); m.Successes != 1 {
		t.Fatalf("text-only turn should count as success: %+v", m)
	}
}

func TestTransientRecognitionFailureRetried(t *testing.T) {
	attempts := 0
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.recognize = func(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error) {
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("asr busy")
			}
			return &RecognitionResult{Text: "tell me a joke", Confidence: 0.9}, nil
		}
	})
	tp.start(t)

	result, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	if err != nil {
		t.Fatalf("turn should succeed on third attempt: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
	if result.ResponseText == "" {
		t.Fatal("missing response")
	}
}

func TestRecognitionExhaustsRetries(t *testing.T) {
	attempts := 0
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.recognize = func(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error) {
			attempts++
			return nil, fmt.Errorf("asr down")
		}
	})
	tp.start(t)

	_, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	requireCode(t, err, CodeSpeechRecognition)
	if attempts != 3 {
		t.Fatalf("attempts = %d, want policy max", attempts)
	}
	if got := tp.recorder.ofType(events.TypeTurnFailed); len(got) != 1 {
		t.Fatalf("expected 1 turn-failed event, got %d", len(got))
	}
}

func TestCanceledTurnMapsToTaxonomy(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		cfg.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
		fe.recognize = func(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error) {
			return nil, fmt.Errorf("transient asr hiccup")
		}
	})
	tp.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := tp.orch.ProcessVoiceInput(ctx, []byte("pcm"), "user-1")
	pe := requireCode(t, err, CodeTimeout)
	if pe.UserMessage == "" {
		t.Fatal("expected a user-facing message")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation cause not preserved: %v", err)
	}
}

func TestFailedTurnCountsOnSessionMetrics(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.recognize = func(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error) {
			return nil, fmt.Errorf("asr down")
		}
	})
	tp.start(t)

	_, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	requireCode(t, err, CodeSpeechRecognition)

	states := tp.sessions.UserSessions("user-1")
	if len(states) != 1 {
		t.Fatalf("sessions = %d, want 1", len(states))
	}
	m := states[0].Metrics
	if m.Interactions != 1 || m.Failures != 1 {
		t.Fatalf("metrics = %+v, want one failed interaction", m)
	}
}

func TestFailedTurnExcludedFromClassifierContext(t *testing.T) {
	var seen []ConversationTurn
	broken := true
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.recognize = func(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error) {
			if broken {
				return nil, fmt.Errorf("asr down")
			}
			return &RecognitionResult{Text: "what time is it", Confidence: 0.95}, nil
		}
		fe.classify = func(ctx context.Context, text string, turns []ConversationTurn) (*IntentResult, error) {
			seen = turns
			return &IntentResult{Intent: "smalltalk", Confidence: 0.8}, nil
		}
	})
	tp.start(t)

	_, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1")
	requireCode(t, err, CodeSpeechRecognition)

	broken = false
	if _, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1"); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 0 {
		t.Fatalf("failed turn leaked into context: %+v", seen)
	}
}

func TestTimeRestrictionDenialMapped(t *testing.T) {
	bus := events.New()
	night := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)
	sessions, err := session.NewManager(session.DefaultConfig(),
		session.WithBus(bus),
		session.WithClock(func() time.Time { return night }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := sessions.RegisterProfile(session.UserProfile{
		UserID:   "kid-anna",
		AgeGroup: session.AgeGroupChild,
		ParentalControls: session.ParentalControls{
			Enabled:          true,
			AllowedStartHour: 7,
			AllowedEndHour:   21,
		},
	}); err != nil {
		t.Fatal(err)
	}

	fe := &fakeEngines{}
	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	orch, err := New(cfg, Engines{
		Recognizer: fe, Classifier: fe, Router: fe, Generator: fe, Safety: fe,
	}, sessions, WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer orch.Stop()

	_, err = orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "kid-anna")
	pe := requireCode(t, err, CodeTimeRestriction)
	if pe.Retryable {
		t.Fatal("time restriction should not be retryable")
	}
	if !errors.Is(err, session.ErrOutsideAllowedHours) {
		t.Fatal("cause not preserved in chain")
	}
}

func TestStatusReflectsActivity(t *testing.T) {
	tp := newTestPipeline(t)

	if st := tp.orch.Status(); st.IsActive || st.CurrentStage != StageIdle {
		t.Fatalf("pre-start status = %+v", st)
	}

	tp.start(t)
	st := tp.orch.Status()
	if !st.IsActive || st.CurrentStage != StageListening {
		t.Fatalf("post-start status = %+v", st)
	}

	if _, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1"); err != nil {
		t.Fatal(err)
	}
	st = tp.orch.Status()
	if st.ActiveUsers != 1 {
		t.Fatalf("active users = %d", st.ActiveUsers)
	}
}

func TestMetricsTrackFailures(t *testing.T) {
	fail := true
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		cfg.Retry = RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
		fe.generate = func(ctx context.Context, result *CommandResult, rc ResponseContext) (string, error) {
			if fail {
				return "", errors.New("llm oom")
			}
			return "All done!", nil
		}
	})
	tp.start(t)

	if _, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1"); err == nil {
		t.Fatal("expected generation failure")
	}
	fail = false
	if _, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1"); err != nil {
		t.Fatal(err)
	}

	m := tp.orch.Metrics()
	if m.TotalInteractions != 2 || m.Successes != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.SuccessRate != 0.5 {
		t.Fatalf("success rate = %v", m.SuccessRate)
	}
	if m.ErrorCounts[string(CodeResponseGeneration)] != 1 {
		t.Fatalf("error counts = %v", m.ErrorCounts)
	}
}

func TestStageEventsPublished(t *testing.T) {
	tp := newTestPipeline(t)
	tp.start(t)

	if _, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1"); err != nil {
		t.Fatal(err)
	}

	completed := tp.recorder.ofType(events.TypeStageCompleted)
	stages := make(map[string]bool, len(completed))
	for _, ev := range completed {
		stages[ev.Payload["stage"].(string)] = true
		if _, ok := ev.Payload["duration_ms"]; !ok {
			t.Fatalf("stage event missing duration: %+v", ev.Payload)
		}
	}
	for _, want := range []Stage{
		StageRecognizing, StageSafetyInput, StageClassifying,
		StageExecuting, StageResponding, StageSafetyOutput, StageSynthesizing,
	} {
		if !stages[string(want)] {
			t.Fatalf("stage %s never completed; saw %v", want, stages)
		}
	}
}

func TestClassifierSeesConversationContext(t *testing.T) {
	var seen []ConversationTurn
	tp := newTestPipeline(t, func(cfg *Config, fe *fakeEngines) {
		fe.classify = func(ctx context.Context, text string, turns []ConversationTurn) (*IntentResult, error) {
			seen = turns
			return &IntentResult{Intent: "smalltalk", Confidence: 0.8}, nil
		}
	})
	tp.start(t)

	if _, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1"); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 0 {
		t.Fatalf("first turn should have empty context, got %+v", seen)
	}

	if _, err := tp.orch.ProcessVoiceInput(context.Background(), []byte("pcm"), "user-1"); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0].Intent != "smalltalk" {
		t.Fatalf("second turn context = %+v", seen)
	}
}
