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
	"time"
)

// External engine contracts. The model implementations live outside the
// coordination core; the orchestrator only sequences them.

// WakeWordDetection is emitted when a trigger phrase is heard.
type WakeWordDetection struct {
	Phrase     string    `json:"phrase"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// WakeWordDetector transitions the device from idle listening to active
// capture.
type WakeWordDetector interface {
	StartListening(ctx context.Context, onDetect func(WakeWordDetection)) error
	StopListening() error
}

// RecognitionResult is the outcome of speech-to-text.
type RecognitionResult struct {
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	Alternatives   []string      `json:"alternatives,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	Language       string        `json:"language,omitempty"`
}

// SpeechRecognizer converts an audio utterance to text.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio []byte, userID string) (*RecognitionResult, error)
}

// IntentResult is the outcome of intent classification.
type IntentResult struct {
	Intent               string         `json:"intent"`
	Confidence           float64        `json:"confidence"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
}

// ConversationTurn is prior-exchange context fed to the classifier.
type ConversationTurn struct {
	Intent   string `json:"intent,omitempty"`
	UserText string `json:"user_text,omitempty"`
	Response string `json:"response,omitempty"`
}

// IntentClassifier maps recognized text to an intent.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, text string, context []ConversationTurn) (*IntentResult, error)
}

// CommandResult is the outcome of executing a classified intent.
type CommandResult struct {
	Success       bool           `json:"success"`
	Response      string         `json:"response"`
	Data          map[string]any `json:"data,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
}

// CommandRouter executes an intent on behalf of a user.
type CommandRouter interface {
	RouteCommand(ctx context.Context, intent *IntentResult, userID string) (*CommandResult, error)
}

// ResponseContext carries user-facing rendering hints.
type ResponseContext struct {
	UserID   string `json:"user_id"`
	AgeGroup string `json:"age_group,omitempty"`
	Language string `json:"language,omitempty"`
}

// ResponseGenerator turns a command result into spoken-style text.
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, result *CommandResult, rc ResponseContext) (string, error)
}

// SynthesisOptions selects voice characteristics.
type SynthesisOptions struct {
	Voice        string `json:"voice,omitempty"`
	AudioQuality string `json:"audio_quality,omitempty"`
	Volume       int    `json:"volume,omitempty"`
}

// TextToSpeechEngine renders text to an audio buffer.
type TextToSpeechEngine interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) ([]byte, error)
}

// InputSafetyResult is the verdict on user-provided content.
type InputSafetyResult struct {
	IsAllowed      bool     `json:"is_allowed"`
	RiskLevel      string   `json:"risk_level,omitempty"`
	BlockedReasons []string `json:"blocked_reasons,omitempty"`
}

// OutputSafetyResult is the verdict on generated content.
type OutputSafetyResult struct {
	IsAllowed     bool   `json:"is_allowed"`
	SanitizedText string `json:"sanitized_text,omitempty"`
}

// ContentSafetyFilter validates both directions of a conversation.
// Validation runs at every degradation level; it is never shed.
type ContentSafetyFilter interface {
	ValidateInput(ctx context.Context, text, userID string) (*InputSafetyResult, error)
	ValidateOutput(ctx context.Context, text, userID string) (*OutputSafetyResult, error)
}

// Engines bundles the external collaborators the orchestrator drives.
type Engines struct {
	WakeWord    WakeWordDetector
	Recognizer  SpeechRecognizer
	Classifier  IntentClassifier
	Router      CommandRouter
	Generator   ResponseGenerator
	Synthesizer TextToSpeechEngine
	Safety      ContentSafetyFilter
}
