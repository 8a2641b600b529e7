// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/HearthCore/services/voicecore/pipeline"
)

// echoEngines is the --dev-engines runtime: no models, deterministic
// answers. Useful for exercising the coordination layer on a dev
// machine and for companion-app integration work.
type echoEngines struct {
	logger *slog.Logger
}

func newDevEngines(logger *slog.Logger) pipeline.Engines {
	e := &echoEngines{logger: logger.With(slog.String("subsystem", "dev-engines"))}
	return pipeline.Engines{
		Recognizer:  e,
		Classifier:  e,
		Router:      e,
		Generator:   e,
		Synthesizer: e,
		Safety:      e,
	}
}

func (e *echoEngines) Recognize(ctx context.Context, audio []byte, userID string) (*pipeline.RecognitionResult, error) {
	// Dev transport sends UTF-8 text in place of PCM.
	return &pipeline.RecognitionResult{Text: string(audio), Confidence: 1.0}, nil
}

func (e *echoEngines) ClassifyIntent(ctx context.Context, text string, turns []pipeline.ConversationTurn) (*pipeline.IntentResult, error) {
	intent := "smalltalk"
	if strings.Contains(strings.ToLower(text), "time") {
		intent = "time.query"
	}
	return &pipeline.IntentResult{Intent: intent, Confidence: 0.99}, nil
}

func (e *echoEngines) RouteCommand(ctx context.Context, intent *pipeline.IntentResult, userID string) (*pipeline.CommandResult, error) {
	return &pipeline.CommandResult{Success: true, Response: intent.Intent}, nil
}

func (e *echoEngines) GenerateResponse(ctx context.Context, result *pipeline.CommandResult, rc pipeline.ResponseContext) (string, error) {
	return fmt.Sprintf("You asked about %s.", result.Response), nil
}

func (e *echoEngines) Synthesize(ctx context.Context, text string, opts pipeline.SynthesisOptions) ([]byte, error) {
	return []byte(text), nil
}

func (e *echoEngines) ValidateInput(ctx context.Context, text, userID string) (*pipeline.InputSafetyResult, error) {
	return &pipeline.InputSafetyResult{IsAllowed: true}, nil
}

func (e *echoEngines) ValidateOutput(ctx context.Context, text, userID string) (*pipeline.OutputSafetyResult, error) {
	return &pipeline.OutputSafetyResult{IsAllowed: true}, nil
}
