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
	"errors"
	"fmt"
)

// Code classifies pipeline errors for metrics and recovery decisions.
type Code string

const (
	CodePipelineNotActive     Code = "pipeline_not_active"
	CodePipelineAlreadyActive Code = "pipeline_already_active"
	CodeResourceExhaustion    Code = "resource_exhaustion"
	CodeSessionLimitExceeded  Code = "session_limit_exceeded"
	CodeSpeechRecognition     Code = "speech_recognition_error"
	CodeIntentClassification  Code = "intent_classification_error"
	CodeCommandExecution      Code = "command_execution_error"
	CodeResponseGeneration    Code = "response_generation_error"
	CodeSafetyViolation       Code = "safety_violation"
	CodeTimeRestriction       Code = "time_restriction"
	CodeSupervisionRequired   Code = "supervision_required"
	CodeSynthesis             Code = "synthesis_error"
	CodeTimeout               Code = "timeout"
)

// Error is a classified pipeline failure.
//
// Every error carries a retryable flag driving the recovery manager and
// a child-friendly user message spoken (best effort) on terminal
// failure. Stage names the pipeline stage that failed, when one did.
type Error struct {
	Code        Code
	Stage       Stage
	Retryable   bool
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (stage %s): %v", e.Code, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s (stage %s)", e.Code, e.Stage)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether an error chain contains a retryable
// pipeline error.
func IsRetryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Retryable
	}
	return false
}

// ============================================================================
// Constructors, one per taxonomy entry
// ============================================================================

func errPipelineNotActive() *Error {
	return &Error{
		Code:        CodePipelineNotActive,
		Retryable:   false,
		UserMessage: "I'm just waking up. Please try again in a moment!",
	}
}

func errPipelineAlreadyActive() *Error {
	return &Error{
		Code:      CodePipelineAlreadyActive,
		Retryable: false,
	}
}

func errResourceExhaustion(detail error) *Error {
	return &Error{
		Code:        CodeResourceExhaustion,
		Retryable:   true,
		UserMessage: "I'm thinking about a lot of things right now. Give me a second and ask again!",
		Err:         detail,
	}
}

func errSessionLimit(detail error) *Error {
	return &Error{
		Code:        CodeSessionLimitExceeded,
		Retryable:   true,
		UserMessage: "A lot of people are talking to me right now. Can you wait your turn?",
		Err:         detail,
	}
}

func errSpeechRecognition(detail error) *Error {
	return &Error{
		Code:        CodeSpeechRecognition,
		Stage:       StageRecognizing,
		Retryable:   true,
		UserMessage: "I didn't quite catch that. Could you say it again?",
		Err:         detail,
	}
}

func errIntentClassification(detail error) *Error {
	return &Error{
		Code:        CodeIntentClassification,
		Stage:       StageClassifying,
		Retryable:   true,
		UserMessage: "Hmm, I'm not sure what you meant. Can you try asking a different way?",
		Err:         detail,
	}
}

func errCommandExecution(detail error) *Error {
	return &Error{
		Code:        CodeCommandExecution,
		Stage:       StageExecuting,
		Retryable:   true,
		UserMessage: "I had trouble doing that. Let's try once more!",
		Err:         detail,
	}
}

func errResponseGeneration(detail error) *Error {
	return &Error{
		Code:        CodeResponseGeneration,
		Stage:       StageResponding,
		Retryable:   true,
		UserMessage: "My words got tangled up. Ask me again, please!",
		Err:         detail,
	}
}

func errSafetyViolation(stage Stage, reasons []string) *Error {
	return &Error{
		Code:        CodeSafetyViolation,
		Stage:       stage,
		Retryable:   false,
		UserMessage: "Let's talk about something else. What's your favorite animal?",
		Err:         fmt.Errorf("blocked: %v", reasons),
	}
}

func errTimeRestriction(detail error) *Error {
	return &Error{
		Code:        CodeTimeRestriction,
		Retryable:   false,
		UserMessage: "It's quiet time right now. Please ask a parent if you'd like to chat.",
		Err:         detail,
	}
}

func errSupervisionRequired(detail error) *Error {
	return &Error{
		Code:        CodeSupervisionRequired,
		Retryable:   false,
		UserMessage: "Please find a grown-up to help before we talk.",
		Err:         detail,
	}
}

func errTimeout(stage Stage, detail error) *Error {
	return &Error{
		Code:        CodeTimeout,
		Stage:       stage,
		Retryable:   true,
		UserMessage: "That took me too long. Let's try again!",
		Err:         detail,
	}
}
