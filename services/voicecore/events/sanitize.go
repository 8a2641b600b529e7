// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import "strings"

// RedactionMarker replaces the value of any sensitive payload key.
const RedactionMarker = "[REDACTED]"

// sensitiveSubstrings are matched case-insensitively as substrings of
// payload keys. A key containing any of these has its value redacted.
var sensitiveSubstrings = []string{
	"password",
	"token",
	"secret",
	"credential",
	"apikey",
	"api_key",
	"audiodata",
	"audio_data",
	"voicedata",
	"voice_data",
	"voiceprint",
}

// sensitiveExact are matched case-insensitively as whole keys. "key" is
// exact-match only so fields like "monkey" or "keyword" survive.
var sensitiveExact = []string{
	"key",
	"pin",
}

// SanitizePayload returns a deep copy of the payload with sensitive
// values redacted.
//
// # Description
//
// Recurses through nested maps and slices. Values under sensitive keys
// are replaced with RedactionMarker regardless of their type, so audio
// buffers and credential structs cannot leak into the audit history.
// The input is never mutated.
//
// # Inputs
//
//   - payload: The payload to sanitize. Nil is allowed.
//
// # Outputs
//
//   - map[string]any: A sanitized deep copy, or nil if payload was nil.
func SanitizePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if isSensitiveKey(k) {
			out[k] = RedactionMarker
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

// sanitizeValue deep-copies a payload value, recursing into containers.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return SanitizePayload(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			if isSensitiveKey(k) {
				out[k] = RedactionMarker
			} else {
				out[k] = s
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// isSensitiveKey reports whether a payload key must be redacted.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, exact := range sensitiveExact {
		if lower == exact {
			return true
		}
	}
	for _, sub := range sensitiveSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
