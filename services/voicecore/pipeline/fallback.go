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

import "hash/fnv"

// fallbackPhrases substitute for responses the output-safety filter
// blocks. All are child-appropriate redirections; the pick is
// deterministic per turn so retries speak the same phrase.
var fallbackPhrases = []string{
	"Let's talk about something fun instead! What's your favorite animal?",
	"Hmm, how about we sing a song or tell a story instead?",
	"I'd rather chat about something else. Do you want to hear a fun fact?",
	"Let's try a different question! What made you smile today?",
}

// fallbackPhrase picks a safe phrase deterministically from the turn id.
func fallbackPhrase(turnID string) string {
	h := fnv.New32a()
	h.Write([]byte(turnID))
	return fallbackPhrases[h.Sum32()%uint32(len(fallbackPhrases))]
}
