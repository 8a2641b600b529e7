// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"sort"
	"strings"
)

// multiUserKey derives the context key from the participant set.
// Sorting makes the key independent of join order.
func multiUserKey(userIDs []string) string {
	ids := make([]string, len(userIDs))
	copy(ids, userIDs)
	sort.Strings(ids)
	return strings.Join(ids, "+")
}

// mergePreferences combines participant preferences deterministically:
// strictest content filter wins, volume is the lowest requested, voice
// and language follow the primary user.
func mergePreferences(profiles []*UserProfile, primaryUserID string) Preferences {
	merged := Preferences{ContentFilter: FilterRelaxed}
	first := true

	for _, p := range profiles {
		prefs := p.Preferences
		if filterRank(prefs.ContentFilter) > filterRank(merged.ContentFilter) {
			merged.ContentFilter = prefs.ContentFilter
		}
		if first || (prefs.Volume > 0 && prefs.Volume < merged.Volume) {
			merged.Volume = prefs.Volume
			first = false
		}
		if p.UserID == primaryUserID {
			merged.Voice = prefs.Voice
			merged.Language = prefs.Language
		}
	}
	return merged
}

// commandPriorityUser picks the participant whose commands win
// conflicts: the eldest registered participant, with ties broken by
// lexicographic user id. An unknown birth year ranks youngest.
func commandPriorityUser(profiles []*UserProfile) string {
	if len(profiles) == 0 {
		return ""
	}

	best := profiles[0]
	for _, p := range profiles[1:] {
		if elder(p, best) {
			best = p
		}
	}
	return best.UserID
}

// elder reports whether a should outrank b.
func elder(a, b *UserProfile) bool {
	ay, by := a.BirthYear, b.BirthYear
	switch {
	case ay != 0 && by == 0:
		return true
	case ay == 0 && by != 0:
		return false
	case ay != by:
		return ay < by
	default:
		return a.UserID < b.UserID
	}
}
