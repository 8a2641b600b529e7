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
	"errors"
	"testing"
)

func TestMultiUserKeyIsOrderIndependent(t *testing.T) {
	a := multiUserKey([]string{"mom", "kid", "dad"})
	b := multiUserKey([]string{"kid", "dad", "mom"})
	if a != b {
		t.Errorf("keys differ for same participants: %s vs %s", a, b)
	}
}

func TestCommandPriorityEldestWins(t *testing.T) {
	profiles := []*UserProfile{
		{UserID: "kid", BirthYear: 2016},
		{UserID: "mom", BirthYear: 1984},
		{UserID: "grandpa", BirthYear: 1955},
	}
	if got := commandPriorityUser(profiles); got != "grandpa" {
		t.Errorf("priority user = %s, want grandpa", got)
	}
}

func TestCommandPriorityTieBreaksLexicographically(t *testing.T) {
	profiles := []*UserProfile{
		{UserID: "zoe", BirthYear: 1990},
		{UserID: "amy", BirthYear: 1990},
	}
	if got := commandPriorityUser(profiles); got != "amy" {
		t.Errorf("priority user = %s, want amy (lexicographic tie-break)", got)
	}
}

func TestCommandPriorityUnknownBirthYearRanksYoungest(t *testing.T) {
	profiles := []*UserProfile{
		{UserID: "guest"},
		{UserID: "teen", BirthYear: 2010},
	}
	if got := commandPriorityUser(profiles); got != "teen" {
		t.Errorf("priority user = %s, want teen", got)
	}
}

func TestMergePreferencesStrictestFilterWins(t *testing.T) {
	profiles := []*UserProfile{
		{UserID: "dad", Preferences: Preferences{ContentFilter: FilterRelaxed, Voice: "deep", Volume: 70}},
		{UserID: "kid", Preferences: Preferences{ContentFilter: FilterStrict, Volume: 40}},
	}

	merged := mergePreferences(profiles, "dad")
	if merged.ContentFilter != FilterStrict {
		t.Errorf("filter = %s, want strict", merged.ContentFilter)
	}
	if merged.Volume != 40 {
		t.Errorf("volume = %d, want lowest (40)", merged.Volume)
	}
	if merged.Voice != "deep" {
		t.Errorf("voice = %s, want primary user's", merged.Voice)
	}
}

func TestHandleMultiUserInteraction(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	for _, p := range []UserProfile{
		{UserID: "mom", AgeGroup: AgeGroupAdult, BirthYear: 1985,
			Preferences: Preferences{ContentFilter: FilterRelaxed, Volume: 60}},
		{UserID: "kid", AgeGroup: AgeGroupChild, BirthYear: 2017,
			Preferences: Preferences{ContentFilter: FilterStrict, Volume: 45}},
	} {
		if err := m.RegisterProfile(p); err != nil {
			t.Fatal(err)
		}
	}

	momSession, err := m.CreateOrResumeSession("mom", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	kidSession, err := m.CreateOrResumeSession("kid", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := m.HandleMultiUserInteraction(
		[]string{momSession.SessionID, kidSession.SessionID}, "kid")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.SharedPreferences.ContentFilter != FilterStrict {
		t.Errorf("filter = %s, want strict", ctx.SharedPreferences.ContentFilter)
	}
	if ctx.CommandPriorityUserID != "mom" {
		t.Errorf("command priority = %s, want mom (eldest)", ctx.CommandPriorityUserID)
	}

	// Same participants in a different order resolve to the same context.
	again, err := m.HandleMultiUserInteraction(
		[]string{kidSession.SessionID, momSession.SessionID}, "kid")
	if err != nil {
		t.Fatal(err)
	}
	if again.Key != ctx.Key || again.CreatedAt != ctx.CreatedAt {
		t.Error("expected the existing context to be reused")
	}
	if got := m.Statistics().MultiUserContexts; got != 1 {
		t.Errorf("contexts = %d, want 1", got)
	}

	// Ending one participant's session collapses the context.
	if err := m.EndSession(kidSession.SessionID, "user_request"); err != nil {
		t.Fatal(err)
	}
	if got := m.Statistics().MultiUserContexts; got != 0 {
		t.Errorf("contexts after end = %d, want 0 (garbage-collected)", got)
	}
}

func TestHandleMultiUserInteractionRejectsBadSets(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	s, err := m.CreateOrResumeSession("solo", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.HandleMultiUserInteraction([]string{s.SessionID}, "solo"); !errors.Is(err, ErrInvalidParticipants) {
		t.Errorf("single session err = %v, want ErrInvalidParticipants", err)
	}
	if _, err := m.HandleMultiUserInteraction([]string{s.SessionID, "ghost"}, "solo"); !errors.Is(err, ErrInvalidParticipants) {
		t.Errorf("unknown session err = %v, want ErrInvalidParticipants", err)
	}
}
