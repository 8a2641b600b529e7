// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	if m == nil {
		t.Fatal("New returned nil")
	}

	// Exercise one instrument of each kind.
	m.TurnsTotal.WithLabelValues("success").Inc()
	m.TurnLatencySeconds.Observe(0.3)
	m.StageLatencySeconds.WithLabelValues("recognize").Observe(0.05)
	m.ActiveSessions.Set(2)
	m.QueueDepth.WithLabelValues("speech-recognition-queue").Set(3)
	m.CacheResidentBytes.Set(1024)
	m.DegradationLevel.Set(1)
	m.ResourceAlertsTotal.WithLabelValues("memory", "critical").Inc()

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("TurnsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 2 {
		t.Errorf("ActiveSessions = %v, want 2", got)
	}
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
