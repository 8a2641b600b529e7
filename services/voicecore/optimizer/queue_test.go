// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimizer

import (
	"testing"
	"time"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
)

func newTestQueue(maxSize int) *processingQueue {
	return newProcessingQueue(QueueConfig{
		ID:      "tts-queue",
		Name:    "Speech Synthesis",
		MaxSize: maxSize,
	})
}

func queueReq(id string, priority events.Priority, ts time.Time) *Request {
	return &Request{
		ID:        id,
		Type:      "tts",
		Priority:  priority,
		Timestamp: ts,
	}
}

func TestQueueDequeueOrdersByPriority(t *testing.T) {
	q := newTestQueue(8)
	base := time.Now()

	q.insert(queueReq("low", events.PriorityLow, base))
	q.insert(queueReq("critical", events.PriorityCritical, base.Add(time.Millisecond)))
	q.insert(queueReq("medium", events.PriorityMedium, base.Add(2*time.Millisecond)))

	want := []string{"critical", "medium", "low"}
	for _, id := range want {
		req, _ := q.dequeue(base.Add(time.Second))
		if req == nil {
			t.Fatalf("dequeue returned nil, want %s", id)
		}
		if req.ID != id {
			t.Errorf("dequeue order: got %s, want %s", req.ID, id)
		}
	}
	if req, _ := q.dequeue(base.Add(time.Second)); req != nil {
		t.Errorf("expected empty queue, got %s", req.ID)
	}
}

func TestQueueFIFOWithinPriorityTier(t *testing.T) {
	q := newTestQueue(8)
	base := time.Now()

	for i, id := range []string{"first", "second", "third"} {
		q.insert(queueReq(id, events.PriorityMedium, base.Add(time.Duration(i)*time.Millisecond)))
	}

	for _, want := range []string{"first", "second", "third"} {
		req, _ := q.dequeue(base.Add(time.Second))
		if req == nil || req.ID != want {
			t.Fatalf("FIFO violated: got %v, want %s", req, want)
		}
	}
}

func TestQueueOverflowEvictsOldestLowFirst(t *testing.T) {
	q := newTestQueue(3)
	base := time.Now()

	q.insert(queueReq("high-1", events.PriorityHigh, base))
	q.insert(queueReq("low-old", events.PriorityLow, base.Add(time.Millisecond)))
	q.insert(queueReq("low-new", events.PriorityLow, base.Add(2*time.Millisecond)))

	evicted := q.insert(queueReq("medium-1", events.PriorityMedium, base.Add(3*time.Millisecond)))
	if evicted == nil || evicted.ID != "low-old" {
		t.Fatalf("expected oldest low-priority eviction, got %v", evicted)
	}
	if len(q.requests) != 3 {
		t.Errorf("queue length = %d, want 3 (never exceeds max)", len(q.requests))
	}
	if q.evictions != 1 {
		t.Errorf("evictions = %d, want 1", q.evictions)
	}
}

func TestQueueOverflowFallsBackToOldestOverall(t *testing.T) {
	q := newTestQueue(3)
	base := time.Now()

	q.insert(queueReq("high-old", events.PriorityHigh, base))
	q.insert(queueReq("high-new", events.PriorityHigh, base.Add(time.Millisecond)))
	q.insert(queueReq("critical-1", events.PriorityCritical, base.Add(2*time.Millisecond)))

	evicted := q.insert(queueReq("high-newer", events.PriorityHigh, base.Add(3*time.Millisecond)))
	if evicted == nil || evicted.ID != "high-old" {
		t.Fatalf("expected oldest overall eviction, got %v", evicted)
	}
}

func TestQueueDequeueSkipsExpired(t *testing.T) {
	q := newTestQueue(8)
	base := time.Now()

	stale := queueReq("stale", events.PriorityHigh, base)
	stale.Timeout = 100 * time.Millisecond
	q.insert(stale)
	q.insert(queueReq("fresh", events.PriorityMedium, base))

	req, expired := q.dequeue(base.Add(time.Second))
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}
	if req == nil || req.ID != "fresh" {
		t.Fatalf("got %v, want fresh", req)
	}
}

func TestQueueLatencyEWMA(t *testing.T) {
	q := newTestQueue(8)

	q.observeLatency(100 * time.Millisecond)
	if q.avgLatencyMs != 100 {
		t.Fatalf("first sample should seed the average, got %f", q.avgLatencyMs)
	}
	q.observeLatency(200 * time.Millisecond)
	if q.avgLatencyMs <= 100 || q.avgLatencyMs >= 200 {
		t.Errorf("smoothed average %f should fall between samples", q.avgLatencyMs)
	}
}
