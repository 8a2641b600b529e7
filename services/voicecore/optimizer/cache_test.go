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
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
)

const mb = 1024 * 1024

func cacheEntry(id string, sizeMB int64, accessed time.Time) *CacheEntry {
	return &CacheEntry{
		ModelID:      id,
		ModelType:    "speech",
		SizeBytes:    sizeMB * mb,
		LastAccessed: accessed,
		IsLoaded:     true,
		Priority:     defaultModelPriority,
	}
}

func TestCacheEvictsLRUWhenFull(t *testing.T) {
	c := newModelCache(2048 * mb)
	base := time.Now()

	for i, spec := range []struct {
		id   string
		size int64
	}{
		{"model-a", 800},
		{"model-b", 800},
		{"model-c", 600},
	} {
		entry := cacheEntry(spec.id, spec.size, base.Add(time.Duration(i)*time.Second))
		evicted, err := c.insert(entry)
		if err != nil {
			t.Fatalf("insert %s: %v", spec.id, err)
		}
		if spec.id == "model-c" {
			if len(evicted) != 1 || evicted[0].ModelID != "model-a" {
				t.Fatalf("expected model-a (LRU) evicted, got %v", evicted)
			}
		} else if len(evicted) != 0 {
			t.Fatalf("unexpected eviction loading %s: %v", spec.id, evicted)
		}
	}

	if c.residentBytes > c.capacityBytes {
		t.Errorf("resident %d exceeds capacity %d", c.residentBytes, c.capacityBytes)
	}
	if c.residentBytes != 1400*mb {
		t.Errorf("resident = %d MB, want 1400", c.residentBytes/mb)
	}
}

func TestCacheEvictsLowerPriorityBeforeLRU(t *testing.T) {
	c := newModelCache(2048 * mb)
	base := time.Now()

	low := cacheEntry("low-model", 800, base.Add(time.Hour)) // recently used
	low.Priority = events.PriorityLow
	old := cacheEntry("old-model", 800, base) // stale but higher priority
	old.Priority = events.PriorityHigh

	if _, err := c.insert(old); err != nil {
		t.Fatal(err)
	}
	if _, err := c.insert(low); err != nil {
		t.Fatal(err)
	}

	evicted, err := c.insert(cacheEntry("new-model", 600, base.Add(2*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 1 || evicted[0].ModelID != "low-model" {
		t.Fatalf("expected low-priority victim despite recency, got %v", evicted)
	}
}

func TestCacheRejectsOversizedModel(t *testing.T) {
	c := newModelCache(1024 * mb)

	_, err := c.insert(cacheEntry("huge", 2048, time.Now()))
	if !errors.Is(err, ErrModelTooLarge) {
		t.Fatalf("err = %v, want ErrModelTooLarge", err)
	}
	if c.residentBytes != 0 {
		t.Errorf("failed insert must not change residency, got %d", c.residentBytes)
	}
}

func TestCacheGetBumpsRecency(t *testing.T) {
	c := newModelCache(2048 * mb)
	base := time.Now()

	if _, err := c.insert(cacheEntry("model-a", 800, base)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.insert(cacheEntry("model-b", 800, base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	// Touch model-a so model-b becomes the LRU victim.
	if _, ok := c.get("model-a", base.Add(time.Minute)); !ok {
		t.Fatal("expected hit for model-a")
	}

	evicted, err := c.insert(cacheEntry("model-c", 600, base.Add(2*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 1 || evicted[0].ModelID != "model-b" {
		t.Fatalf("expected model-b evicted after model-a was touched, got %v", evicted)
	}

	stats := c.stats()
	if stats.Hits != 1 {
		t.Errorf("hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 3 {
		t.Errorf("misses = %d, want 3", stats.Misses)
	}
}

func TestCacheSetFractionEvictsDown(t *testing.T) {
	c := newModelCache(2000 * mb)
	base := time.Now()

	for i, id := range []string{"model-a", "model-b", "model-c", "model-d"} {
		if _, err := c.insert(cacheEntry(id, 400, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	// 40% of 2000MB = 800MB budget: the two oldest must go.
	evicted := c.setFraction(0.4)
	if len(evicted) != 2 {
		t.Fatalf("evicted %d entries, want 2", len(evicted))
	}
	if evicted[0].ModelID != "model-a" || evicted[1].ModelID != "model-b" {
		t.Errorf("eviction order = %s, %s; want model-a, model-b",
			evicted[0].ModelID, evicted[1].ModelID)
	}
	if c.residentBytes != 800*mb {
		t.Errorf("resident = %d MB, want 800", c.residentBytes/mb)
	}

	// Relaxing the fraction never evicts.
	if again := c.setFraction(1.0); len(again) != 0 {
		t.Errorf("relaxing fraction evicted %d entries", len(again))
	}
}

func TestCacheClear(t *testing.T) {
	c := newModelCache(2048 * mb)
	base := time.Now()

	for i, id := range []string{"model-a", "model-b"} {
		if _, err := c.insert(cacheEntry(id, 500, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	evicted := c.clear()
	if len(evicted) != 2 {
		t.Fatalf("clear evicted %d, want 2", len(evicted))
	}
	if c.residentBytes != 0 || len(c.entries) != 0 {
		t.Errorf("cache not empty after clear: %d bytes, %d entries",
			c.residentBytes, len(c.entries))
	}
}

func TestLoadLatencyScalesWithSizeAndCaps(t *testing.T) {
	small := loadLatency(512 * mb)
	large := loadLatency(2048 * mb)
	if small >= large {
		t.Errorf("latency should grow with size: %v >= %v", small, large)
	}
	if got := loadLatency(1024 * 1024 * mb); got != 2*time.Second {
		t.Errorf("latency cap = %v, want 2s", got)
	}
}
