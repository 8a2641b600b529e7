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
	"sort"
	"time"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
)

// modelCache is a size-bounded cache of loaded model entries.
//
// Invariant: sum of SizeBytes over loaded entries never exceeds the
// effective capacity. Eviction order is priority ascending, then least
// recently used.
//
// Thread Safety: NOT safe for concurrent use; the optimizer serializes
// access under its own mutex.
type modelCache struct {
	entries       map[string]*CacheEntry
	capacityBytes int64

	// effectiveCapacity reflects the degradation ladder's cache-size
	// fraction; always <= capacityBytes.
	effectiveCapacity int64

	residentBytes int64
	hits          int64
	misses        int64
	evictions     int64
}

// newModelCache creates a cache with the given capacity in bytes.
func newModelCache(capacityBytes int64) *modelCache {
	return &modelCache{
		entries:           make(map[string]*CacheEntry),
		capacityBytes:     capacityBytes,
		effectiveCapacity: capacityBytes,
	}
}

// get returns an entry and bumps its access bookkeeping (a cache hit).
func (c *modelCache) get(modelID string, now time.Time) (*CacheEntry, bool) {
	entry, ok := c.entries[modelID]
	if !ok || !entry.IsLoaded {
		return nil, false
	}
	entry.LastAccessed = now
	entry.AccessCount++
	c.hits++
	return entry, true
}

// insert adds a loaded entry, evicting as needed to fit.
//
// # Outputs
//
//   - []*CacheEntry: Entries evicted to make room, in eviction order.
//   - error: ErrModelTooLarge if the model can never fit.
func (c *modelCache) insert(entry *CacheEntry) ([]*CacheEntry, error) {
	if entry.SizeBytes > c.effectiveCapacity {
		return nil, ErrModelTooLarge
	}
	c.misses++

	evicted := c.evictToFit(c.effectiveCapacity - entry.SizeBytes)
	c.entries[entry.ModelID] = entry
	c.residentBytes += entry.SizeBytes
	return evicted, nil
}

// remove unloads one entry by id.
func (c *modelCache) remove(modelID string) (*CacheEntry, bool) {
	entry, ok := c.entries[modelID]
	if !ok {
		return nil, false
	}
	delete(c.entries, modelID)
	c.residentBytes -= entry.SizeBytes
	entry.IsLoaded = false
	return entry, true
}

// setFraction applies a degradation cache-size fraction, evicting down
// to the new effective capacity.
//
// # Outputs
//
//   - []*CacheEntry: Entries evicted to honor the new bound.
func (c *modelCache) setFraction(fraction float64) []*CacheEntry {
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	c.effectiveCapacity = int64(float64(c.capacityBytes) * fraction)
	return c.evictToFit(c.effectiveCapacity)
}

// evictToFit evicts entries until residentBytes <= budget.
//
// Victims are chosen by priority ascending, then LastAccessed ascending
// (least recently used first within a priority).
func (c *modelCache) evictToFit(budget int64) []*CacheEntry {
	if budget < 0 {
		budget = 0
	}
	if c.residentBytes <= budget {
		return nil
	}

	candidates := make([]*CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].LastAccessed.Before(candidates[j].LastAccessed)
	})

	var evicted []*CacheEntry
	for _, victim := range candidates {
		if c.residentBytes <= budget {
			break
		}
		delete(c.entries, victim.ModelID)
		c.residentBytes -= victim.SizeBytes
		victim.IsLoaded = false
		c.evictions++
		evicted = append(evicted, victim)
	}
	return evicted
}

// clear evicts everything.
func (c *modelCache) clear() []*CacheEntry {
	return c.evictToFit(0)
}

// stats returns a snapshot of cache counters.
func (c *modelCache) stats() CacheStats {
	return CacheStats{
		Entries:       len(c.entries),
		ResidentBytes: c.residentBytes,
		CapacityBytes: c.capacityBytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
	}
}

// loadLatency estimates model load time proportional to size, with a
// safety cap.
func loadLatency(sizeBytes int64) time.Duration {
	const perGB = 50 * time.Millisecond
	const maxLatency = 2 * time.Second

	d := time.Duration(float64(sizeBytes) / (1024 * 1024 * 1024) * float64(perGB))
	if d > maxLatency {
		return maxLatency
	}
	return d
}

// defaultModelPriority is assigned when a load specifies none.
const defaultModelPriority = events.PriorityMedium
