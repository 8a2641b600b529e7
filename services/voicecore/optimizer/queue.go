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

	"golang.org/x/time/rate"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
)

// processingQueue holds requests sorted by priority (descending), FIFO
// within a tier.
//
// Thread Safety: NOT safe for concurrent use; the optimizer serializes
// access under its own mutex.
type processingQueue struct {
	config    QueueConfig
	requests  []*Request
	limiter   *rate.Limiter // non-nil while a throttle action is active
	evictions int64

	// avgLatencyMs is an exponential running average of queue wait time
	// observed at dequeue.
	avgLatencyMs float64
	haveLatency  bool
}

// latencyAlpha weights new observations in the latency running average.
const latencyAlpha = 0.2

// newProcessingQueue creates an empty queue.
func newProcessingQueue(cfg QueueConfig) *processingQueue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 32
	}
	return &processingQueue{config: cfg}
}

// insert adds a request, maintaining priority order and the MaxSize
// bound.
//
// # Description
//
// The insertion point is found by binary search on the priority tier.
// At capacity, the oldest low-priority entry is evicted first; if no
// low-priority entry exists, the oldest entry overall is evicted. The
// incoming request is never the eviction victim.
//
// # Outputs
//
//   - *Request: The evicted request, or nil if none was evicted.
func (q *processingQueue) insert(req *Request) *Request {
	var evicted *Request
	if len(q.requests) >= q.config.MaxSize {
		evicted = q.evictForOverflow()
	}

	// First index whose priority is strictly lower than the new
	// request's: equal-priority entries stay ahead (FIFO within tier).
	idx := sort.Search(len(q.requests), func(i int) bool {
		return q.requests[i].Priority < req.Priority
	})

	q.requests = append(q.requests, nil)
	copy(q.requests[idx+1:], q.requests[idx:])
	q.requests[idx] = req

	return evicted
}

// evictForOverflow removes and returns the overflow victim.
func (q *processingQueue) evictForOverflow() *Request {
	q.evictions++

	// Oldest low-priority entry: lows sit at the tail in FIFO order, so
	// the first low-priority element encountered is the oldest one.
	for i, r := range q.requests {
		if r.Priority == events.PriorityLow {
			victim := r
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return victim
		}
	}

	// No low-priority entry: evict the oldest entry overall.
	oldest := 0
	for i := 1; i < len(q.requests); i++ {
		if q.requests[i].Timestamp.Before(q.requests[oldest].Timestamp) {
			oldest = i
		}
	}
	victim := q.requests[oldest]
	q.requests = append(q.requests[:oldest], q.requests[oldest+1:]...)
	return victim
}

// dequeue removes and returns the highest-priority request, skipping
// entries whose timeout has expired.
//
// # Outputs
//
//   - *Request: The dequeued request, or nil if the queue is empty.
//   - int: Number of expired requests dropped during this call.
func (q *processingQueue) dequeue(now time.Time) (*Request, int) {
	expired := 0
	for len(q.requests) > 0 {
		req := q.requests[0]
		q.requests = q.requests[1:]

		if req.Timeout > 0 && now.Sub(req.Timestamp) > req.Timeout {
			expired++
			continue
		}

		q.observeLatency(now.Sub(req.Timestamp))
		return req, expired
	}
	return nil, expired
}

// observeLatency folds a queue wait time into the running average.
func (q *processingQueue) observeLatency(wait time.Duration) {
	ms := float64(wait.Milliseconds())
	if !q.haveLatency {
		q.avgLatencyMs = ms
		q.haveLatency = true
		return
	}
	q.avgLatencyMs = latencyAlpha*ms + (1-latencyAlpha)*q.avgLatencyMs
}

// stats returns a snapshot of this queue.
func (q *processingQueue) stats() QueueStats {
	return QueueStats{
		ID:               q.config.ID,
		Name:             q.config.Name,
		Depth:            len(q.requests),
		MaxSize:          q.config.MaxSize,
		AverageLatencyMs: q.avgLatencyMs,
		Throttled:        q.limiter != nil,
		Evictions:        q.evictions,
	}
}
