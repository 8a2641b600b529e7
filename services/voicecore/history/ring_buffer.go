// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history provides bounded in-memory retention primitives shared
// by the event bus (audit history) and the resource monitor (sample window).
package history

// RingBuffer is a fixed-capacity circular buffer.
//
// # Description
//
// Provides O(1) append with bounded memory. When full, the oldest item is
// overwritten. The voice core uses it wherever "keep the last N things"
// is the retention policy: event audit history, resource samples.
//
// # Thread Safety
//
// NOT safe for concurrent use; the owning component must synchronize.
type RingBuffer[T any] struct {
	data  []T
	head  int // next write position
	tail  int // oldest element position
	count int
	cap   int
	full  bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
//
// # Inputs
//
//   - capacity: Maximum number of elements to retain. Values <= 0 fall
//     back to a capacity of 100.
//
// # Outputs
//
//   - *RingBuffer[T]: Ready-to-use buffer.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &RingBuffer[T]{
		data: make([]T, capacity),
		cap:  capacity,
	}
}

// Push appends an item, evicting the oldest item when full.
func (r *RingBuffer[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % r.cap

	if r.full {
		r.tail = (r.tail + 1) % r.cap
	} else {
		r.count++
		if r.count == r.cap {
			r.full = true
		}
	}
}

// Pop removes and returns the oldest item.
//
// # Outputs
//
//   - T: The oldest item (zero value if empty).
//   - bool: False if the buffer is empty.
func (r *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}

	item := r.data[r.tail]
	r.data[r.tail] = zero
	r.tail = (r.tail + 1) % r.cap
	r.count--
	r.full = false
	return item, true
}

// Items returns a copy of all retained items, oldest first.
func (r *RingBuffer[T]) Items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.data[(r.tail+i)%r.cap])
	}
	return out
}

// Last returns a copy of the newest n items, oldest first.
//
// If n exceeds the current count, all items are returned.
func (r *RingBuffer[T]) Last(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]T, 0, n)
	start := r.count - n
	for i := start; i < r.count; i++ {
		out = append(out, r.data[(r.tail+i)%r.cap])
	}
	return out
}

// Len returns the number of retained items.
func (r *RingBuffer[T]) Len() int {
	return r.count
}

// Cap returns the maximum capacity.
func (r *RingBuffer[T]) Cap() int {
	return r.cap
}

// Clear removes all items, keeping the allocated capacity.
func (r *RingBuffer[T]) Clear() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.count = 0
	r.full = false
}
