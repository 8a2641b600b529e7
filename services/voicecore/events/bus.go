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

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/HearthCore/services/voicecore/history"
)

// TypeWildcard subscribes to every event type.
const TypeWildcard Type = ""

// Handler processes a delivered event.
type Handler func(event Event)

// Filter decides whether a subscriber receives an event.
type Filter func(event Event) bool

// subscription is an internal registration record.
type subscription struct {
	id        string
	eventType Type
	handler   Handler
	filter    Filter
	priority  int
	seq       uint64 // insertion order, for stable delivery among equals
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithFilter adds a predicate evaluated before delivery.
func WithFilter(f Filter) SubscribeOption {
	return func(s *subscription) {
		s.filter = f
	}
}

// WithSubscriberPriority sets delivery priority. Higher values are
// delivered first within a single publish call. Default is 0.
func WithSubscriberPriority(priority int) SubscribeOption {
	return func(s *subscription) {
		s.priority = priority
	}
}

// Bus is the voice core's typed publish/subscribe hub.
//
// # Description
//
// Publish sanitizes the event payload, appends the event to a bounded
// audit history (oldest evicted first), then invokes matching
// subscribers in descending subscriber-priority order. Panicking
// subscribers are recovered and reported via a subscriber-error event;
// they never block delivery to the remaining subscribers.
//
// The bus owns only transient history, never business state.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Type][]*subscription
	byID    map[string]*subscription
	buffer  *history.RingBuffer[Event]
	nextSeq uint64
	logger  *slog.Logger

	// onSubscriberError is an optional hook for observability counters.
	onSubscriberError func(eventType Type)
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize sets the audit history capacity (default 1000).
func WithHistorySize(size int) Option {
	return func(b *Bus) {
		b.buffer = history.NewRingBuffer[Event](size)
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithSubscriberErrorHook registers a callback invoked whenever a
// subscriber panics during delivery. Used to feed metrics counters.
func WithSubscriberErrorHook(fn func(eventType Type)) Option {
	return func(b *Bus) {
		b.onSubscriberError = fn
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[Type][]*subscription),
		byID:   make(map[string]*subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.buffer == nil {
		b.buffer = history.NewRingBuffer[Event](1000)
	}
	b.logger = b.logger.With(slog.String("subsystem", "event_bus"))
	return b
}

// Subscribe registers a handler for an event type.
//
// # Inputs
//
//   - eventType: Type to receive, or TypeWildcard for all types.
//   - handler: Function invoked for each matching event. Must not be nil.
//   - opts: Optional filter and delivery priority.
//
// # Outputs
//
//   - string: Subscription ID for Unsubscribe.
func (b *Bus) Subscribe(eventType Type, handler Handler, opts ...SubscribeOption) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		seq:       b.nextSeq,
	}
	b.nextSeq++

	for _, opt := range opts {
		opt(sub)
	}

	b.subs[eventType] = append(b.subs[eventType], sub)
	b.byID[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription.
//
// # Outputs
//
//   - bool: True if the subscription existed and was removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)

	list := b.subs[sub.eventType]
	for i, s := range list {
		if s.id == id {
			b.subs[sub.eventType] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.eventType]) == 0 {
		delete(b.subs, sub.eventType)
	}
	return true
}

// Publish sanitizes and delivers an event.
//
// # Description
//
// Assigns ID and timestamp if unset, sanitizes the payload (see
// SanitizePayload), records the sanitized event in history, then invokes
// matching subscribers in descending priority order, FIFO among equal
// priorities. Subscribers receive the sanitized event; raw payloads
// never leave the publisher.
//
// # Thread Safety
//
// Safe for concurrent use. Delivery order is deterministic within one
// Publish call; no ordering is guaranteed across concurrent publishes.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Payload = SanitizePayload(event.Payload)

	b.mu.Lock()
	b.buffer.Push(event)
	matched := b.matchingSubsLocked(event.Type)
	b.mu.Unlock()

	for _, sub := range matched {
		if sub.filter != nil && !safeFilter(sub.filter, event) {
			continue
		}
		b.safeInvoke(sub, event)
	}
}

// matchingSubsLocked collects typed and wildcard subscribers sorted for
// delivery. Caller must hold at least a read lock.
func (b *Bus) matchingSubsLocked(eventType Type) []*subscription {
	matched := make([]*subscription, 0,
		len(b.subs[eventType])+len(b.subs[TypeWildcard]))
	matched = append(matched, b.subs[eventType]...)
	if eventType != TypeWildcard {
		matched = append(matched, b.subs[TypeWildcard]...)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority > matched[j].priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// safeInvoke runs a handler with panic recovery.
func (b *Bus) safeInvoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				slog.String("event_type", string(event.Type)),
				slog.String("event_id", event.ID),
				slog.String("subscription_id", sub.id),
				slog.Any("panic", r),
			)
			if b.onSubscriberError != nil {
				b.onSubscriberError(event.Type)
			}
			// Guard against recursive failure reporting.
			if event.Type != TypeSubscriberError {
				b.Publish(Event{
					Type:     TypeSubscriberError,
					Source:   "event_bus",
					Priority: PriorityHigh,
					Payload: map[string]any{
						"failed_event_type": string(event.Type),
						"failed_event_id":   event.ID,
						"subscription_id":   sub.id,
					},
				})
			}
		}
	}()
	sub.handler(event)
}

// safeFilter evaluates a filter with panic recovery. A panicking filter
// counts as a non-match.
func safeFilter(f Filter, event Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return f(event)
}

// History returns events matching the filter, oldest first.
//
// # Inputs
//
//   - filter: Selection criteria; the zero value matches everything.
//   - limit: Maximum number of events to return, newest retained.
//     Values <= 0 mean no limit.
func (b *Bus) History(filter HistoryFilter, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.buffer.Items() {
		if filter.matches(ev) {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ClearHistory removes all buffered events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer.Clear()
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}
