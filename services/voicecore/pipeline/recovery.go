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

import (
	"context"
	"time"
)

// RetryPolicy bounds retry-with-backoff for retryable stage errors.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
}

// DefaultRetryPolicy returns the standard stage retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
	}
}

// withRetry runs fn under the policy, backing off exponentially between
// retryable failures. Non-retryable errors return immediately; context
// cancellation stops the backoff wait.
func withRetry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := policy.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		var out T
		out, err = fn(ctx)
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) || attempt == attempts {
			return zero, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return zero, err
}
