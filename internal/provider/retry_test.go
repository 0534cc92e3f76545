// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

func TestWithRetry_SucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, Backoffs: []time.Duration{time.Millisecond, time.Millisecond}}

	text, err := withRetry(context.Background(), policy, func() (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesTransportFailureThenSucceeds(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, Backoffs: []time.Duration{time.Millisecond, time.Millisecond}}

	text, err := withRetry(context.Background(), policy, func() (string, error) {
		calls++
		if calls < 2 {
			return "", engineerr.New(engineerr.KindTransportFailure, "flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_ContentFailureNeverRetried(t *testing.T) {
	calls := 0
	policy := DefaultRetryPolicy()

	_, err := withRetry(context.Background(), policy, func() (string, error) {
		calls++
		return "", engineerr.New(engineerr.KindContentUnavailable, "moderated")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "content-shaped failures are never retried")
}

func TestWithRetry_ExhaustsAfterMaxAttempts(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, Backoffs: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}

	_, err := withRetry(context.Background(), policy, func() (string, error) {
		calls++
		return "", engineerr.New(engineerr.KindTimeoutFailure, "always slow")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_RateLimitedWithoutHintFallsBackToBackoff(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 2, Backoffs: []time.Duration{time.Millisecond}}

	_, err := withRetry(context.Background(), policy, func() (string, error) {
		calls++
		return "", engineerr.New(engineerr.KindRateLimited, "no hint given")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_RateLimitedWithHintWaitsThenRetries(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 2, Backoffs: []time.Duration{time.Millisecond}}

	start := time.Now()
	_, err := withRetry(context.Background(), policy, func() (string, error) {
		calls++
		if calls == 1 {
			e := engineerr.New(engineerr.KindRateLimited, "slow down")
			e.RetryHint = "20ms"
			return "", e
		}
		return "ok", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond, "waitOnRateLimit blocks for roughly the hinted interval")
}

func TestRetryHintFromHeader(t *testing.T) {
	assert.Equal(t, "", retryHintFromHeader(""))
	assert.Equal(t, "30s", retryHintFromHeader("30"))
}
