// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

// RetryPolicy is the transport-failure retry contract from spec.md 4.1:
// a fixed number of attempts with a fixed backoff schedule. It never
// retries content-shaped failures (ContentUnavailable, ParseFailure) —
// only TransportFailure, TimeoutFailure and RateLimited (the last after
// waiting out its RetryHint when one is given).
type RetryPolicy struct {
	MaxAttempts int
	Backoffs    []time.Duration
}

// DefaultRetryPolicy is 3 attempts with backoffs of 5s, 10s, 20s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoffs:    []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
	}
}

func retryable(err error) bool {
	kind := engineerr.KindOf(err)
	return kind == engineerr.KindTransportFailure || kind == engineerr.KindTimeoutFailure
}

// waitOnRateLimit honors a provider's hint delay via a rate.Limiter
// scaled to the hint interval, rather than a hand-rolled sleep (spec.md
// 4.1's "optional hint delay" for RateLimited). A limiter is built fresh
// per call since the hint varies per response; Wait blocks for the
// single reservation it grants.
func waitOnRateLimit(ctx context.Context, err error) error {
	var e *engineerr.Error
	if !errors.As(err, &e) || e.Kind != engineerr.KindRateLimited || e.RetryHint == "" {
		return nil
	}
	hint, parseErr := time.ParseDuration(e.RetryHint)
	if parseErr != nil || hint <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(hint), 1)
	_ = limiter.Reserve() // consume the initial burst token so Wait blocks for one full interval
	return limiter.Wait(ctx)
}

func withRetry(ctx context.Context, policy RetryPolicy, attempt func() (string, error)) (string, error) {
	var lastErr error
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for i := 0; i < maxAttempts; i++ {
		text, err := attempt()
		if err == nil {
			return text, nil
		}
		lastErr = err
		rateLimited := engineerr.KindOf(err) == engineerr.KindRateLimited
		if !rateLimited && !retryable(err) {
			return "", err
		}
		if i == maxAttempts-1 {
			break
		}
		if rateLimited {
			var e *engineerr.Error
			if errors.As(err, &e) && e.RetryHint != "" {
				if waitErr := waitOnRateLimit(ctx, err); waitErr != nil {
					return "", waitErr
				}
				continue
			}
		}
		backoff := time.Duration(0)
		if i < len(policy.Backoffs) {
			backoff = policy.Backoffs[i]
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", engineerr.Wrap(engineerr.KindTransportFailure, "exhausted retry attempts", lastErr)
}

func unknownProviderError(name string) error {
	return engineerr.New(engineerr.KindConfigError, "unknown provider: "+name)
}

// IsTimeout reports whether err represents a context deadline or a
// provider-reported timeout, used by backends to classify a raw
// transport error into the taxonomy.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
