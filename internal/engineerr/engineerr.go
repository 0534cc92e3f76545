// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engineerr defines the error kinds used across the benchmarking
// engine (spec.md 7). Kinds are a fixed, small taxonomy rather than a
// type per error site, so callers can classify a failure with a single
// switch instead of type assertions.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy from spec.md 7.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigError
	KindAssetError
	KindTransportFailure
	KindTimeoutFailure
	KindAuthFailure
	KindRateLimited
	KindContentUnavailable
	KindParseFailure
	KindRuntimeExhaustion
	KindGuardrailGenerationFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfigError:
		return "ConfigError"
	case KindAssetError:
		return "AssetError"
	case KindTransportFailure:
		return "TransportFailure"
	case KindTimeoutFailure:
		return "TimeoutFailure"
	case KindAuthFailure:
		return "AuthFailure"
	case KindRateLimited:
		return "RateLimited"
	case KindContentUnavailable:
		return "ContentUnavailable"
	case KindParseFailure:
		return "ParseFailure"
	case KindRuntimeExhaustion:
		return "RuntimeExhaustion"
	case KindGuardrailGenerationFailure:
		return "GuardrailGenerationFailure"
	default:
		return "Unknown"
	}
}

// Fatal reports whether a run must abort when this kind surfaces at the
// top level (only startup/config/asset errors abort the run, per
// spec.md 7).
func (k Kind) Fatal() bool {
	return k == KindConfigError || k == KindAssetError
}

// Error wraps an underlying cause with a Kind and the ids it affected,
// so downgrades can be logged with full context (spec.md 7: "Every
// downgrade MUST be logged with the ids it affected").
type Error struct {
	Kind    Kind
	Message string
	Ids     map[string]string
	Cause   error

	// RetryHint is set for KindRateLimited when the provider supplied an
	// explicit hint delay.
	RetryHint string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithIds attaches identifying context (record id, criterion id, judge
// id, pass index...) and returns the receiver for chaining.
func (e *Error) WithIds(ids map[string]string) *Error {
	e.Ids = ids
	return e
}

// KindOf extracts the Kind from err, walking the error chain. Returns
// KindUnknown if err is nil or does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
