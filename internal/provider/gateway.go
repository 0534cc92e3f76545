// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package provider implements the Provider Gateway: a uniform request
// surface over N LLM backends with retries, warm-up, explicit unload,
// and per-model runtime options (spec.md 4.1).
//
// Backends are expressed as a capability abstraction rather than a
// string-keyed dynamic dispatch table: Generator is required of every
// backend, Warmer and Unloader are optional capabilities a backend may
// additionally implement (spec.md 9, "Dynamic dispatch over providers").
package provider

import (
	"context"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

// Generator is the capability every backend must implement.
type Generator interface {
	// Generate sends prompt to model with options and returns the raw
	// completion text. Errors are *engineerr.Error values classified per
	// spec.md's taxonomy.
	Generate(ctx context.Context, model string, prompt string, options domain.GenerationOptions) (string, error)
}

// Warmer is an optional capability for locally-hosted backends: it sends
// a minimal request with an extended timeout to force a model to load.
type Warmer interface {
	Warmup(ctx context.Context, model string, options domain.GenerationOptions) error
}

// Unloader is an optional capability for locally-hosted backends: it
// instructs the runtime to evict a model from memory.
type Unloader interface {
	Unload(ctx context.Context, model string) error
}

// Backend is the full set of capabilities a Provider Gateway backend may
// expose. Callers type-assert Generator implementations against Warmer
// and Unloader to discover optional capabilities, never against a
// backend-name string.
type Backend interface {
	Generator
	// Name identifies the backend for logging and tracing, e.g. "ollama".
	Name() string
}

// Gateway dispatches generate/warmup/unload calls to the registered
// backend for a provider id. It holds no cross-call state beyond the
// backends map itself; there is no shared mutable state requiring locks
// (spec.md 5).
type Gateway struct {
	backends map[string]Backend
	retry    RetryPolicy
}

// NewGateway builds a Gateway with the default 3-attempt / 5-10-20s
// retry policy (spec.md 4.1).
func NewGateway(backends ...Backend) *Gateway {
	g := &Gateway{backends: make(map[string]Backend, len(backends)), retry: DefaultRetryPolicy()}
	for _, b := range backends {
		g.backends[b.Name()] = b
	}
	return g
}

// WithRetryPolicy overrides the default retry policy and returns the
// receiver for chaining.
func (g *Gateway) WithRetryPolicy(p RetryPolicy) *Gateway {
	g.retry = p
	return g
}

func (g *Gateway) backend(name string) (Backend, error) {
	b, ok := g.backends[name]
	if !ok {
		return nil, unknownProviderError(name)
	}
	return b, nil
}

// Generate implements the retry contract from spec.md 4.1: on transport
// or 5xx-class failure, retry up to 3 attempts with backoff 5s/10s/20s.
// Content-shaped failures (non-JSON bodies, empty completions) are
// returned to the caller without retry.
func (g *Gateway) Generate(ctx context.Context, providerName, model, prompt string, options domain.GenerationOptions) (string, error) {
	b, err := g.backend(providerName)
	if err != nil {
		return "", err
	}
	return withRetry(ctx, g.retry, func() (string, error) {
		return b.Generate(ctx, model, prompt, options)
	})
}

// Warmup dispatches to the backend's Warmer capability if present; it is
// a no-op returning nil for backends that don't manage local residency.
func (g *Gateway) Warmup(ctx context.Context, providerName, model string, options domain.GenerationOptions) error {
	b, err := g.backend(providerName)
	if err != nil {
		return err
	}
	if w, ok := b.(Warmer); ok {
		return w.Warmup(ctx, model, options)
	}
	return nil
}

// Unload dispatches to the backend's Unloader capability if present.
func (g *Gateway) Unload(ctx context.Context, providerName, model string) error {
	b, err := g.backend(providerName)
	if err != nil {
		return err
	}
	if u, ok := b.(Unloader); ok {
		return u.Unload(ctx, model)
	}
	return nil
}

// SupportsResidency reports whether the named provider exposes both
// Warmer and Unloader, i.e. is a locally-hosted runtime subject to the
// scheduler's single-resident-model invariant.
func (g *Gateway) SupportsResidency(providerName string) bool {
	b, ok := g.backends[providerName]
	if !ok {
		return false
	}
	_, warms := b.(Warmer)
	_, unloads := b.(Unloader)
	return warms && unloads
}
