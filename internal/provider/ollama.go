// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

var ollamaTracer = otel.Tracer("childguard.provider.ollama")

// OllamaBackend talks to a local Ollama runtime over its HTTP API. It
// implements Generator, Warmer and Unloader, so the Gateway treats it as
// a locally-hosted backend subject to the single-resident-model
// invariant.
type OllamaBackend struct {
	httpClient *http.Client
	baseURL    string
}

// NewOllamaBackend builds a backend against baseURL (e.g.
// "http://localhost:11434"). Normal calls use a 600s client timeout by
// default; per-call RequestTimeout in GenerationOptions narrows it.
func NewOllamaBackend(baseURL string) *OllamaBackend {
	return &OllamaBackend{
		httpClient: &http.Client{Timeout: 600 * time.Second},
		baseURL:    baseURL,
	}
}

func (b *OllamaBackend) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (b *OllamaBackend) buildOptions(options domain.GenerationOptions) map[string]any {
	out := map[string]any{
		"temperature": 0.2,
		"top_k":       20,
		"top_p":       0.9,
		"num_predict": 8192,
	}
	if options.Temperature != nil {
		out["temperature"] = *options.Temperature
	}
	if options.TopK != nil {
		out["top_k"] = *options.TopK
	}
	if options.TopP != nil {
		out["top_p"] = *options.TopP
	}
	if options.NumPredict != nil {
		out["num_predict"] = *options.NumPredict
	}
	if options.NumCtx != nil {
		out["num_ctx"] = *options.NumCtx
	}
	if options.NumBatch != nil {
		out["num_batch"] = *options.NumBatch
	}
	if options.MainGPU != nil {
		out["main_gpu"] = *options.MainGPU
	}
	if len(options.TensorSplit) > 0 {
		out["tensor_split"] = options.TensorSplit
	}
	if len(options.StopSequences) > 0 {
		out["stop"] = options.StopSequences
	}
	return out
}

func (b *OllamaBackend) Generate(ctx context.Context, model, prompt string, options domain.GenerationOptions) (string, error) {
	ctx, span := ollamaTracer.Start(ctx, "generate", trace.WithAttributes())
	defer span.End()

	reqBody := ollamaGenerateRequest{
		Model:     model,
		Prompt:    prompt,
		Stream:    false,
		KeepAlive: options.KeepAlive,
		Options:   b.buildOptions(options),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindTransportFailure, "marshal ollama request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindTransportFailure, "build ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := b.httpClient
	if options.RequestTimeout > 0 {
		client = &http.Client{Timeout: options.RequestTimeout}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if IsTimeout(err) {
			return "", engineerr.Wrap(engineerr.KindTimeoutFailure, "ollama generate timed out", err)
		}
		return "", engineerr.Wrap(engineerr.KindTransportFailure, "ollama generate request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindTransportFailure, "read ollama response", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", engineerr.New(engineerr.KindContentUnavailable,
			fmt.Sprintf("model %q not found, run `ollama pull %s`", model, model))
	}
	if resp.StatusCode >= 500 {
		return "", engineerr.Wrap(engineerr.KindTransportFailure, fmt.Sprintf("ollama returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", engineerr.New(engineerr.KindContentUnavailable, fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, string(body)))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", engineerr.Wrap(engineerr.KindContentUnavailable, "malformed ollama response body", err)
	}
	if out.Response == "" {
		return "", engineerr.New(engineerr.KindContentUnavailable, "empty completion from ollama")
	}
	return out.Response, nil
}

// Warmup sends a minimal "ping" prompt with an extended timeout and the
// caller's keep_alive hint to force the model into memory.
func (b *OllamaBackend) Warmup(ctx context.Context, model string, options domain.GenerationOptions) error {
	warm := options
	if warm.RequestTimeout == 0 {
		warm.RequestTimeout = 5 * time.Minute
	}
	if warm.KeepAlive == "" {
		warm.KeepAlive = "15m"
	}
	_, err := b.Generate(ctx, model, "ok", warm)
	return err
}

// Unload sends keep_alive "0", the documented signal that instructs the
// runtime to evict the model immediately.
func (b *OllamaBackend) Unload(ctx context.Context, model string) error {
	unloadOpts := domain.GenerationOptions{KeepAlive: "0", RequestTimeout: 30 * time.Second, NumPredict: intPtr(1)}
	_, err := b.Generate(ctx, model, "bye", unloadOpts)
	if err != nil {
		return engineerr.Wrap(engineerr.KindRuntimeExhaustion, "unload failed for "+model, err)
	}
	return nil
}

func intPtr(v int) *int { return &v }
