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

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

var anthropicTracer = otel.Tracer("childguard.provider.anthropic")

const anthropicCacheThreshold = 1024

// AnthropicBackend calls the Messages API directly over HTTP (no SDK),
// mirroring the raw-HTTP approach the teacher uses for this provider. It
// implements Generator only: Anthropic is a remote provider with no
// local residency for the scheduler to manage.
type AnthropicBackend struct {
	httpClient *http.Client
	apiKey     string
	apiVersion string
}

// NewAnthropicBackend builds a backend from an API key.
func NewAnthropicBackend(apiKey string) *AnthropicBackend {
	return &AnthropicBackend{
		httpClient: &http.Client{Timeout: 300 * time.Second},
		apiKey:     apiKey,
		apiVersion: "2023-06-01",
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

type anthropicSystemBlock struct {
	Type         string             `json:"type"`
	Text         string             `json:"text"`
	CacheControl *anthropicCacheCtl `json:"cache_control,omitempty"`
}

type anthropicCacheCtl struct {
	Type string `json:"type"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string                 `json:"model"`
	Messages    []anthropicMessage     `json:"messages"`
	System      []anthropicSystemBlock `json:"system,omitempty"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	StopSeqs    []string               `json:"stop_sequences,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *anthropicErrorBody     `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (b *AnthropicBackend) Generate(ctx context.Context, model, prompt string, options domain.GenerationOptions) (string, error) {
	_, span := anthropicTracer.Start(ctx, "generate")
	defer span.End()

	maxTokens := 4096
	if options.NumPredict != nil {
		maxTokens = *options.NumPredict
	}

	req := anthropicRequest{
		Model:       model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: options.Temperature,
		TopP:        options.TopP,
		StopSeqs:    options.StopSequences,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindTransportFailure, "marshal anthropic request", err)
	}

	body, err := b.postMessagesWithTimeout(ctx, payload, options.RequestTimeout)
	if err != nil {
		return "", err
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", engineerr.Wrap(engineerr.KindContentUnavailable, "malformed anthropic response body", err)
	}
	if out.Error != nil {
		return "", engineerr.New(engineerr.KindContentUnavailable, "anthropic error: "+out.Error.Message)
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", engineerr.New(engineerr.KindContentUnavailable, "empty completion from anthropic")
	}
	return text, nil
}

// postMessages posts payload to the Messages endpoint using the
// backend's default HTTP client and returns the raw response body,
// classifying transport-level failures into the error taxonomy.
func (b *AnthropicBackend) postMessages(ctx context.Context, payload []byte) ([]byte, error) {
	return b.postMessagesWithTimeout(ctx, payload, 0)
}

func (b *AnthropicBackend) postMessagesWithTimeout(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindTransportFailure, "build anthropic request", err)
	}
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", b.apiVersion)
	httpReq.Header.Set("content-type", "application/json")

	client := b.httpClient
	if timeout > 0 {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if IsTimeout(err) {
			return nil, engineerr.Wrap(engineerr.KindTimeoutFailure, "anthropic request timed out", err)
		}
		return nil, engineerr.Wrap(engineerr.KindTransportFailure, "anthropic request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindTransportFailure, "read anthropic response", err)
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return nil, engineerr.New(engineerr.KindAuthFailure, "anthropic auth failed")
	}
	if resp.StatusCode == 429 {
		rateErr := engineerr.New(engineerr.KindRateLimited, "anthropic rate limited")
		rateErr.RetryHint = retryHintFromHeader(resp.Header.Get("retry-after"))
		return nil, rateErr
	}
	if resp.StatusCode >= 500 {
		return nil, engineerr.Wrap(engineerr.KindTransportFailure, fmt.Sprintf("anthropic returned %d", resp.StatusCode), nil)
	}
	return body, nil
}

// retryHintFromHeader converts a Retry-After header value (seconds) into
// a Go duration string consumable by the gateway's rate-limiter wait.
func retryHintFromHeader(value string) string {
	if value == "" {
		return ""
	}
	return value + "s"
}

// buildSystemBlocks attaches cache_control to a system prompt longer
// than anthropicCacheThreshold characters, matching the provider's
// prompt-caching eligibility rule.
func buildSystemBlocks(systemPrompt string) []anthropicSystemBlock {
	if systemPrompt == "" {
		return nil
	}
	block := anthropicSystemBlock{Type: "text", Text: systemPrompt}
	if len(systemPrompt) > anthropicCacheThreshold {
		block.CacheControl = &anthropicCacheCtl{Type: "ephemeral"}
	}
	return []anthropicSystemBlock{block}
}
