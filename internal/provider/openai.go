// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

var openaiTracer = otel.Tracer("childguard.provider.openai")

// OpenAIBackend is a thin wrapper around github.com/sashabaranov/go-openai.
// It has no local residency, so it only implements Generator; the Gateway
// treats it as a remote backend not subject to the single-resident-model
// invariant.
type OpenAIBackend struct {
	client       *openai.Client
	systemPrompt string
}

// NewOpenAIBackend builds a backend from an API key and an optional
// system prompt (defaults to "You are a helpful assistant.").
func NewOpenAIBackend(apiKey, systemPrompt string) *OpenAIBackend {
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	return &OpenAIBackend{client: openai.NewClient(apiKey), systemPrompt: systemPrompt}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Generate(ctx context.Context, model, prompt string, options domain.GenerationOptions) (string, error) {
	_, span := openaiTracer.Start(ctx, "generate")
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: b.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}
	if options.NumPredict != nil {
		req.MaxCompletionTokens = *options.NumPredict
	}
	if len(options.StopSequences) > 0 {
		req.Stop = options.StopSequences
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", engineerr.New(engineerr.KindContentUnavailable, "openai returned zero choices")
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", engineerr.New(engineerr.KindContentUnavailable, "empty completion from openai")
	}
	return text, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if e, ok := err.(*openai.APIError); ok {
		apiErr = e
	}
	if apiErr == nil {
		return engineerr.Wrap(engineerr.KindTransportFailure, "openai request failed", err)
	}
	switch apiErr.HTTPStatusCode {
	case 401, 403:
		return engineerr.Wrap(engineerr.KindAuthFailure, "openai auth failed", err)
	case 429:
		return engineerr.Wrap(engineerr.KindRateLimited, "openai rate limited", err)
	case 500, 502, 503, 504:
		return engineerr.Wrap(engineerr.KindTransportFailure, "openai server error", err)
	default:
		return engineerr.Wrap(engineerr.KindContentUnavailable, "openai request rejected", err)
	}
}
