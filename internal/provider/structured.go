// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

// StructuredGenerator is the unified "constrained JSON generation"
// contract (spec.md 9): the caller sees one operation, the backend
// dispatches per provider's own mechanism (OpenAI's function calling
// with a pinned tool choice versus Anthropic's tool-calls) internally.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, model, prompt string, schemaName, schemaDescription string, schema map[string]any) (json.RawMessage, error)
}

// GenerateStructured implements StructuredGenerator for OpenAI via
// function-calling with tool_choice pinned to the single declared
// function, the SDK-level analogue of the beta chat-completions-parse
// path in the source implementation (spec.md 9's "Design Note").
func (b *OpenAIBackend) GenerateStructured(ctx context.Context, model, prompt, schemaName, schemaDescription string, schema map[string]any) (json.RawMessage, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: b.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Tools: []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        schemaName,
					Description: schemaDescription,
					Parameters:  schema,
				},
			},
		},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: schemaName},
		},
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, engineerr.New(engineerr.KindContentUnavailable, "openai returned no tool call")
	}
	return json.RawMessage(resp.Choices[0].Message.ToolCalls[0].Function.Arguments), nil
}

// GenerateStructured implements StructuredGenerator for Anthropic via a
// single forced tool call (tool_choice pinned to the one declared tool),
// the analogue of the source's messages.create(tools=..., tool_choice=...)
// path.
func (b *AnthropicBackend) GenerateStructured(ctx context.Context, model, prompt, schemaName, schemaDescription string, schema map[string]any) (json.RawMessage, error) {
	type toolDef struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	}
	type toolChoice struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	type toolUseBlock struct {
		Type  string          `json:"type"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}
	type structuredReq struct {
		Model      string             `json:"model"`
		Messages   []anthropicMessage `json:"messages"`
		MaxTokens  int                `json:"max_tokens"`
		Tools      []toolDef          `json:"tools"`
		ToolChoice toolChoice         `json:"tool_choice"`
	}
	type structuredResp struct {
		Content []toolUseBlock      `json:"content"`
		Error   *anthropicErrorBody `json:"error"`
	}

	req := structuredReq{
		Model:      model,
		Messages:   []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:  1024,
		Tools:      []toolDef{{Name: schemaName, Description: schemaDescription, InputSchema: schema}},
		ToolChoice: toolChoice{Type: "tool", Name: schemaName},
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindTransportFailure, "marshal anthropic structured request", err)
	}

	raw, err := b.postMessages(ctx, payload)
	if err != nil {
		return nil, err
	}

	var out structuredResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, engineerr.Wrap(engineerr.KindContentUnavailable, "malformed anthropic structured response", err)
	}
	if out.Error != nil {
		return nil, engineerr.New(engineerr.KindContentUnavailable, "anthropic error: "+out.Error.Message)
	}
	for _, block := range out.Content {
		if block.Type == "tool_use" && block.Name == schemaName {
			return block.Input, nil
		}
	}
	return nil, engineerr.New(engineerr.KindContentUnavailable, "anthropic returned no matching tool_use block")
}
