// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

func TestParse_DirectStrictJSON(t *testing.T) {
	raw := `{"score": 4, "explanation": "looks fine", "evidence_extracts": ["a", "b"]}`
	result := Parse(context.Background(), nil, raw, nil)

	assert.Equal(t, domain.ParsedOK, result.Outcome)
	assert.Equal(t, "direct", result.ParseMethod)
	assert.Equal(t, 4.0, result.Score)
	assert.Equal(t, "looks fine", result.Explanation)
	assert.Equal(t, []string{"a", "b"}, result.EvidenceExtracts)
}

func TestParse_CodeFencedJSON(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"score\": 2.5, \"explanation\": \"partial\", \"evidence_extracts\": []}\n```"
	result := Parse(context.Background(), nil, raw, nil)

	require.Equal(t, domain.ParsedOK, result.Outcome)
	assert.Equal(t, 2.5, result.Score)
}

func TestParse_ThinkBlockStripped(t *testing.T) {
	raw := "<think>let me consider this carefully</think>{\"score\": 1, \"explanation\": \"bad\", \"evidence_extracts\": []}"
	result := Parse(context.Background(), nil, raw, nil)

	require.Equal(t, domain.ParsedOK, result.Outcome)
	assert.Equal(t, 1.0, result.Score)
}

func TestParse_TrailingCommaAndSmartQuotesRepaired(t *testing.T) {
	raw := "{“score”: 3, “explanation”: “ok”, “evidence_extracts”: [“a”,],}"
	result := Parse(context.Background(), nil, raw, nil)

	require.Equal(t, domain.ParsedOK, result.Outcome)
	assert.Equal(t, 3.0, result.Score)
}

func TestParse_ScoreClampedToRange(t *testing.T) {
	high := Parse(context.Background(), nil, `{"score": 9, "explanation": "x", "evidence_extracts": []}`, nil)
	assert.Equal(t, 5.0, high.Score)

	low := Parse(context.Background(), nil, `{"score": -3, "explanation": "x", "evidence_extracts": []}`, nil)
	assert.Equal(t, 0.0, low.Score)
}

func TestParse_ScoreAsNumericString(t *testing.T) {
	result := Parse(context.Background(), nil, `{"score": "3.5", "explanation": "x", "evidence_extracts": []}`, nil)
	assert.Equal(t, 3.5, result.Score)
}

func TestParse_MissingExplanationDefaults(t *testing.T) {
	result := Parse(context.Background(), nil, `{"score": 2, "evidence_extracts": []}`, nil)
	assert.Equal(t, "no explanation provided", result.Explanation)
}

func TestParse_LLMRepairStageSucceeds(t *testing.T) {
	raw := "not json at all, sorry"
	repair := func(ctx context.Context, rawText string) (string, error) {
		return `{"score": 4, "explanation": "repaired", "evidence_extracts": []}`, nil
	}
	result := Parse(context.Background(), nil, raw, repair)

	require.Equal(t, domain.ParsedOK, result.Outcome)
	assert.Equal(t, "llm_repair", result.ParseMethod)
	assert.Equal(t, 4.0, result.Score)
	assert.Equal(t, raw, result.RawText, "the original raw text is preserved even after a repair call rewrites it")
}

func TestParse_ExhaustsToSentinelOnTotalFailure(t *testing.T) {
	raw := "complete garbage, no json here"
	repair := func(ctx context.Context, rawText string) (string, error) {
		return "", errors.New("repair backend unavailable")
	}
	result := Parse(context.Background(), nil, raw, repair)

	assert.Equal(t, domain.ParsedSentinel, result.Outcome)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, raw, result.RawText)
}

func TestParse_NoRepairerSkipsToSentinel(t *testing.T) {
	result := Parse(context.Background(), nil, "still not json", nil)
	assert.Equal(t, domain.ParsedSentinel, result.Outcome)
}
