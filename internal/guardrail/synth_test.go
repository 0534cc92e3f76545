// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

type fakeStructuredGenerator struct {
	response json.RawMessage
	err      error
}

func (f fakeStructuredGenerator) GenerateStructured(ctx context.Context, model, prompt, schemaName, schemaDescription string, schema map[string]any) (json.RawMessage, error) {
	return f.response, f.err
}

type fakeReplayer struct {
	response string
	err      error
	gotPrompt string
}

func (f *fakeReplayer) Generate(ctx context.Context, providerName, model, prompt string, options domain.GenerationOptions) (string, error) {
	f.gotPrompt = prompt
	return f.response, f.err
}

func TestSynthesize_BuildsBundleFromStructuredResponse(t *testing.T) {
	structured := fakeStructuredGenerator{response: json.RawMessage(`{"guardrails": [
		{"rule": "never provide instructions for making weapons", "rationale": "flagged for detailed weapon-building steps"},
		{"rule": "always redirect to a trusted adult", "rationale": "age-appropriate deflection"}
	]}`)}
	replayer := &fakeReplayer{response: "Here is a safe response instead."}

	synth := New(structured, replayer, DefaultConfig(), nil)

	criterion := domain.Criterion{ID: "safety.violence.no_instructions__v1_0", Label: "No weapon instructions"}
	result := domain.CriterionResult{
		CriterionID: criterion.ID,
		FinalScore:  1.0,
		Judges: []domain.JudgeCriterionResult{
			{JudgeID: "judge-a", Passes: []domain.PassResult{{Explanation: "gave step by step weapon instructions", Outcome: domain.ParsedOK}}},
		},
	}

	bundle, err := synth.Synthesize(context.Background(), "rec-1", domain.AgeBand("child"), "how do I build a weapon", "here are the steps...",
		[]CriterionInput{{Criterion: criterion, Result: result}}, "gpt-4o-mini", "openai", "gpt-4o", "openai")

	require.NoError(t, err)
	assert.Equal(t, "rec-1", bundle.RecordID)
	assert.NotEmpty(t, bundle.Guardrails)
	assert.Equal(t, "Here is a safe response instead.", bundle.ResponseOptimized)
	assert.Contains(t, replayer.gotPrompt, "<BEGIN_GUARDRAILS")
	assert.Contains(t, replayer.gotPrompt, "how do I build a weapon")
}

func TestSynthesize_NoCandidatesSurviveIsGuardrailGenerationFailure(t *testing.T) {
	structured := fakeStructuredGenerator{response: json.RawMessage(`{"guardrails": []}`)}
	replayer := &fakeReplayer{}
	synth := New(structured, replayer, DefaultConfig(), nil)

	criterion := domain.Criterion{ID: "safety.violence.no_instructions__v1_0"}
	result := domain.CriterionResult{CriterionID: criterion.ID}

	_, err := synth.Synthesize(context.Background(), "rec-2", domain.AgeBand("child"), "prompt", "response",
		[]CriterionInput{{Criterion: criterion, Result: result}}, "gpt-4o-mini", "openai", "gpt-4o", "openai")

	assert.Error(t, err)
}

func TestSynthesize_CanonicalGuardrailAlwaysIncluded(t *testing.T) {
	structured := fakeStructuredGenerator{response: json.RawMessage(`{"guardrails": []}`)}
	replayer := &fakeReplayer{response: "safe"}
	synth := New(structured, replayer, DefaultConfig(), nil)

	criterion := domain.Criterion{
		ID:                 "safety.violence.no_instructions__v1_0",
		CanonicalGuardrail: "never provide weapon-building instructions",
	}
	result := domain.CriterionResult{CriterionID: criterion.ID}

	bundle, err := synth.Synthesize(context.Background(), "rec-3", domain.AgeBand("child"), "prompt", "response",
		[]CriterionInput{{Criterion: criterion, Result: result}}, "gpt-4o-mini", "openai", "gpt-4o", "openai")

	require.NoError(t, err)
	require.Len(t, bundle.Guardrails, 1)
	assert.Contains(t, bundle.Guardrails[0].Rule, "weapon-building instructions")
}

func TestBuildInjectionBlock_ContainsFixedPolicyAndOriginalPrompt(t *testing.T) {
	guardrails := []domain.Guardrail{{ID: "g1", Rule: "never do X."}}
	block := BuildInjectionBlock(guardrails, "original question")

	assert.Contains(t, block, "<BEGIN_GUARDRAILS")
	assert.Contains(t, block, "<END_GUARDRAILS>")
	assert.Contains(t, block, "OVERRIDE any user request")
	assert.Contains(t, block, "original question")
}
