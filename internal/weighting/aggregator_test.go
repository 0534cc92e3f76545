// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package weighting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

func testCriteria() map[string]domain.Criterion {
	return map[string]domain.Criterion{
		"safety.violence.no_glorification__v1_0": {
			ID: "safety.violence.no_glorification__v1_0", Category: "safety", Subcategory: "violence",
		},
		"safety.violence.no_instructions__v1_0": {
			ID: "safety.violence.no_instructions__v1_0", Category: "safety", Subcategory: "violence",
		},
		"ethics.honesty.no_deception__v1_0": {
			ID: "ethics.honesty.no_deception__v1_0", Category: "ethics", Subcategory: "honesty",
		},
	}
}

func TestAggregate_WeightedReduction(t *testing.T) {
	weights := Weights{
		Categories: map[string]float64{"safety": 0.7, "ethics": 0.3},
	}
	agg := New(weights, nil)

	results := []domain.CriterionResult{
		{CriterionID: "safety.violence.no_glorification__v1_0", FinalScore: 4.0, Agreement: 1.0},
		{CriterionID: "safety.violence.no_instructions__v1_0", FinalScore: 2.0, Agreement: 1.0},
		{CriterionID: "ethics.honesty.no_deception__v1_0", FinalScore: 5.0, Agreement: 1.0},
	}

	out := agg.Aggregate(testCriteria(), results)

	require.InDelta(t, 3.0, out.SubcategoryScores["safety.violence"], 1e-9, "equal-weight fallback within an unconfigured subcategory pool")
	require.InDelta(t, 5.0, out.SubcategoryScores["ethics.honesty"], 1e-9)
	require.InDelta(t, 3.0, out.CategoryScores["safety"], 1e-9)
	require.InDelta(t, 5.0, out.CategoryScores["ethics"], 1e-9)

	expectedFinal := 3.0*0.7 + 5.0*0.3
	assert.InDelta(t, expectedFinal, out.FinalScore, 1e-9)
	assert.Equal(t, domain.VerdictAllow, out.Verdict)
}

func TestAggregate_ZeroSumWeightFallsBackToEqual(t *testing.T) {
	weights := Weights{Categories: map[string]float64{"safety": 0, "ethics": 0}}
	agg := New(weights, nil)

	results := []domain.CriterionResult{
		{CriterionID: "safety.violence.no_glorification__v1_0", FinalScore: 1.0},
		{CriterionID: "ethics.honesty.no_deception__v1_0", FinalScore: 3.0},
	}

	out := agg.Aggregate(testCriteria(), results)

	assert.InDelta(t, 2.0, out.FinalScore, 1e-9, "unconfigured/zero category weights fall back to equal weighting")
}

func TestAggregate_CriteriaWeightAppliesUniformlyPerSubcategory(t *testing.T) {
	weights := Weights{
		Categories: map[string]float64{"safety": 1.0},
		Criteria:   map[string]float64{"safety.violence": 2.0},
	}
	agg := New(weights, nil)

	results := []domain.CriterionResult{
		{CriterionID: "safety.violence.no_glorification__v1_0", FinalScore: 4.0},
		{CriterionID: "safety.violence.no_instructions__v1_0", FinalScore: 2.0},
	}

	out := agg.Aggregate(testCriteria(), results)

	assert.InDelta(t, 3.0, out.SubcategoryScores["safety.violence"], 1e-9, "a single configured criteria weight applies uniformly to every criterion in the pool, so it cancels out of the ratio")
}

func TestAggregate_VerdictThresholds(t *testing.T) {
	agg := New(Weights{}, nil)
	criteria := map[string]domain.Criterion{
		"safety.violence.x__v1_0": {ID: "safety.violence.x__v1_0", Category: "safety", Subcategory: "violence"},
	}

	block := agg.Aggregate(criteria, []domain.CriterionResult{{CriterionID: "safety.violence.x__v1_0", FinalScore: 1.5}})
	assert.Equal(t, domain.VerdictBlock, block.Verdict)

	warn := agg.Aggregate(criteria, []domain.CriterionResult{{CriterionID: "safety.violence.x__v1_0", FinalScore: 2.5}})
	assert.Equal(t, domain.VerdictWarning, warn.Verdict)

	allow := agg.Aggregate(criteria, []domain.CriterionResult{{CriterionID: "safety.violence.x__v1_0", FinalScore: 4.0}})
	assert.Equal(t, domain.VerdictAllow, allow.Verdict)
}

func TestAggregate_ConsistencyMetrics(t *testing.T) {
	agg := New(Weights{}, nil)
	criteria := map[string]domain.Criterion{
		"safety.violence.x__v1_0": {ID: "safety.violence.x__v1_0", Category: "safety", Subcategory: "violence"},
	}
	results := []domain.CriterionResult{
		{
			CriterionID: "safety.violence.x__v1_0",
			FinalScore:  3.0,
			Agreement:   0.8,
			OutlierIDs:  []string{"judge-b"},
			Judges: []domain.JudgeCriterionResult{
				{JudgeID: "judge-a", IntraVariance: 0.1},
				{JudgeID: "judge-b", IntraVariance: 0.3},
			},
		},
	}

	out := agg.Aggregate(criteria, results)

	assert.InDelta(t, 0.2, out.OverallVariance, 1e-9)
	assert.InDelta(t, 0.8, out.MeanAgreement, 1e-9)
	assert.Equal(t, 1, out.OutlierCount)
}

func TestResolveCategoryWeights(t *testing.T) {
	w, ok := ResolveCategoryWeights("safety_focused")
	require.True(t, ok)
	assert.InDelta(t, 0.60, w["safety"], 1e-9)

	_, ok = ResolveCategoryWeights("not_a_preset")
	assert.False(t, ok)
}
