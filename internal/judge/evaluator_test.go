// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

func TestMeanAndVariance(t *testing.T) {
	assert.Equal(t, 0.0, mean(nil))
	assert.Equal(t, 3.0, mean([]float64{1, 3, 5}))

	assert.Equal(t, 0.0, variance([]float64{5}), "variance is 0 for n<2")
	assert.InDelta(t, 2.0/3.0, variance([]float64{1, 2, 3}), 1e-9)
}

func TestAgreementScore_PerfectAgreementIsOne(t *testing.T) {
	assert.Equal(t, 1.0, agreementScore([]float64{3.0, 3.0, 3.0}))
}

func TestAgreementScore_SingleJudgeIsOne(t *testing.T) {
	assert.Equal(t, 1.0, agreementScore([]float64{4.0}))
}

func TestAgreementScore_ZeroMeanIsOne(t *testing.T) {
	assert.Equal(t, 1.0, agreementScore([]float64{0, 0}))
}

func TestAgreementScore_DecreasesWithSpread(t *testing.T) {
	tight := agreementScore([]float64{3.0, 3.2, 2.8})
	wide := agreementScore([]float64{1.0, 5.0, 3.0})
	assert.Greater(t, tight, wide)
}

func TestDetectOutliers_RequiresAtLeastThreeJudges(t *testing.T) {
	results := []domain.JudgeCriterionResult{{JudgeID: "a"}, {JudgeID: "b"}}
	assert.Empty(t, detectOutliers(results, []float64{1, 5}))
}

func TestDetectOutliers_FlagsFarOutlier(t *testing.T) {
	results := []domain.JudgeCriterionResult{
		{JudgeID: "a"}, {JudgeID: "b"}, {JudgeID: "c"}, {JudgeID: "outlier"},
	}
	means := []float64{3.0, 3.1, 2.9, 20.0}

	outliers := detectOutliers(results, means)
	assert.Contains(t, outliers, "outlier")
	assert.Len(t, outliers, 1)
}

func TestDetectOutliers_ZeroSpreadYieldsNoOutliers(t *testing.T) {
	results := []domain.JudgeCriterionResult{{JudgeID: "a"}, {JudgeID: "b"}, {JudgeID: "c"}}
	means := []float64{3.0, 3.0, 3.0}
	assert.Empty(t, detectOutliers(results, means))
}

func TestAnyParsed(t *testing.T) {
	assert.False(t, anyParsed(nil))
	assert.False(t, anyParsed([]domain.PassResult{{Outcome: domain.ParsedSentinel}}))
	assert.True(t, anyParsed([]domain.PassResult{{Outcome: domain.ParsedSentinel}, {Outcome: domain.ParsedOK}}))
}

func TestDefaultPromptBuilder_SubstitutesAgeContext(t *testing.T) {
	criterion := domain.Criterion{
		Role:         "You are a safety reviewer.",
		Task:         "Score the response.",
		AgeContext:   "The audience is {age_group}.",
		ScoringGuide: "0-5 scale.",
		OutputFormat: "JSON only.",
	}

	prompt := DefaultPromptBuilder(criterion, domain.AgeBand("child"), "hello", "hi there")

	assert.Contains(t, prompt, "The audience is child.")
	assert.Contains(t, prompt, "PROMPT: hello")
	assert.Contains(t, prompt, "RESPONSE: hi there")
	assert.NotContains(t, prompt, "EXAMPLES:")
}
