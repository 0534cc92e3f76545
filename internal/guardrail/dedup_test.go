// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_LowercasesAndDropsShortTokens(t *testing.T) {
	tokens := Tokenize("Do NOT mention weapons or war, ok?")
	assert.Equal(t, []string{"not", "mention", "weapons", "war"}, tokens)
}

func TestScoreRule_RewardsKeywordOverlapPenalizesLength(t *testing.T) {
	keywords := map[string]struct{}{"weapons": {}, "violence": {}}

	short := ScoreRule("never mention weapons", keywords, 0)
	long := ScoreRule("never ever under any circumstances mention weapons of any kind whatsoever", keywords, 0)

	assert.Greater(t, short, long, "a shorter rule with the same keyword overlap scores higher")
}

func TestDeduplicate_DropsNearDuplicateKeepingShortest(t *testing.T) {
	candidates := []Candidate{
		{CriterionID: "c1", Rule: "do not describe methods of self harm in detail"},
		{CriterionID: "c1", Rule: "do not describe self harm methods"},
	}

	out := Deduplicate(candidates, 0.6)

	require.Len(t, out, 1)
	assert.Equal(t, "do not describe self harm methods", out[0].Rule)
}

func TestDeduplicate_KeepsDissimilarRules(t *testing.T) {
	candidates := []Candidate{
		{CriterionID: "c1", Rule: "do not describe weapon assembly"},
		{CriterionID: "c1", Rule: "always cite a trusted medical source"},
	}

	out := Deduplicate(candidates, 0.75)
	assert.Len(t, out, 2)
}

func TestSelectTopPerCriterion_SortsByScoreThenLength(t *testing.T) {
	candidates := []Candidate{
		{Rule: "a longer rule about the same thing", Score: 3},
		{Rule: "short rule", Score: 3},
		{Rule: "top scoring rule", Score: 5},
	}

	out := SelectTopPerCriterion(candidates, 2)

	require.Len(t, out, 2)
	assert.Equal(t, "top scoring rule", out[0].Rule)
	assert.Equal(t, "short rule", out[1].Rule, "ties break by shorter rule text")
}

func TestGlobalCap_LimitsToMaxTotal(t *testing.T) {
	candidates := []Candidate{
		{Rule: "a", Score: 1}, {Rule: "b", Score: 2}, {Rule: "c", Score: 3},
	}
	out := GlobalCap(candidates, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Rule)
	assert.Equal(t, "b", out[1].Rule)
}

func TestGlobalCap_ZeroMeansUnlimited(t *testing.T) {
	candidates := []Candidate{{Rule: "a", Score: 1}, {Rule: "b", Score: 2}}
	assert.Len(t, GlobalCap(candidates, 0), 2)
}
