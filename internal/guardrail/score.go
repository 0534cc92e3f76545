// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9']+`)

// Tokenize lowercases text and returns tokens of length > 2 (spec.md 4.7
// step 6: "tokenise ... length > 2").
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) > 2 {
			out = append(out, m)
		}
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

// ExtractKeywords builds the keyword set from the aggregated reliable
// feedback text (spec.md 4.7 step 6, "Keyword set").
func ExtractKeywords(feedbackText string) map[string]struct{} {
	return tokenSet(feedbackText)
}

const lengthPenaltyDefault = 0.002

// ScoreRule computes |tokens(rule) intersect keywords| - lengthPenalty *
// len(rule) (spec.md 4.7 step 6, "Coverage score"). lengthPenalty
// defaults to lengthPenaltyDefault when zero.
func ScoreRule(rule string, keywords map[string]struct{}, lengthPenalty float64) float64 {
	if lengthPenalty == 0 {
		lengthPenalty = lengthPenaltyDefault
	}
	overlap := 0
	for _, t := range Tokenize(rule) {
		if _, ok := keywords[t]; ok {
			overlap++
		}
	}
	return float64(overlap) - lengthPenalty*float64(len(rule))
}

// Candidate is a scored, not-yet-deduplicated guardrail rule.
type Candidate struct {
	CriterionID string
	Rule        string
	Rationale   string
	Score       float64
	Tokens      map[string]struct{}
}

// jaccard computes the Jaccard similarity of two token sets, returning
// 0 if either is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// rulesAreSimilar reports whether two rule texts are near-duplicates
// under the configured Jaccard threshold.
func rulesAreSimilar(a, b string, threshold float64) bool {
	return jaccard(tokenSet(a), tokenSet(b)) >= threshold
}
