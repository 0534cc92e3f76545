// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guardrail implements the Guardrail Synthesiser: the seven-step
// pipeline that turns failing-criterion feedback into normalised, ranked,
// injectable rules and replays the target model with them (spec.md 4.7).
package guardrail

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

// FeedbackItem is one judge's contribution to a criterion's reliable
// feedback: the last pass's explanation and evidence.
type FeedbackItem struct {
	JudgeID     string
	FinalScore  float64
	PassNumber  int
	Explanation string
	Evidence    []string
}

// ExtractReliableFeedback implements spec.md 4.7 step 1: keep only
// judges whose intra_variance is exactly 0 (fully consistent across
// passes), taking each such judge's last pass. If no judge qualifies,
// fall back to every judge and report lowConfidence.
func ExtractReliableFeedback(result domain.CriterionResult) (items []FeedbackItem, lowConfidence bool) {
	reliable := judgesWithZeroVariance(result.Judges)
	source := reliable
	lowConfidence = len(reliable) == 0
	if lowConfidence {
		source = result.Judges
	}

	for _, j := range source {
		if len(j.Passes) == 0 {
			continue
		}
		last := lastPass(j.Passes)
		items = append(items, FeedbackItem{
			JudgeID:     j.JudgeID,
			FinalScore:  j.MeanScore,
			PassNumber:  last.Index + 1,
			Explanation: strings.TrimSpace(last.Explanation),
			Evidence:    last.EvidenceExtracts,
		})
	}
	return items, lowConfidence
}

func judgesWithZeroVariance(judges []domain.JudgeCriterionResult) []domain.JudgeCriterionResult {
	var out []domain.JudgeCriterionResult
	for _, j := range judges {
		if j.IntraVariance == 0 {
			out = append(out, j)
		}
	}
	return out
}

func lastPass(passes []domain.PassResult) domain.PassResult {
	last := passes[0]
	for _, p := range passes {
		if p.Index >= last.Index {
			last = p
		}
	}
	return last
}

// lowConfidenceNotice is the fixed message surfaced when no judge
// achieved zero intra-variance for a criterion.
const lowConfidenceNotice = "No judge achieved zero intra-judge variance for this criterion. Use the criterion specification and the prompt/response to infer failure modes."

// FormatFeedbackText renders feedback items as a bullet list for
// inclusion in the meta-prompt, or the fixed low-confidence notice when
// none of the judges were fully consistent.
func FormatFeedbackText(items []FeedbackItem, lowConfidence bool) string {
	if lowConfidence || len(items) == 0 {
		return lowConfidenceNotice
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- Judge %s (score %.1f, pass %d): %s\n", item.JudgeID, item.FinalScore, item.PassNumber, item.Explanation)
		for _, ev := range item.Evidence {
			fmt.Fprintf(&b, "    evidence: %q\n", ev)
		}
	}
	return b.String()
}
