// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import "sort"

// DefaultJaccardThreshold is the similarity threshold above which two
// rules are considered duplicates (spec.md 4.7 step 6, "Jaccard dedup").
const DefaultJaccardThreshold = 0.75

// Deduplicate keeps, for each cluster of pairwise-similar candidates,
// only the shortest rule text, processing candidates in their given
// order. A candidate similar to an existing kept entry is dropped
// unless it is strictly shorter than every similar entry, in which case
// it replaces all of them.
//
// This produces the invariant from spec.md 8: "For any two guardrails
// g1, g2 in the same bundle, jaccard(tokens(g1), tokens(g2)) < 0.75."
func Deduplicate(candidates []Candidate, threshold float64) []Candidate {
	if threshold <= 0 {
		threshold = DefaultJaccardThreshold
	}

	var kept []Candidate
	for _, c := range candidates {
		var similar []int
		shorterThanAll := true
		for i, k := range kept {
			if !rulesAreSimilar(c.Rule, k.Rule, threshold) {
				continue
			}
			similar = append(similar, i)
			if len(c.Rule) >= len(k.Rule) {
				shorterThanAll = false
			}
		}

		if len(similar) == 0 {
			kept = append(kept, c)
			continue
		}

		if !shorterThanAll {
			// Similar to something already kept that is no longer than
			// it: dropped.
			continue
		}

		kept = removeIndices(kept, similar)
		kept = append(kept, c)
	}

	return kept
}

func removeIndices(items []Candidate, indices []int) []Candidate {
	drop := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		drop[i] = struct{}{}
	}
	out := make([]Candidate, 0, len(items))
	for i, item := range items {
		if _, ok := drop[i]; ok {
			continue
		}
		out = append(out, item)
	}
	return out
}

// SelectTopPerCriterion sorts candidates by (score desc, length asc)
// and keeps at most maxRules (spec.md 4.7 step 6, "Selection").
func SelectTopPerCriterion(candidates []Candidate, maxRules int) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return len(sorted[i].Rule) < len(sorted[j].Rule)
	})
	if maxRules > 0 && len(sorted) > maxRules {
		sorted = sorted[:maxRules]
	}
	return sorted
}

// GlobalCap retains at most maxTotal candidates by overall score across
// every criterion (spec.md 4.7 step 7).
func GlobalCap(candidates []Candidate, maxTotal int) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return len(sorted[i].Rule) < len(sorted[j].Rule)
	})
	if maxTotal > 0 && len(sorted) > maxTotal {
		sorted = sorted[:maxTotal]
	}
	return sorted
}
