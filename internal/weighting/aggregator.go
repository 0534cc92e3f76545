// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package weighting implements the Weighting Aggregator: a three-level
// weighted reduction from criteria to a single final score, with
// equal-weight fallback on a zero-weight sum at any level (spec.md 4.5).
package weighting

import (
	"strings"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
)

// Weights holds the three configured weight maps.
type Weights struct {
	Categories    map[string]float64            // category -> weight
	Subcategories map[string]map[string]float64 // category -> subcategory -> weight
	Criteria      map[string]float64             // "category.subcategory" -> weight
}

// Aggregator reduces a record's CriterionResults into AggregatedScores.
type Aggregator struct {
	weights Weights
	logger  *obslog.Logger
}

// New builds an Aggregator over the given weight configuration.
func New(weights Weights, logger *obslog.Logger) *Aggregator {
	if logger == nil {
		logger = obslog.Default()
	}
	return &Aggregator{weights: weights, logger: logger}
}

// criterionKey returns a criterion's Category field and its
// "category.subcategory" key built from the Category and Subcategory
// fields, using "default" for either field when it is empty. The id
// itself is not parsed.
func criterionKey(criterion domain.Criterion) (category, subcategoryKey string) {
	category = criterion.Category
	subcategory := criterion.Subcategory
	if category == "" {
		category = "default"
	}
	if subcategory == "" {
		subcategory = "default"
	}
	return category, category + "." + subcategory
}

// level computes Σ(w_i · child_i) / Σ(w_i) over children keyed by id,
// falling back to equal weights 1/k when the configured weight sum is
// zero (spec.md 4.5, 8). The fallback is logged as a warning with the
// affected keys so silent misconfiguration is visible (spec.md 4.5, 7).
func (a *Aggregator) level(levelName string, children map[string]float64, weightsByKey map[string]float64) float64 {
	if len(children) == 0 {
		return 0
	}

	var weightSum float64
	weighted := make(map[string]float64, len(children))
	for key := range children {
		w := weightsByKey[key]
		if w < 0 {
			w = 0
		}
		weighted[key] = w
		weightSum += w
	}

	if weightSum == 0 {
		a.logger.Warn("zero-sum weights at level, falling back to equal weights", "level", levelName, "keys", strings.Join(keysOf(children), ","))
		equal := 1.0 / float64(len(children))
		var sum float64
		for _, score := range children {
			sum += equal * score
		}
		return clamp(sum)
	}

	var sum float64
	for key, score := range children {
		sum += weighted[key] * score
	}
	return clamp(sum / weightSum)
}

func keysOf(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// Aggregate performs the criterion -> subcategory -> category -> final
// reduction over results, plus the consistency summary (spec.md 4.5).
func (a *Aggregator) Aggregate(criteria map[string]domain.Criterion, results []domain.CriterionResult) domain.AggregatedScores {
	// Group criterion scores by "category.subcategory".
	subcatChildren := map[string]map[string]float64{} // subcatKey -> criterionID -> score
	criterionToSubcat := map[string]string{}
	criterionToCategory := map[string]string{}

	for _, r := range results {
		crit, ok := criteria[r.CriterionID]
		if !ok {
			continue
		}
		category, subcatKey := criterionKey(crit)
		criterionToCategory[r.CriterionID] = category
		criterionToSubcat[r.CriterionID] = subcatKey
		if subcatChildren[subcatKey] == nil {
			subcatChildren[subcatKey] = map[string]float64{}
		}
		subcatChildren[subcatKey][r.CriterionID] = r.FinalScore
	}

	subcategoryScores := map[string]float64{}
	for subcatKey, children := range subcatChildren {
		criteriaWeights := map[string]float64{}
		for critID := range children {
			criteriaWeights[critID] = a.weights.Criteria[subcatKey]
		}
		subcategoryScores[subcatKey] = a.level("criterion->subcategory:"+subcatKey, children, equalIfZero(criteriaWeights))
	}

	// Group subcategory scores by category.
	categoryChildren := map[string]map[string]float64{}
	subcatToCategory := map[string]string{}
	for subcatKey := range subcategoryScores {
		category := categoryOf(subcatKey)
		subcatToCategory[subcatKey] = category
		if categoryChildren[category] == nil {
			categoryChildren[category] = map[string]float64{}
		}
		categoryChildren[category][subcatKey] = subcategoryScores[subcatKey]
	}

	categoryScores := map[string]float64{}
	for category, children := range categoryChildren {
		subcatWeights := map[string]float64{}
		for subcatKey := range children {
			subName := subcategoryNameOf(subcatKey)
			subcatWeights[subcatKey] = a.weights.Subcategories[category][subName]
		}
		categoryScores[category] = a.level("subcategory->category:"+category, children, equalIfZero(subcatWeights))
	}

	final := a.level("category->final", categoryScores, a.weights.Categories)

	overallVariance, meanAgreement, outlierCount := consistencyMetrics(results)

	return domain.AggregatedScores{
		FinalScore:        final,
		Verdict:           domain.VerdictFromScore(final),
		CategoryScores:    categoryScores,
		SubcategoryScores: subcategoryScores,
		OverallVariance:   overallVariance,
		MeanAgreement:     meanAgreement,
		OutlierCount:      outlierCount,
	}
}

// equalIfZero is a defensive no-op passthrough: the zero-sum fallback
// itself is handled inside level(); this exists so callers building a
// per-key weight map from a possibly-absent config entry don't need to
// special-case "weight undefined" versus "weight configured as zero" —
// both naturally sum to zero and trigger the same equal-weight fallback.
func equalIfZero(weights map[string]float64) map[string]float64 { return weights }

func categoryOf(subcatKey string) string {
	if idx := strings.Index(subcatKey, "."); idx >= 0 {
		return subcatKey[:idx]
	}
	return subcatKey
}

func subcategoryNameOf(subcatKey string) string {
	if idx := strings.Index(subcatKey, "."); idx >= 0 {
		return subcatKey[idx+1:]
	}
	return subcatKey
}

// consistencyMetrics computes overall_variance (mean of all
// intra-judge variances), mean_agreement (mean of per-criterion
// agreement scores), and outlier_count (spec.md 4.5).
func consistencyMetrics(results []domain.CriterionResult) (overallVariance, meanAgreement float64, outlierCount int) {
	var varianceSum, agreementSum float64
	var varianceN, agreementN int

	for _, r := range results {
		agreementSum += r.Agreement
		agreementN++
		outlierCount += len(r.OutlierIDs)
		for _, j := range r.Judges {
			varianceSum += j.IntraVariance
			varianceN++
		}
	}

	if varianceN > 0 {
		overallVariance = varianceSum / float64(varianceN)
	}
	if agreementN > 0 {
		meanAgreement = agreementSum / float64(agreementN)
	}
	return overallVariance, meanAgreement, outlierCount
}
