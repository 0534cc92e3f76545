// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package parser implements the Response Parser: turning a judge's raw
// text into a validated {score, explanation, evidence_extracts} shape
// through a strict-parse, heuristic-repair, LLM-repair, sentinel-fallback
// ladder (spec.md 4.3).
package parser

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
)

// Repairer performs the single LLM-backed repair call (stage 4). It is
// an external collaborator, not part of this package's own logic: the
// caller supplies a function bound to the Provider Gateway's repair
// model.
type Repairer func(ctx context.Context, rawText string) (string, error)

// rawJudgeShape is the intermediate structure decoded from JSON before
// coercion into a PassResult.
type rawJudgeShape struct {
	Score            any   `json:"score"`
	Explanation      any   `json:"explanation"`
	EvidenceExtracts []any `json:"evidence_extracts"`
}

var (
	codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotePattern    = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	jsonBlockPattern     = regexp.MustCompile(`(?s)\{.*\}`)
)

// stripFencesAndThink removes markdown code fences and <think>...</think>
// reasoning blocks that some models prepend to their JSON output
// (spec.md 4.3 step 1).
func stripFencesAndThink(text string) string {
	text = thinkBlockPattern.ReplaceAllString(text, "")
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// normalizeQuotesAndCommas fixes smart quotes and trailing commas, two
// of the most common malformations in judge output.
func normalizeQuotesAndCommas(text string) string {
	text = smartQuotePattern.Replace(text)
	text = trailingCommaPattern.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "NaN", "0")
	text = strings.ReplaceAll(text, "Infinity", "0")
	return text
}

// extractJSONBlock finds the first balanced-looking {...} span, dropping
// any leading/trailing narrative around it.
func extractJSONBlock(text string) (string, bool) {
	m := jsonBlockPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// heuristicRepair applies best-effort structural fixes beyond quote/comma
// normalisation: dropping blank lines and re-joining before re-extracting
// the JSON block, per spec.md 4.3 step 3.
func heuristicRepair(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Parse runs the parse/repair ladder against rawText and returns a
// validated PassResult. repair may be nil, in which case stage 4 is
// skipped and the ladder falls straight to the sentinel on heuristic
// failure.
func Parse(ctx context.Context, logger *obslog.Logger, rawText string, repair Repairer) domain.PassResult {
	if result, ok := tryDirect(rawText); ok {
		result.ParseMethod = "direct"
		result.Outcome = domain.ParsedOK
		return result
	}

	if result, ok := tryHeuristic(rawText); ok {
		result.ParseMethod = "heuristic"
		result.Outcome = domain.ParsedOK
		return result
	}

	if repair != nil {
		repaired, err := repair(ctx, rawText)
		if err != nil {
			if logger != nil {
				logger.Warn("judge response repair call failed", "error", err.Error())
			}
		} else if result, ok := tryDirect(repaired); ok {
			result.ParseMethod = "llm_repair"
			result.Outcome = domain.ParsedOK
			result.RawText = rawText
			return result
		}
	}

	if logger != nil {
		logger.Warn("judge response parsing exhausted all repair stages, falling back to sentinel")
	}
	return sentinel(rawText)
}

func tryDirect(text string) (domain.PassResult, bool) {
	cleaned := stripFencesAndThink(text)
	cleaned = normalizeQuotesAndCommas(cleaned)
	block, ok := extractJSONBlock(cleaned)
	if !ok {
		return domain.PassResult{}, false
	}
	return decode(text, block)
}

func tryHeuristic(text string) (domain.PassResult, bool) {
	cleaned := heuristicRepair(text)
	cleaned = stripFencesAndThink(cleaned)
	cleaned = normalizeQuotesAndCommas(cleaned)
	block, ok := extractJSONBlock(cleaned)
	if !ok {
		return domain.PassResult{}, false
	}
	return decode(text, block)
}

func decode(originalRaw, jsonBlock string) (domain.PassResult, bool) {
	var shape rawJudgeShape
	if err := json.Unmarshal([]byte(jsonBlock), &shape); err != nil {
		return domain.PassResult{}, false
	}
	return domain.PassResult{
		RawText:          originalRaw,
		Score:            coerceScore(shape.Score),
		Explanation:      coerceExplanation(shape.Explanation),
		EvidenceExtracts: coerceEvidence(shape.EvidenceExtracts),
	}, true
}

// coerceScore validates and clamps the score field to [0, 5] per
// spec.md 4.3 step 5, accepting numeric or numeric-string input.
func coerceScore(raw any) float64 {
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			v = 0
		} else {
			v = parsed
		}
	default:
		v = 0
	}
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

func coerceExplanation(raw any) string {
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "no explanation provided"
	}
	return s
}

func coerceEvidence(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sentinel yields the fallback PassResult used when every parsing stage
// fails (spec.md 4.3): score 0, a diagnostic explanation, and the
// ParsedSentinel outcome so the evaluator can flag partiality without
// treating the zero score as a real judgement.
func sentinel(rawText string) domain.PassResult {
	return domain.PassResult{
		RawText:     rawText,
		Score:       0.0,
		Explanation: "Failed to parse and repair judge response",
		Outcome:     domain.ParsedSentinel,
		ParseMethod: "fallback",
	}
}

// RepairPrompt builds the fixed prompt used for the stage-4 LLM repair
// call: it demands JSON-only output matching the declared shape.
func RepairPrompt(rawText string) string {
	var b strings.Builder
	b.WriteString("The following text was supposed to be a JSON object with exactly the keys ")
	b.WriteString(`"score" (number 0-5), "explanation" (string), and "evidence_extracts" (array of strings). `)
	b.WriteString("It is malformed. Return ONLY the corrected JSON object, with no commentary, no code fences, and no extra text.\n\n")
	b.WriteString("MALFORMED TEXT:\n")
	b.WriteString(rawText)
	return b.String()
}
