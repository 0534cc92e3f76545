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

const ruleMaxLength = 220

// allowedOpeners is the fixed set of imperative openers a normalised
// rule must begin with (spec.md 4.7 step 4).
var allowedOpeners = []string{"Do", "Never", "Always", "State", "Make", "Use", "Provide", "Redirect"}

// forbiddenTokens trigger auto-rewrites in the vagueness filter
// (spec.md 4.7 step 5).
var forbiddenTokens = []string{"avoid", "try", "generally", "might", "maybe", "should"}

var forbiddenRewrites = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bavoid\b`), "Do not"},
	{regexp.MustCompile(`(?i)\btry to\b`), "Do"},
	{regexp.MustCompile(`(?i)\bgenerally\b`), ""},
	{regexp.MustCompile(`(?i)\bmight\b`), "must"},
}

// contradictionPairs is the set of phrase pairs that make a rule
// self-contradictory (spec.md 4.7 step 5).
var contradictionPairs = [][2]string{
	{"never", "always"},
	{"never", "unless"},
	{"do not", "but you can"},
	{"do not", "however you may"},
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// NormalizeRule implements spec.md 4.7 step 4: collapse whitespace,
// truncate to ruleMaxLength trimming at a word boundary, append a
// terminal period, and ensure the rule opens with an allowed imperative
// verb, repairing "Do do"/"Do don't" double-prefix artifacts.
func NormalizeRule(rule string) string {
	cleaned := collapseWhitespace(rule)
	cleaned = truncateAtWordBoundary(cleaned, ruleMaxLength)
	cleaned = strings.TrimRight(cleaned, " ")
	if !strings.HasSuffix(cleaned, ".") {
		cleaned += "."
	}

	if !startsWithAllowedOpener(cleaned) {
		if cleaned == "" {
			cleaned = "Do ."
		} else {
			cleaned = "Do " + lowerFirst(cleaned)
		}
	}

	cleaned = strings.ReplaceAll(cleaned, "Do don't", "Do not")
	cleaned = strings.ReplaceAll(cleaned, "Do do", "Do")
	cleaned = strings.ReplaceAll(cleaned, "Do not not", "Do not")

	return cleaned
}

func collapseWhitespace(s string) string {
	return whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
}

// truncateAtWordBoundary trims s to at most maxLen characters, backing
// off to the last preceding space so a rule never ends mid-word.
func truncateAtWordBoundary(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncated := s[:maxLen]
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	return strings.TrimRight(truncated, ".,;: ")
}

func startsWithAllowedOpener(s string) bool {
	for _, opener := range allowedOpeners {
		if strings.HasPrefix(s, opener) {
			return true
		}
	}
	return false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// ContainsForbiddenLanguage reports whether rule still contains a
// forbidden-vagueness token as a whole word, case-insensitively.
func ContainsForbiddenLanguage(rule string) bool {
	lower := strings.ToLower(rule)
	for _, token := range forbiddenTokens {
		if wordPresent(lower, token) {
			return true
		}
	}
	return false
}

func wordPresent(lower, token string) bool {
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(token) + `\b`)
	return pattern.MatchString(lower)
}

// RewriteForbiddenLanguage applies the fixed regex substitutions from
// spec.md 4.7 step 5 and re-collapses whitespace.
func RewriteForbiddenLanguage(rule string) string {
	out := rule
	for _, r := range forbiddenRewrites {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}
	return collapseWhitespace(out)
}

// IsContradictory reports whether rule contains both members of any
// declared contradiction pair (spec.md 4.7 step 5).
func IsContradictory(rule string) bool {
	lower := strings.ToLower(rule)
	for _, pair := range contradictionPairs {
		if strings.Contains(lower, pair[0]) && strings.Contains(lower, pair[1]) {
			return true
		}
	}
	return false
}
