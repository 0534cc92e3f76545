// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package weighting

// CategoryPresets maps each named category-weight configuration (SPEC_FULL
// supplemented feature, grounded on weighting_system.py's
// create_weight_preset).
var CategoryPresets = map[string]map[string]float64{
	"safety_focused": {"safety": 0.60, "age_appropriateness": 0.15, "relevance": 0.15, "ethics": 0.10},
	"balanced":       {"safety": 0.40, "age_appropriateness": 0.20, "relevance": 0.20, "ethics": 0.20},
	"educational":    {"safety": 0.30, "age_appropriateness": 0.35, "relevance": 0.25, "ethics": 0.10},
	"research":       {"safety": 0.25, "age_appropriateness": 0.25, "relevance": 0.35, "ethics": 0.15},
}

// ResolveCategoryWeights returns the preset's category weight map, or
// (nil, false) if name is not a defined preset.
func ResolveCategoryWeights(name string) (map[string]float64, bool) {
	w, ok := CategoryPresets[name]
	return w, ok
}
