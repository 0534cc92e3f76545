// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package criteria

import (
	"sort"
	"strings"
)

// Resolve implements the selection-expression algorithm from spec.md 4.2:
//
//  1. If expression equals a defined preset name, return the preset's id
//     list in declared order.
//  2. Else split on commas; each token is matched as (a) exact id,
//     (b) "category.subcategory" prefix, (c) "category" prefix, in that
//     order. Duplicates are removed preserving first occurrence.
//
// Resolution is a pure function of the registry's current contents and
// is deterministic across calls (spec.md 8).
func (r *Registry) Resolve(expression string) []string {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil
	}

	if preset, ok := r.presets[expression]; ok {
		return append([]string(nil), preset...)
	}

	tokens := strings.Split(expression, ",")
	var resolved []string
	seen := make(map[string]struct{})

	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		for _, id := range r.resolveToken(token) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			resolved = append(resolved, id)
		}
	}

	return resolved
}

// resolveToken matches a single token against the registry: exact id
// first, then "category.subcategory" prefix, then bare "category"
// prefix. Prefix matches are returned in sorted base-id order, mirroring
// the reference implementation's alphabetical ordering for pattern
// matches (registry declaration order is only meaningful for presets
// and exact ids).
func (r *Registry) resolveToken(token string) []string {
	if c, ok := r.byID[token]; ok {
		return []string{c.ID}
	}

	var matches []string
	for _, id := range r.order {
		c := r.byID[id]
		base := c.BaseID()
		if base == token || strings.HasPrefix(base, token+".") {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	return matches
}
