// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

func testRegistry() *Registry {
	ids := []string{
		"safety.violence.no_glorification__v1_0",
		"safety.violence.no_instructions__v1_0",
		"safety.grooming.no_normalization__v1_0",
		"ethics.honesty.no_deception__v1_0",
	}
	byID := make(map[string]domain.Criterion, len(ids))
	for _, id := range ids {
		byID[id] = domain.Criterion{ID: id}
	}
	return &Registry{
		byID:  byID,
		order: ids,
		presets: map[string][]string{
			"quick_check": {"ethics.honesty.no_deception__v1_0", "safety.violence.no_glorification__v1_0"},
		},
	}
}

func TestResolve_ExactID(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{"safety.violence.no_glorification__v1_0"}, r.Resolve("safety.violence.no_glorification__v1_0"))
}

func TestResolve_PresetPreservesDeclaredOrder(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{"ethics.honesty.no_deception__v1_0", "safety.violence.no_glorification__v1_0"}, r.Resolve("quick_check"))
}

func TestResolve_SubcategoryPrefixSorted(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{
		"safety.violence.no_glorification__v1_0",
		"safety.violence.no_instructions__v1_0",
	}, r.Resolve("safety.violence"))
}

func TestResolve_CategoryPrefixSorted(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{
		"safety.grooming.no_normalization__v1_0",
		"safety.violence.no_glorification__v1_0",
		"safety.violence.no_instructions__v1_0",
	}, r.Resolve("safety"))
}

func TestResolve_CommaSeparatedDeduplicates(t *testing.T) {
	r := testRegistry()
	got := r.Resolve("safety.violence, safety.violence.no_glorification__v1_0, ethics")
	assert.Equal(t, []string{
		"safety.violence.no_glorification__v1_0",
		"safety.violence.no_instructions__v1_0",
		"ethics.honesty.no_deception__v1_0",
	}, got, "first-occurrence order is preserved and later duplicate tokens contribute nothing new")
}

func TestResolve_UnknownTokenYieldsNothing(t *testing.T) {
	r := testRegistry()
	assert.Empty(t, r.Resolve("nonexistent"))
}

func TestResolve_EmptyExpression(t *testing.T) {
	r := testRegistry()
	assert.Empty(t, r.Resolve(""))
	assert.Empty(t, r.Resolve("   "))
}
