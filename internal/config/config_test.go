// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
target_model:
  provider: openai
  model: gpt-4o
judges:
  - id: judge-a
    model:
      provider: anthropic
      model: claude-3-5-sonnet
api_keys:
  openai: "${TEST_CHILDGUARD_OPENAI_KEY}"
weights:
  categories:
    safety: 0.6
    ethics: 0.4
`

func TestLoad_ResolvesEnvVarPlaceholder(t *testing.T) {
	t.Setenv("TEST_CHILDGUARD_OPENAI_KEY", "sk-test-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	mgr, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", mgr.APIKeys().OpenAI)
	assert.Equal(t, "openai", mgr.TargetModel().Provider)
	assert.Equal(t, "gpt-4o", mgr.TargetModel().Model)
}

func TestLoad_UnresolvedEnvVarLeftEmpty(t *testing.T) {
	os.Unsetenv("TEST_CHILDGUARD_MISSING_KEY")
	cfg := `
api_keys:
  anthropic: "${TEST_CHILDGUARD_MISSING_KEY}"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	mgr, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, mgr.APIKeys().Anthropic)
}

func TestLoad_AppliesDocumentedDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("target_model:\n  provider: openai\n  model: gpt-4o\n"), 0o644))

	mgr, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, mgr.NPasses())
	assert.Equal(t, "phased", mgr.ExecutionMode())
	assert.Equal(t, 3, mgr.Guardrails().MaxRulesPerCriterion)
	assert.Equal(t, 20, mgr.Guardrails().MaxTotalGuardrails)
	assert.InDelta(t, 0.75, mgr.Guardrails().JaccardThreshold, 1e-9)
}

func TestDiscover_WalksUpParentDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yml"), []byte("target_model:\n  provider: openai\n  model: gpt-4o\n"), 0o644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "config.yml"), found)
}

func TestDiscover_NotFoundReturnsConfigError(t *testing.T) {
	_, err := Discover(t.TempDir())
	assert.Error(t, err)
}

func TestCategoryWeights_FallsBackToNamedPreset(t *testing.T) {
	dir := t.TempDir()
	cfg := "target_model:\n  provider: openai\n  model: gpt-4o\nweights:\n  preset: safety_focused\n"
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	mgr, err := Load(path)
	require.NoError(t, err)

	preset := map[string]float64{"safety": 0.6, "ethics": 0.1}
	weights := mgr.CategoryWeights(func(name string) (map[string]float64, bool) {
		if name == "safety_focused" {
			return preset, true
		}
		return nil, false
	})
	assert.Equal(t, preset, weights)
}
