// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package criteria implements the Criteria Registry: loading criterion
// specifications from disk and resolving selection expressions into
// ordered criterion id lists (spec.md 4.2).
package criteria

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

// manifestEntry is one row of the registry manifest file: it maps a
// criterion id to the rubric file that describes it plus display
// metadata.
type manifestEntry struct {
	ID                 string   `yaml:"id"`
	Category           string   `yaml:"category"`
	Subcategory        string   `yaml:"subcategory"`
	Name               string   `yaml:"name"`
	Version            string   `yaml:"version"`
	Label              string   `yaml:"label"`
	File               string   `yaml:"file"`
	Tags               []string `yaml:"tags"`
	CanonicalGuardrail string   `yaml:"guardrail_canon"`
}

type manifest struct {
	Criteria []manifestEntry              `yaml:"criteria"`
	Presets  map[string]presetEntry       `yaml:"presets"`
}

type presetEntry struct {
	Criteria []string `yaml:"criteria"`
}

// rubricFile is the on-disk shape of a criterion's prompt/rubric asset.
type rubricFile struct {
	Role         string `yaml:"role"`
	Task         string `yaml:"task"`
	AgeContext   string `yaml:"age_context"`
	ScoringGuide string `yaml:"scoring_guide"`
	Examples     string `yaml:"examples"`
	OutputFormat string `yaml:"output_format"`
}

// requiredRubricFields is the field set validated at load time
// (SPEC_FULL supplemented feature grounded on criteria_loader.py's
// validate_prompt_content).
var requiredRubricFields = []string{"role", "task", "age_context", "scoring_guide", "output_format"}

// Registry is a read-only, immutable-after-load catalogue of criteria
// and presets. All lookups are pure (spec.md 4.2).
type Registry struct {
	criteriaDir string
	byID        map[string]domain.Criterion
	order       []string // declared order, for preset/prefix resolution
	presets     map[string][]string
}

// LoadRegistry loads manifestPath (a YAML file listing criteria and
// presets) and every rubric file it references, relative to
// criteriaDir. A missing required rubric field or missing file is an
// AssetError, fatal at startup per spec.md 7.
func LoadRegistry(manifestPath, criteriaDir string) (*Registry, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindAssetError, "read criteria manifest", err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, engineerr.Wrap(engineerr.KindAssetError, "parse criteria manifest", err)
	}

	reg := &Registry{
		criteriaDir: criteriaDir,
		byID:        make(map[string]domain.Criterion, len(m.Criteria)),
		order:       make([]string, 0, len(m.Criteria)),
		presets:     make(map[string][]string, len(m.Presets)),
	}

	for _, entry := range m.Criteria {
		crit, err := loadCriterion(criteriaDir, entry)
		if err != nil {
			return nil, err
		}
		reg.byID[crit.ID] = crit
		reg.order = append(reg.order, crit.ID)
	}

	for name, preset := range m.Presets {
		reg.presets[name] = preset.Criteria
	}

	return reg, nil
}

func loadCriterion(criteriaDir string, entry manifestEntry) (domain.Criterion, error) {
	if entry.ID == "" || entry.File == "" {
		return domain.Criterion{}, engineerr.New(engineerr.KindAssetError, "criteria manifest entry missing id or file")
	}

	rubricPath := filepath.Join(criteriaDir, entry.File)
	raw, err := os.ReadFile(rubricPath)
	if err != nil {
		return domain.Criterion{}, engineerr.Wrap(engineerr.KindAssetError, fmt.Sprintf("read rubric for %s", entry.ID), err)
	}

	var rf rubricFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return domain.Criterion{}, engineerr.Wrap(engineerr.KindAssetError, fmt.Sprintf("parse rubric for %s", entry.ID), err)
	}

	if missing := missingFields(rf); len(missing) > 0 {
		return domain.Criterion{}, engineerr.New(engineerr.KindAssetError,
			fmt.Sprintf("rubric for %s missing required fields: %s", entry.ID, strings.Join(missing, ", ")))
	}

	label := entry.Label
	if label == "" {
		label = fallbackLabel(entry.ID)
	}

	return domain.Criterion{
		ID:                 entry.ID,
		Category:           entry.Category,
		Subcategory:        entry.Subcategory,
		Name:               entry.Name,
		Version:            entry.Version,
		Label:              label,
		Tags:               entry.Tags,
		Role:               rf.Role,
		Task:               rf.Task,
		AgeContext:         rf.AgeContext,
		ScoringGuide:       rf.ScoringGuide,
		Examples:           rf.Examples,
		OutputFormat:       rf.OutputFormat,
		CanonicalGuardrail: entry.CanonicalGuardrail,
	}, nil
}

func missingFields(rf rubricFile) []string {
	values := map[string]string{
		"role":          rf.Role,
		"task":          rf.Task,
		"age_context":   rf.AgeContext,
		"scoring_guide": rf.ScoringGuide,
		"output_format": rf.OutputFormat,
	}
	var missing []string
	for _, field := range requiredRubricFields {
		if strings.TrimSpace(values[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// fallbackLabel derives a human-readable label from a dotted criterion
// id when the manifest doesn't supply one explicitly.
func fallbackLabel(id string) string {
	base := id
	if idx := strings.Index(base, "__v"); idx >= 0 {
		base = base[:idx]
	}
	parts := strings.Split(base, ".")
	last := parts[len(parts)-1]
	return strings.ReplaceAll(last, "_", " ")
}

// Get returns the Criterion for id, or false if unknown.
func (r *Registry) Get(id string) (domain.Criterion, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns every criterion in declared manifest order.
func (r *Registry) All() []domain.Criterion {
	out := make([]domain.Criterion, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Categories returns the distinct category names present in the
// registry, sorted.
func (r *Registry) Categories() []string {
	set := map[string]struct{}{}
	for _, id := range r.order {
		set[r.byID[id].Category] = struct{}{}
	}
	return sortedKeys(set)
}

// Presets returns the distinct preset names present in the registry,
// sorted.
func (r *Registry) Presets() []string {
	set := map[string]struct{}{}
	for name := range r.presets {
		set[name] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
