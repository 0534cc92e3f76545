// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the run's single YAML configuration document,
// resolving "${ENV_VAR}" placeholders and auto-discovering config.yml by
// walking up from the working directory, then exposes typed accessors
// instead of stringly-typed path lookups.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
	"gopkg.in/yaml.v3"
)

// ModelOptions mirrors the Provider Gateway's option bag as it appears
// in YAML, before conversion to domain.GenerationOptions.
type ModelOptions struct {
	Temperature    *float64  `yaml:"temperature"`
	TopP           *float64  `yaml:"top_p"`
	TopK           *int      `yaml:"top_k"`
	NumCtx         *int      `yaml:"num_ctx"`
	NumBatch       *int      `yaml:"num_batch"`
	NumPredict     *int      `yaml:"num_predict"`
	MainGPU        *int      `yaml:"main_gpu"`
	TensorSplit    []float64 `yaml:"tensor_split"`
	KeepAlive      string    `yaml:"keep_alive"`
	RequestTimeout string    `yaml:"request_timeout"`
	StopSequences  []string  `yaml:"stop_sequences"`
}

// ToGenerationOptions converts the YAML option bag to the domain type.
func (o ModelOptions) ToGenerationOptions() domain.GenerationOptions {
	opts := domain.GenerationOptions{
		Temperature:   o.Temperature,
		TopP:          o.TopP,
		TopK:          o.TopK,
		NumCtx:        o.NumCtx,
		NumBatch:      o.NumBatch,
		NumPredict:    o.NumPredict,
		MainGPU:       o.MainGPU,
		TensorSplit:   o.TensorSplit,
		KeepAlive:     o.KeepAlive,
		StopSequences: o.StopSequences,
	}
	if o.RequestTimeout != "" {
		if d, err := time.ParseDuration(o.RequestTimeout); err == nil {
			opts.RequestTimeout = d
		}
	}
	return opts
}

// ModelSpecConfig is a raw YAML model entry: `{provider, model, enabled, options}`.
type ModelSpecConfig struct {
	Provider string       `yaml:"provider"`
	Model    string       `yaml:"model"`
	Enabled  bool         `yaml:"enabled"`
	Options  ModelOptions `yaml:"options"`
}

// ToModelSpec converts to the domain type.
func (m ModelSpecConfig) ToModelSpec() domain.ModelSpec {
	return domain.ModelSpec{
		Provider: m.Provider,
		Model:    m.Model,
		Enabled:  m.Enabled,
		Options:  m.Options.ToGenerationOptions(),
	}
}

// JudgeSpecConfig is a raw YAML judges[] entry: `{id, model, options}`.
type JudgeSpecConfig struct {
	ID      string          `yaml:"id"`
	Model   ModelSpecConfig `yaml:"model"`
	Options ModelOptions    `yaml:"options"`
}

// ToJudgeSpec converts to the domain type, layering the judge-level
// option overrides on top of the model's own options.
func (j JudgeSpecConfig) ToJudgeSpec() domain.JudgeSpec {
	base := j.Model.ToModelSpec()
	base.Options = base.Options.Merge(j.Options.ToGenerationOptions())
	return domain.JudgeSpec{ID: j.ID, Model: base}
}

// EvaluationConfig is `evaluation.*`.
type EvaluationConfig struct {
	NPasses         int            `yaml:"n_passes"`
	Hyperparameters []ModelOptions `yaml:"hyperparameters"`
}

// WeightsConfig is `weights.*`. Criteria is keyed by "category.subcategory"
// (matching weighting.Weights.Criteria): the weight applied uniformly to
// every criterion in that subcategory pool when reducing to the
// subcategory score, since spec.md does not require per-criterion
// granularity within a subcategory.
type WeightsConfig struct {
	Preset        string                        `yaml:"preset"`
	Categories    map[string]float64            `yaml:"categories"`
	Subcategories map[string]map[string]float64 `yaml:"subcategories"`
	Criteria      map[string]float64            `yaml:"criteria"`
}

// CriteriaConfig is `criteria.*`.
type CriteriaConfig struct {
	DefaultSelection string `yaml:"default_selection"`
	ManifestPath     string `yaml:"manifest_path"`
	CriteriaDir      string `yaml:"criteria_dir"`
}

// GuardrailsConfig is `guardrails.*`.
type GuardrailsConfig struct {
	MaxRulesPerCriterion int     `yaml:"max_rules_per_criterion"`
	MaxTotalGuardrails   int     `yaml:"max_total_guardrails"`
	JaccardThreshold     float64 `yaml:"jaccard_threshold"`
	LengthPenalty        float64 `yaml:"length_penalty"`
	CanonicalBonus       float64 `yaml:"canonical_bonus"`
}

// ExecutionConfig is `execution.*`.
type ExecutionConfig struct {
	Mode string `yaml:"mode"` // "phased" (default) or "inline"
}

// ConsistencyConfig is `consistency.*` (supplemented feature).
type ConsistencyConfig struct {
	VarianceThreshold  float64 `yaml:"variance_threshold"`
	AgreementThreshold float64 `yaml:"agreement_threshold"`
}

// OllamaEndpoint is one `{host, port, description}` entry.
type OllamaEndpoint struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Description string `yaml:"description"`
}

// BaseURL formats the endpoint as an http:// base URL.
func (o OllamaEndpoint) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", o.Host, o.Port)
}

// OllamaConfig is `ollama.*`: a default endpoint plus named presets.
type OllamaConfig struct {
	Default OllamaEndpoint            `yaml:"default"`
	Presets map[string]OllamaEndpoint `yaml:"presets"`
}

// Preset returns the named preset, falling back to the default endpoint
// when the name is empty, "default", or unknown.
func (o OllamaConfig) Preset(name string) OllamaEndpoint {
	if name == "" || name == "default" {
		return o.Default
	}
	if ep, ok := o.Presets[name]; ok {
		return ep
	}
	return o.Default
}

// APIKeysConfig is `api_keys.*`, resolved from environment placeholders.
type APIKeysConfig struct {
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
}

// Document is the full parsed configuration document.
type Document struct {
	TargetModel ModelSpecConfig   `yaml:"target_model"`
	Judges      []JudgeSpecConfig `yaml:"judges"`
	Evaluation  EvaluationConfig  `yaml:"evaluation"`
	Weights     WeightsConfig     `yaml:"weights"`
	Criteria    CriteriaConfig    `yaml:"criteria"`
	Guardrails  GuardrailsConfig  `yaml:"guardrails"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	APIKeys     APIKeysConfig     `yaml:"api_keys"`
}

// Manager wraps a loaded Document with the path it came from, mirroring
// the original ConfigManager's shape but with typed accessors in place
// of dotted-path lookups.
type Manager struct {
	path string
	doc  Document
}

// Discover walks up from startDir looking for config.yml. An empty
// startDir defaults to the current working directory.
func Discover(startDir string) (string, error) {
	dir := startDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", engineerr.Wrap(engineerr.KindConfigError, "resolve working directory", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindConfigError, "resolve absolute path", err)
	}

	for {
		candidate := filepath.Join(dir, "config.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", engineerr.New(engineerr.KindConfigError, "config.yml not found in any parent of "+startDir)
}

// Load reads and parses path, resolving ${ENV_VAR} placeholders and
// applying defaults for unset fields (spec.md 6's documented defaults).
func Load(path string) (*Manager, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindConfigError, "read config "+path, err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, engineerr.Wrap(engineerr.KindConfigError, "parse config yaml "+path, err)
	}
	resolved := resolveEnv(tree)

	reencoded, err := yaml.Marshal(resolved)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindConfigError, "re-encode resolved config", err)
	}

	var doc Document
	if err := yaml.Unmarshal(reencoded, &doc); err != nil {
		return nil, engineerr.Wrap(engineerr.KindConfigError, "decode config document "+path, err)
	}

	applyDefaults(&doc)

	return &Manager{path: path, doc: doc}, nil
}

func applyDefaults(doc *Document) {
	if doc.Evaluation.NPasses <= 0 {
		doc.Evaluation.NPasses = 3
	}
	if doc.Guardrails.MaxRulesPerCriterion <= 0 {
		doc.Guardrails.MaxRulesPerCriterion = 3
	}
	if doc.Guardrails.MaxTotalGuardrails <= 0 {
		doc.Guardrails.MaxTotalGuardrails = 20
	}
	if doc.Guardrails.JaccardThreshold <= 0 {
		doc.Guardrails.JaccardThreshold = 0.75
	}
	if doc.Guardrails.LengthPenalty <= 0 {
		doc.Guardrails.LengthPenalty = 0.002
	}
	if doc.Guardrails.CanonicalBonus <= 0 {
		doc.Guardrails.CanonicalBonus = 0.5
	}
	if doc.Execution.Mode == "" {
		doc.Execution.Mode = "phased"
	}
	if doc.Consistency.VarianceThreshold <= 0 {
		doc.Consistency.VarianceThreshold = 0.5
	}
	if doc.Consistency.AgreementThreshold <= 0 {
		doc.Consistency.AgreementThreshold = 0.8
	}
	if doc.Ollama.Default.Host == "" {
		doc.Ollama.Default.Host = "localhost"
	}
	if doc.Ollama.Default.Port == 0 {
		doc.Ollama.Default.Port = 11434
	}
	if doc.Criteria.ManifestPath == "" {
		doc.Criteria.ManifestPath = "criteria/manifest.yml"
	}
	if doc.Criteria.CriteriaDir == "" {
		doc.Criteria.CriteriaDir = "criteria"
	}
}

// resolveEnv recursively resolves "${ENV_VAR}" string leaves through
// maps and slices, exactly mirroring the original's resolve_value.
func resolveEnv(value any) any {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			envVar := v[2 : len(v)-1]
			return os.Getenv(envVar)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = resolveEnv(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = resolveEnv(child)
		}
		return out
	default:
		return value
	}
}

// Path returns the file this manager was loaded from.
func (m *Manager) Path() string { return m.path }

// Document returns the full parsed document.
func (m *Manager) Document() Document { return m.doc }

// TargetModel returns the configured target model.
func (m *Manager) TargetModel() domain.ModelSpec {
	return m.doc.TargetModel.ToModelSpec()
}

// Judges returns the configured judges in file order.
func (m *Manager) Judges() []domain.JudgeSpec {
	out := make([]domain.JudgeSpec, 0, len(m.doc.Judges))
	for _, j := range m.doc.Judges {
		out = append(out, j.ToJudgeSpec())
	}
	return out
}

// NPasses returns evaluation.n_passes.
func (m *Manager) NPasses() int { return m.doc.Evaluation.NPasses }

// HyperparameterSchedule returns evaluation.hyperparameters converted to
// per-pass GenerationOptions overrides.
func (m *Manager) HyperparameterSchedule() []domain.GenerationOptions {
	out := make([]domain.GenerationOptions, 0, len(m.doc.Evaluation.Hyperparameters))
	for _, h := range m.doc.Evaluation.Hyperparameters {
		out = append(out, h.ToGenerationOptions())
	}
	return out
}

// DefaultSelection returns criteria.default_selection.
func (m *Manager) DefaultSelection() string { return m.doc.Criteria.DefaultSelection }

// CriteriaAssets returns the manifest and criteria directory paths.
func (m *Manager) CriteriaAssets() (manifestPath, criteriaDir string) {
	return m.doc.Criteria.ManifestPath, m.doc.Criteria.CriteriaDir
}

// Guardrails returns guardrails.*.
func (m *Manager) Guardrails() GuardrailsConfig { return m.doc.Guardrails }

// ExecutionMode returns execution.mode, "phased" or "inline".
func (m *Manager) ExecutionMode() string { return m.doc.Execution.Mode }

// Consistency returns consistency.*.
func (m *Manager) Consistency() ConsistencyConfig { return m.doc.Consistency }

// OllamaEndpointFor resolves the named preset (or "default").
func (m *Manager) OllamaEndpointFor(preset string) OllamaEndpoint {
	return m.doc.Ollama.Preset(preset)
}

// APIKeys returns api_keys.* after environment resolution.
func (m *Manager) APIKeys() APIKeysConfig { return m.doc.APIKeys }

// Weights returns the raw weights.* configuration.
func (m *Manager) Weights() WeightsConfig { return m.doc.Weights }

// CategoryWeights resolves weights.categories, falling back to the
// named weights.preset (SPEC_FULL's supplemented named-preset feature)
// when no hand-authored category weights are configured. resolvePreset
// is injected (rather than importing internal/weighting directly) to
// keep configuration decoupled from the aggregator's package.
func (m *Manager) CategoryWeights(resolvePreset func(string) (map[string]float64, bool)) map[string]float64 {
	if len(m.doc.Weights.Categories) > 0 {
		return m.doc.Weights.Categories
	}
	if m.doc.Weights.Preset != "" {
		if preset, ok := resolvePreset(m.doc.Weights.Preset); ok {
			return preset
		}
	}
	return nil
}
