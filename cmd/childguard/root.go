// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ChildGuard/internal/config"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
	"github.com/AleutianAI/ChildGuard/internal/provider"
	"github.com/AleutianAI/ChildGuard/internal/weighting"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "childguard",
	Short: "Benchmark and guard conversational AI responses directed at children",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.yml (default: auto-discovered)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(guardrailsCmd)
	rootCmd.AddCommand(resolveCmd)
}

// loadConfig auto-discovers config.yml unless --config was given.
func loadConfig() (*config.Manager, error) {
	path := configFlag
	if path == "" {
		discovered, err := config.Discover("")
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return config.Load(path)
}

// buildGateway wires a Provider Gateway backend for every provider
// referenced by the target model or any judge (spec.md 4.1).
func buildGateway(cfg *config.Manager, logger *obslog.Logger) (*provider.Gateway, error) {
	seen := map[string]struct{}{}
	var backends []provider.Backend

	addBackend := func(providerName string) {
		if _, ok := seen[providerName]; ok {
			return
		}
		seen[providerName] = struct{}{}
		switch providerName {
		case "ollama":
			endpoint := cfg.OllamaEndpointFor("default")
			backends = append(backends, provider.NewOllamaBackend(endpoint.BaseURL()))
		case "openai":
			backends = append(backends, provider.NewOpenAIBackend(cfg.APIKeys().OpenAI, ""))
		case "anthropic":
			backends = append(backends, provider.NewAnthropicBackend(cfg.APIKeys().Anthropic))
		}
	}

	addBackend(cfg.TargetModel().Provider)
	for _, j := range cfg.Judges() {
		addBackend(j.Model.Provider)
	}

	if len(backends) == 0 {
		return nil, engineerr.New(engineerr.KindConfigError, "no providers configured for target model or judges")
	}

	return provider.NewGateway(backends...), nil
}

// buildStructuredGenerator picks the backend that implements
// StructuredGenerator for a given provider name (spec.md 9).
func buildStructuredGenerator(cfg *config.Manager, providerName string) (provider.StructuredGenerator, error) {
	switch providerName {
	case "openai":
		return provider.NewOpenAIBackend(cfg.APIKeys().OpenAI, ""), nil
	case "anthropic":
		return provider.NewAnthropicBackend(cfg.APIKeys().Anthropic), nil
	default:
		return nil, engineerr.New(engineerr.KindConfigError, "provider "+providerName+" does not support structured generation")
	}
}

// buildAggregator resolves weights.* into a weighting.Aggregator,
// applying the named preset fallback for category weights.
func buildAggregator(cfg *config.Manager, logger *obslog.Logger) *weighting.Aggregator {
	w := cfg.Weights()
	categories := cfg.CategoryWeights(weighting.ResolveCategoryWeights)
	return weighting.New(weighting.Weights{
		Categories:    categories,
		Subcategories: w.Subcategories,
		Criteria:      w.Criteria,
	}, logger)
}

func newRunID() string {
	return uuid.NewString()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
