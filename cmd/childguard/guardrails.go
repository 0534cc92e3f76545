// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ChildGuard/internal/criteria"
	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
	"github.com/AleutianAI/ChildGuard/internal/guardrail"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
)

var (
	guardrailsArtifact   string
	guardrailsOutputPath string
	guardrailsMinScore   float64
	guardrailsGuardModel string
	guardrailsGuardProv  string
)

var guardrailsCmd = &cobra.Command{
	Use:   "guardrails",
	Short: "Synthesise guardrails for an existing record artifact and replay the target model",
	RunE:  runGuardrails,
}

func init() {
	guardrailsCmd.Flags().StringVar(&guardrailsArtifact, "artifact", "", "path to a per-record JSON output artifact")
	guardrailsCmd.Flags().StringVar(&guardrailsOutputPath, "output", "", "path to write the guardrail bundle JSON (default: <artifact>.guardrails.json)")
	guardrailsCmd.Flags().Float64Var(&guardrailsMinScore, "risk-threshold", 3.0, "criteria scoring below this are guarded")
	guardrailsCmd.Flags().StringVar(&guardrailsGuardProv, "guard-provider", "openai", "provider used for guardrail synthesis")
	guardrailsCmd.Flags().StringVar(&guardrailsGuardModel, "guard-model", "gpt-4o-mini", "model used for guardrail synthesis")
	_ = guardrailsCmd.MarkFlagRequired("artifact")
}

func runGuardrails(cmd *cobra.Command, _ []string) error {
	logger := obslog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manifestPath, criteriaDir := cfg.CriteriaAssets()
	registry, err := criteria.LoadRegistry(manifestPath, criteriaDir)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(guardrailsArtifact)
	if err != nil {
		return engineerr.Wrap(engineerr.KindAssetError, "read artifact "+guardrailsArtifact, err)
	}
	var artifact domain.RecordArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return engineerr.Wrap(engineerr.KindAssetError, "parse artifact "+guardrailsArtifact, err)
	}

	var inputs []guardrail.CriterionInput
	for _, c := range artifact.Criteria {
		if c.FinalScore >= guardrailsMinScore && !c.Partial {
			continue
		}
		crit, ok := registry.Get(c.CriterionID)
		if !ok {
			continue
		}
		inputs = append(inputs, guardrail.CriterionInput{
			Criterion: crit,
			Result:    toCriterionResult(c),
		})
	}
	if len(inputs) == 0 {
		logger.Info("no at-risk criteria found in artifact, nothing to guard", "artifact", guardrailsArtifact)
		return nil
	}

	structured, err := buildStructuredGenerator(cfg, guardrailsGuardProv)
	if err != nil {
		return err
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	synth := guardrail.New(structured, gateway, guardrail.Config{
		MaxRulesPerCriterion: cfg.Guardrails().MaxRulesPerCriterion,
		MaxTotalGuardrails:   cfg.Guardrails().MaxTotalGuardrails,
		JaccardThreshold:     cfg.Guardrails().JaccardThreshold,
		LengthPenalty:        cfg.Guardrails().LengthPenalty,
		CanonicalBonus:       cfg.Guardrails().CanonicalBonus,
	}, logger)

	target := cfg.TargetModel()
	bundle, err := synth.Synthesize(
		context.Background(),
		artifact.Record.ID,
		domain.AgeBand(artifact.Record.Maturity),
		artifact.Record.FullPrompt,
		artifact.Record.Response,
		inputs,
		guardrailsGuardModel,
		guardrailsGuardProv,
		target.Model,
		target.Provider,
	)
	if err != nil {
		logger.Warn("guardrail synthesis failed, original artifact kept as-is", "record_id", artifact.Record.ID, "error", err.Error())
		return err
	}

	out := toGuardrailArtifact(bundle, target)
	outputPath := guardrailsOutputPath
	if outputPath == "" {
		outputPath = guardrailsArtifact + ".guardrails.json"
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return engineerr.Wrap(engineerr.KindAssetError, "create output directory", err)
	}
	return os.WriteFile(outputPath, encoded, 0o644)
}

func toCriterionResult(c domain.CriterionArtifact) domain.CriterionResult {
	judges := make([]domain.JudgeCriterionResult, 0, len(c.Judges))
	for _, j := range c.Judges {
		passes := make([]domain.PassResult, 0, len(j.Passes))
		for _, p := range j.Passes {
			passes = append(passes, domain.PassResult{
				Index:            p.Index,
				RawText:          p.Raw,
				Score:            p.Score,
				Explanation:      p.Explanation,
				EvidenceExtracts: p.EvidenceExtracts,
				Outcome:          domain.ParsedOK,
			})
		}
		judges = append(judges, domain.JudgeCriterionResult{
			JudgeID:       j.JudgeID,
			Model:         j.Model,
			CriterionID:   c.CriterionID,
			Passes:        passes,
			MeanScore:     j.MeanScore,
			IntraVariance: j.IntraVariance,
		})
	}
	return domain.CriterionResult{
		CriterionID: c.CriterionID,
		Judges:      judges,
		FinalScore:  c.FinalScore,
		Agreement:   c.Agreement,
		OutlierIDs:  c.Outliers,
		Partial:     c.Partial,
	}
}

func toGuardrailArtifact(b domain.GuardrailBundle, target domain.ModelSpec) domain.GuardrailArtifact {
	entries := make([]domain.GuardrailArtifactEntry, 0, len(b.Guardrails))
	for _, g := range b.Guardrails {
		entries = append(entries, domain.GuardrailArtifactEntry{
			ID:          g.ID,
			CriterionID: g.CriterionID,
			Rule:        g.Rule,
			Rationale:   g.Rationale,
			RankScore:   g.RankScore,
		})
	}
	return domain.GuardrailArtifact{
		RecordID:             b.RecordID,
		FullPrompt:           b.FullPrompt,
		FullPromptGuardrails: b.FullPromptGuardrails,
		Response:             b.Response,
		ResponseGuardrails:   b.ResponseOptimized,
		Guardrails:           entries,
		Generation: domain.GenerationInfo{
			Provider: b.GenerationProvider,
			Model:    b.GenerationModel,
		},
	}
}
