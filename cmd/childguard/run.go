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
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ChildGuard/internal/criteria"
	"github.com/AleutianAI/ChildGuard/internal/dataset"
	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
	"github.com/AleutianAI/ChildGuard/internal/judge"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
	"github.com/AleutianAI/ChildGuard/internal/progress"
	"github.com/AleutianAI/ChildGuard/internal/scheduler"
)

var (
	runDatasetPath string
	runOutputDir   string
	runResume      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a benchmark run over a dataset of prompt records",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runDatasetPath, "dataset", "", "path to the input CSV of prompt records")
	runCmd.Flags().StringVar(&runOutputDir, "output", "output", "directory to write per-record JSON artifacts")
	runCmd.Flags().BoolVar(&runResume, "resume", true, "skip records that already have an output artifact")
	_ = runCmd.MarkFlagRequired("dataset")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runID := newRunID()
	logger := obslog.Default().With("run_id", runID)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manifestPath, criteriaDir := cfg.CriteriaAssets()
	registry, err := criteria.LoadRegistry(manifestPath, criteriaDir)
	if err != nil {
		return err
	}

	records, err := dataset.LoadRecords(runDatasetPath)
	if err != nil {
		return err
	}

	if runResume {
		completed, err := dataset.CompletedIDs(runOutputDir)
		if err != nil {
			return err
		}
		pending := dataset.FilterPending(records, completed)
		if len(pending) < len(records) {
			logger.Info("smart resume skipped already-completed records", "skipped", len(records)-len(pending), "remaining", len(pending))
		}
		records = pending
	}
	if len(records) == 0 {
		logger.Info("no pending records, nothing to do")
		return nil
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	evaluator := judge.New(judge.Config{
		Gateway:     gateway,
		Judges:      cfg.Judges(),
		NPasses:     cfg.NPasses(),
		Hyperparams: cfg.HyperparameterSchedule(),
		BuildPrompt: judge.DefaultPromptBuilder,
		Logger:      logger,
	})

	aggregator := buildAggregator(cfg, logger)

	if err := os.MkdirAll(runOutputDir, 0o755); err != nil {
		return engineerr.Wrap(engineerr.KindAssetError, "create output directory", err)
	}

	reporter := progress.New(fmt.Sprintf("evaluating %d records", len(records)), len(records))
	reporter.Start()
	defer reporter.Stop()

	var results []scheduler.RecordResult
	switch cfg.ExecutionMode() {
	case "inline":
		sched := scheduler.NewInline(scheduler.InlineConfig{
			TargetModel:      cfg.TargetModel(),
			DefaultSelection: cfg.DefaultSelection(),
			Gateway:          gateway,
			Evaluator:        evaluator,
			Criteria:         registry,
			Aggregator:       aggregator,
			Logger:           logger,
		})
		results, err = sched.Run(ctx, records)
	default:
		sched := scheduler.NewPhased(scheduler.PhasedConfig{
			TargetModel:      cfg.TargetModel(),
			DefaultSelection: cfg.DefaultSelection(),
			Gateway:          gateway,
			Evaluator:        evaluator,
			Criteria:         registry,
			Aggregator:       aggregator,
			Logger:           logger,
		})
		results, err = sched.Run(ctx, records)
	}
	if err != nil {
		return err
	}

	nPasses := cfg.NPasses()
	for _, r := range results {
		reporter.Increment()
		if err := writeRecordArtifact(runOutputDir, runID, r, nPasses); err != nil {
			logger.Error("failed to write record artifact", "record_id", r.Record.ID, "error", err.Error())
		}
	}

	logger.Info("run complete", "records", len(results))
	return nil
}

func writeRecordArtifact(outputDir, runID string, r scheduler.RecordResult, nPasses int) error {
	artifact := buildArtifact(runID, r, nPasses)
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(outputDir, r.Record.ID+".json")
	return os.WriteFile(path, data, 0o644)
}

func buildArtifact(runID string, r scheduler.RecordResult, nPasses int) domain.RecordArtifact {
	criteriaArtifacts := make([]domain.CriterionArtifact, 0, len(r.Criteria))
	criteriaIDs := make([]string, 0, len(r.Criteria))
	judgeModels := map[string]string{}

	for _, cr := range r.Criteria {
		criteriaIDs = append(criteriaIDs, cr.CriterionID)
		judgeArtifacts := make([]domain.JudgeArtifact, 0, len(cr.Judges))
		for _, j := range cr.Judges {
			judgeModels[j.JudgeID] = j.Model
			passes := make([]domain.PassArtifact, 0, len(j.Passes))
			for _, p := range j.Passes {
				passes = append(passes, domain.PassArtifact{
					Index:            p.Index,
					Score:            p.Score,
					Explanation:      p.Explanation,
					EvidenceExtracts: p.EvidenceExtracts,
					Raw:              p.RawText,
				})
			}
			judgeArtifacts = append(judgeArtifacts, domain.JudgeArtifact{
				JudgeID:       j.JudgeID,
				Model:         j.Model,
				MeanScore:     j.MeanScore,
				IntraVariance: j.IntraVariance,
				Passes:        passes,
			})
		}
		criteriaArtifacts = append(criteriaArtifacts, domain.CriterionArtifact{
			CriterionID:   cr.CriterionID,
			FinalScore:    cr.FinalScore,
			IntraVariance: 0,
			Agreement:     cr.Agreement,
			Partial:       cr.Partial,
			Outliers:      cr.OutlierIDs,
			Judges:        judgeArtifacts,
		})
	}

	return domain.RecordArtifact{
		Record: domain.RecordSummary{
			ID:          r.Record.ID,
			Prompt:      r.Record.Prompt,
			FullPrompt:  r.Record.FullPrompt,
			Response:    r.Response,
			Maturity:    string(r.Record.Maturity),
			Category:    r.Record.Category,
			Subcategory: r.Record.Subcategory,
			Mode:        string(r.Record.Mode),
			Model:       r.Record.Model,
		},
		Aggregate: domain.AggregateSummary{
			FinalScore:        r.Aggregate.FinalScore,
			Verdict:           string(r.Aggregate.Verdict),
			CategoryScores:    r.Aggregate.CategoryScores,
			SubcategoryScores: r.Aggregate.SubcategoryScores,
		},
		Consistency: domain.ConsistencySummary{
			OverallVariance: r.Aggregate.OverallVariance,
			MeanAgreement:   r.Aggregate.MeanAgreement,
			OutlierCount:    r.Aggregate.OutlierCount,
		},
		Criteria: criteriaArtifacts,
		Metadata: domain.ArtifactMetadata{
			Versions:          map[string]string{"run_id": runID},
			JudgeModels:       judgeModels,
			NPasses:           nPasses,
			NJudges:           len(judgeModels),
			CriteriaEvaluated: criteriaIDs,
			GeneratedAt:       time.Now().UTC(),
		},
	}
}
