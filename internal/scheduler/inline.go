// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
)

// InlineConfig configures a Scheduler running in inline mode: no phase
// separation, the full judge ensemble runs immediately after the target
// model generates each record's response (spec.md 4.6, "documented as
// less efficient with locally-hosted models, but simpler to operate
// with remote providers only").
type InlineConfig struct {
	TargetModel      domain.ModelSpec
	DefaultSelection string
	Gateway          Gateway
	Evaluator        JudgeEvaluator
	Criteria         CriteriaSource
	Aggregator       Aggregator
	Logger           *obslog.Logger
}

// InlineScheduler evaluates one record at a time, generating its
// response and then running every configured judge against it before
// moving to the next record.
type InlineScheduler struct {
	cfg InlineConfig
}

// NewInline builds an inline-mode Scheduler.
func NewInline(cfg InlineConfig) *InlineScheduler {
	if cfg.Logger == nil {
		cfg.Logger = obslog.Default()
	}
	return &InlineScheduler{cfg: cfg}
}

// Run generates and evaluates every record, in order, without any
// phase separation between the target model and the judge ensemble.
// Neither the target nor any judge is warmed or unloaded: inline mode
// assumes remote providers where residency does not apply. If any
// configured backend does support residency, it is left resident
// across the whole run rather than cycled per record.
func (s *InlineScheduler) Run(ctx context.Context, records []domain.PromptRecord) ([]RecordResult, error) {
	out := make([]RecordResult, 0, len(records))

	for _, r := range records {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		response, err := s.cfg.Gateway.Generate(ctx, s.cfg.TargetModel.Provider, s.cfg.TargetModel.Model, r.FullPrompt, s.cfg.TargetModel.Options)
		if err != nil {
			s.cfg.Logger.Warn("target generation failed for record, recording empty response", "record_id", r.ID, "error", err.Error())
			response = ""
		}

		expr := r.CriteriaSelection
		if expr == "" {
			expr = s.cfg.DefaultSelection
		}
		critIDs := s.cfg.Criteria.Resolve(expr)

		criteriaByID := map[string]domain.Criterion{}
		criterionResults := make([]domain.CriterionResult, 0, len(critIDs))
		for _, critID := range critIDs {
			crit, ok := s.cfg.Criteria.Get(critID)
			if !ok {
				continue
			}
			criteriaByID[critID] = crit
			criterionResults = append(criterionResults, s.cfg.Evaluator.EvaluateCriterion(ctx, crit, r.Maturity, r.FullPrompt, response))
		}

		aggregate := s.cfg.Aggregator.Aggregate(criteriaByID, criterionResults)

		out = append(out, RecordResult{
			Record:    r,
			Response:  response,
			Criteria:  criterionResults,
			Aggregate: aggregate,
		})
	}

	return out, nil
}
