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
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
)

// Gateway is the subset of the Provider Gateway the scheduler drives
// directly: generate, warmup and unload, plus a residency check so the
// scheduler only enforces the single-resident-model invariant against
// locally-hosted backends.
type Gateway interface {
	Generate(ctx context.Context, providerName, model, prompt string, options domain.GenerationOptions) (string, error)
	Warmup(ctx context.Context, providerName, model string, options domain.GenerationOptions) error
	Unload(ctx context.Context, providerName, model string) error
	SupportsResidency(providerName string) bool
}

// JudgeEvaluator is the subset of the Judge Evaluator the scheduler
// needs, exposed at both the per-judge granularity (phased mode) and
// the all-judges granularity (inline mode).
type JudgeEvaluator interface {
	Judges() []domain.JudgeSpec
	EvaluateWithJudge(ctx context.Context, judgeID string, criterion domain.Criterion, ageBand domain.AgeBand, prompt, response string) (domain.JudgeCriterionResult, error)
	EvaluateCriterion(ctx context.Context, criterion domain.Criterion, ageBand domain.AgeBand, prompt, response string) domain.CriterionResult
	CombineJudgeResults(criterionID string, results []domain.JudgeCriterionResult) domain.CriterionResult
}

// CriteriaSource is the subset of the Criteria Registry the scheduler
// needs: criterion lookup and selection-expression resolution.
type CriteriaSource interface {
	Get(id string) (domain.Criterion, bool)
	Resolve(expression string) []string
}

// Aggregator is the subset of the Weighting Aggregator the scheduler
// needs to produce a record's final AggregatedScores.
type Aggregator interface {
	Aggregate(criteria map[string]domain.Criterion, results []domain.CriterionResult) domain.AggregatedScores
}

// RecordResult is one record's complete pipeline output: its generated
// response, per-criterion results and the final aggregate.
type RecordResult struct {
	Record     domain.PromptRecord
	Response   string
	Criteria   []domain.CriterionResult
	Aggregate  domain.AggregatedScores
	GotFailure bool
}

// PhasedConfig configures a Scheduler running in phased mode.
type PhasedConfig struct {
	TargetModel      domain.ModelSpec
	DefaultSelection string
	Gateway          Gateway
	Evaluator        JudgeEvaluator
	Criteria         CriteriaSource
	Aggregator       Aggregator
	Logger           *obslog.Logger
}

// Scheduler runs the phased pipeline: Phase A (target generation), then
// one phase per judge, then a final aggregation pass that joins every
// phase's partial artifacts (spec.md 4.6).
type Scheduler struct {
	cfg PhasedConfig
}

// NewPhased builds a phased-mode Scheduler.
func NewPhased(cfg PhasedConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = obslog.Default()
	}
	return &Scheduler{cfg: cfg}
}

// partialKey identifies one (record, criterion) pair's accumulated
// per-judge results across phases.
type partialKey struct {
	recordID    string
	criterionID string
}

// Run executes Phase A then one phase per judge, then aggregates.
// Records are processed serially within each phase, in input order
// (spec.md 5). It always attempts Unload for a warmed model before
// returning, even on error, honoring "never leave a warmed-up model
// resident on exit."
func (s *Scheduler) Run(ctx context.Context, records []domain.PromptRecord) ([]RecordResult, error) {
	responses, err := s.phaseA(ctx, records)
	if err != nil {
		return nil, err
	}

	partials := map[partialKey][]domain.JudgeCriterionResult{}
	selections := map[string][]string{} // record id -> resolved criterion ids

	for _, r := range records {
		expr := r.CriteriaSelection
		if expr == "" {
			expr = s.cfg.DefaultSelection
		}
		selections[r.ID] = s.cfg.Criteria.Resolve(expr)
	}

	for _, j := range s.cfg.Evaluator.Judges() {
		if err := s.judgePhase(ctx, j, records, responses, selections, partials); err != nil {
			return nil, err
		}
	}

	return s.finalAggregation(records, responses, selections, partials), nil
}

// phaseA warms the target model, generates a response for every record
// in order, then unloads (spec.md 4.6, "Phase A").
func (s *Scheduler) phaseA(ctx context.Context, records []domain.PromptRecord) (map[string]string, error) {
	sm := NewStateMachine()
	logger := s.cfg.Logger.With("phase", "A", "provider", s.cfg.TargetModel.Provider, "model", s.cfg.TargetModel.Model)

	if err := sm.Transition(PhaseWarmUp); err != nil {
		return nil, err
	}
	if err := s.cfg.Gateway.Warmup(ctx, s.cfg.TargetModel.Provider, s.cfg.TargetModel.Model, s.cfg.TargetModel.Options); err != nil {
		logger.Error("target model warmup failed, phase A aborted")
		return nil, engineerr.Wrap(engineerr.KindRuntimeExhaustion, "phase A warmup failed", err)
	}

	if err := sm.Transition(PhaseRunning); err != nil {
		return nil, err
	}
	responses := make(map[string]string, len(records))
	for _, r := range records {
		select {
		case <-ctx.Done():
			s.attemptUnload(ctx, logger, s.cfg.TargetModel.Provider, s.cfg.TargetModel.Model)
			return responses, ctx.Err()
		default:
		}
		text, err := s.cfg.Gateway.Generate(ctx, s.cfg.TargetModel.Provider, s.cfg.TargetModel.Model, r.FullPrompt, s.cfg.TargetModel.Options)
		if err != nil {
			logger.Warn("target generation failed for record, recording empty response", "record_id", r.ID, "error", err.Error())
			text = ""
		}
		responses[r.ID] = text
	}

	if err := sm.Transition(PhaseUnload); err != nil {
		return responses, err
	}
	s.attemptUnload(ctx, logger, s.cfg.TargetModel.Provider, s.cfg.TargetModel.Model)
	_ = sm.Transition(PhaseIdle)

	return responses, nil
}

// judgePhase runs one Phase B/C/... for a single judge: warm up,
// evaluate every previously-generated record against every selected
// criterion with this judge alone, then unload (spec.md 4.6).
func (s *Scheduler) judgePhase(ctx context.Context, j domain.JudgeSpec, records []domain.PromptRecord, responses map[string]string, selections map[string][]string, partials map[partialKey][]domain.JudgeCriterionResult) error {
	sm := NewStateMachine()
	logger := s.cfg.Logger.With("phase", "judge:"+j.ID, "provider", j.Model.Provider, "model", j.Model.Model)

	if err := sm.Transition(PhaseWarmUp); err != nil {
		return err
	}
	if err := s.cfg.Gateway.Warmup(ctx, j.Model.Provider, j.Model.Model, j.Model.Options); err != nil {
		logger.Error("judge model warmup failed, phase recorded as failed")
		return engineerr.Wrap(engineerr.KindRuntimeExhaustion, "judge phase warmup failed for "+j.ID, err)
	}

	if err := sm.Transition(PhaseRunning); err != nil {
		return err
	}
	for _, r := range records {
		select {
		case <-ctx.Done():
			s.attemptUnload(ctx, logger, j.Model.Provider, j.Model.Model)
			return ctx.Err()
		default:
		}
		response := responses[r.ID]
		for _, critID := range selections[r.ID] {
			crit, ok := s.cfg.Criteria.Get(critID)
			if !ok {
				continue
			}
			result, err := s.cfg.Evaluator.EvaluateWithJudge(ctx, j.ID, crit, r.Maturity, r.FullPrompt, response)
			if err != nil {
				logger.Warn("judge evaluation failed", "record_id", r.ID, "criterion_id", critID, "error", err.Error())
				continue
			}
			key := partialKey{recordID: r.ID, criterionID: critID}
			partials[key] = append(partials[key], result)
		}
	}

	if err := sm.Transition(PhaseUnload); err != nil {
		return err
	}
	s.attemptUnload(ctx, logger, j.Model.Provider, j.Model.Model)
	_ = sm.Transition(PhaseIdle)

	return nil
}

// attemptUnload calls Unload and downgrades a failure to a logged
// RuntimeExhaustion rather than aborting the run (spec.md 7, 8 scenario 5).
func (s *Scheduler) attemptUnload(ctx context.Context, logger *obslog.Logger, providerName, model string) {
	if !s.cfg.Gateway.SupportsResidency(providerName) {
		return
	}
	if err := s.cfg.Gateway.Unload(ctx, providerName, model); err != nil {
		logger.Warn("model eviction failed, next phase still attempts warmup", "provider", providerName, "model", model, "error", err.Error())
	}
}

// finalAggregation implements spec.md 4.6's cross-phase join: read all
// partial judge results per record/criterion and feed the Aggregator.
func (s *Scheduler) finalAggregation(records []domain.PromptRecord, responses map[string]string, selections map[string][]string, partials map[partialKey][]domain.JudgeCriterionResult) []RecordResult {
	out := make([]RecordResult, 0, len(records))

	for _, r := range records {
		critIDs := selections[r.ID]
		criteriaByID := map[string]domain.Criterion{}
		criterionResults := make([]domain.CriterionResult, 0, len(critIDs))

		for _, critID := range critIDs {
			crit, ok := s.cfg.Criteria.Get(critID)
			if !ok {
				continue
			}
			criteriaByID[critID] = crit
			judgeResults := partials[partialKey{recordID: r.ID, criterionID: critID}]
			criterionResults = append(criterionResults, s.cfg.Evaluator.CombineJudgeResults(critID, judgeResults))
		}

		aggregate := s.cfg.Aggregator.Aggregate(criteriaByID, criterionResults)

		out = append(out, RecordResult{
			Record:    r,
			Response:  responses[r.ID],
			Criteria:  criterionResults,
			Aggregate: aggregate,
		})
	}

	return out
}
