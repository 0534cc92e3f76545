// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package judge implements the Judge Evaluator: running K judges x N
// passes per criterion, computing per-judge and cross-judge consistency
// metrics, and detecting outliers (spec.md 4.4).
package judge

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
	"github.com/AleutianAI/ChildGuard/internal/parser"
)

// Generator is the subset of the Provider Gateway the evaluator needs:
// one call per (judge, pass).
type Generator interface {
	Generate(ctx context.Context, providerName, model, prompt string, options domain.GenerationOptions) (string, error)
}

// PromptBuilder fills a criterion's rubric template with the age band,
// prompt and response, per spec.md 4.4 step 1. It is supplied by the
// caller so the evaluator stays agnostic of the exact template syntax.
type PromptBuilder func(criterion domain.Criterion, ageBand domain.AgeBand, prompt, response string) string

// Evaluator runs the multi-judge, multi-pass consistency protocol.
type Evaluator struct {
	gateway       Generator
	judges        []domain.JudgeSpec
	nPasses       int
	hyperSchedule []domain.GenerationOptions // indexed by pass, cyclic if shorter than nPasses
	buildPrompt   PromptBuilder
	repairModel   domain.ModelSpec
	logger        *obslog.Logger
	parallelPasses bool
}

// Config configures a new Evaluator.
type Config struct {
	Gateway        Generator
	Judges         []domain.JudgeSpec
	NPasses        int
	Hyperparams    []domain.GenerationOptions
	BuildPrompt    PromptBuilder
	RepairModel    domain.ModelSpec
	Logger         *obslog.Logger
	ParallelPasses bool // spec.md 9: MAY parallelise pass-level calls for remote backends
}

// New builds an Evaluator. NPasses defaults to 3 when zero or negative.
func New(cfg Config) *Evaluator {
	nPasses := cfg.NPasses
	if nPasses <= 0 {
		nPasses = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obslog.Default()
	}
	return &Evaluator{
		gateway:        cfg.Gateway,
		judges:         cfg.Judges,
		nPasses:        nPasses,
		hyperSchedule:  cfg.Hyperparams,
		buildPrompt:    cfg.BuildPrompt,
		repairModel:    cfg.RepairModel,
		logger:         logger,
		parallelPasses: cfg.ParallelPasses,
	}
}

func (e *Evaluator) passOptions(base domain.GenerationOptions, passIndex int) domain.GenerationOptions {
	if len(e.hyperSchedule) == 0 {
		return base
	}
	override := e.hyperSchedule[passIndex%len(e.hyperSchedule)]
	return base.Merge(override)
}

// EvaluateCriterion evaluates one (prompt, response, ageBand, criterion)
// tuple across every configured judge and pass, per spec.md 4.4.
func (e *Evaluator) EvaluateCriterion(ctx context.Context, criterion domain.Criterion, ageBand domain.AgeBand, prompt, response string) domain.CriterionResult {
	rubricPrompt := e.buildPrompt(criterion, ageBand, prompt, response)

	results := make([]domain.JudgeCriterionResult, 0, len(e.judges))
	for _, j := range e.judges {
		jr := e.evaluateWithJudge(ctx, j, criterion.ID, rubricPrompt)
		results = append(results, jr)
	}

	return e.combine(criterion.ID, results)
}

// Judges returns the configured judge specs in evaluation order, so a
// caller iterating phases (one per judge) can drive EvaluateWithJudge
// itself instead of going through EvaluateCriterion's all-judges loop.
func (e *Evaluator) Judges() []domain.JudgeSpec {
	return append([]domain.JudgeSpec(nil), e.judges...)
}

// EvaluateWithJudge runs every configured pass for a single named judge
// against one criterion, for use by the phased scheduler's per-judge
// phases (spec.md 4.6, Phases B, C, ...). It returns an error if judgeID
// is not one of the evaluator's configured judges.
func (e *Evaluator) EvaluateWithJudge(ctx context.Context, judgeID string, criterion domain.Criterion, ageBand domain.AgeBand, prompt, response string) (domain.JudgeCriterionResult, error) {
	for _, j := range e.judges {
		if j.ID != judgeID {
			continue
		}
		rubricPrompt := e.buildPrompt(criterion, ageBand, prompt, response)
		return e.evaluateWithJudge(ctx, j, criterion.ID, rubricPrompt), nil
	}
	return domain.JudgeCriterionResult{}, fmt.Errorf("unknown judge id %q", judgeID)
}

// CombineJudgeResults implements spec.md 4.6's cross-phase join: given
// every judge's independently-produced result for one criterion
// (gathered across phases B, C, ...), fold them into the same
// CriterionResult shape EvaluateCriterion would have produced inline.
func (e *Evaluator) CombineJudgeResults(criterionID string, results []domain.JudgeCriterionResult) domain.CriterionResult {
	return e.combine(criterionID, results)
}

func (e *Evaluator) evaluateWithJudge(ctx context.Context, j domain.JudgeSpec, criterionID, rubricPrompt string) domain.JudgeCriterionResult {
	passes := make([]domain.PassResult, e.nPasses)

	if e.parallelPasses {
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < e.nPasses; i++ {
			i := i
			g.Go(func() error {
				passes[i] = e.runPass(gctx, j, criterionID, rubricPrompt, i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := 0; i < e.nPasses; i++ {
			passes[i] = e.runPass(ctx, j, criterionID, rubricPrompt, i)
		}
	}

	scores := make([]float64, len(passes))
	for i, p := range passes {
		scores[i] = p.Score
	}

	return domain.JudgeCriterionResult{
		JudgeID:       j.ID,
		Model:         j.Model.Model,
		CriterionID:   criterionID,
		Passes:        passes,
		MeanScore:     mean(scores),
		IntraVariance: variance(scores),
	}
}

func (e *Evaluator) runPass(ctx context.Context, j domain.JudgeSpec, criterionID, rubricPrompt string, passIndex int) domain.PassResult {
	options := e.passOptions(j.Model.Options, passIndex)

	rawText, err := e.gateway.Generate(ctx, j.Model.Provider, j.Model.Model, rubricPrompt, options)
	if err != nil {
		e.logger.Warn("judge pass failed after retries", "judge_id", j.ID, "criterion_id", criterionID, "pass", passIndex+1, "error", err.Error())
		return domain.PassResult{Index: passIndex, Score: 0, Explanation: "judge call failed: " + err.Error(), Outcome: domain.ParsedSentinel, ParseMethod: "fallback"}
	}

	repairer := e.buildRepairer(ctx)
	result := parser.Parse(ctx, e.logger, rawText, repairer)
	result.Index = passIndex
	if result.Outcome == domain.ParsedSentinel {
		e.logger.Warn("judge pass parse failed, using sentinel", "judge_id", j.ID, "criterion_id", criterionID, "pass", passIndex+1)
	}
	return result
}

func (e *Evaluator) buildRepairer(ctx context.Context) parser.Repairer {
	if e.repairModel.Model == "" {
		return nil
	}
	return func(_ context.Context, rawText string) (string, error) {
		return e.gateway.Generate(ctx, e.repairModel.Provider, e.repairModel.Model, parser.RepairPrompt(rawText), domain.GenerationOptions{
			Temperature: floatPtr(0.1),
			TopP:        floatPtr(0.9),
		})
	}
}

// combine implements spec.md 4.4 step 4: final score is the mean of
// judge means, inter-judge agreement is max(0, 1 - std/mean) (1.0 when
// mean is 0), and outliers are judges more than 2 std deviations from
// the overall mean, evaluated only when there are at least 3 judges.
func (e *Evaluator) combine(criterionID string, results []domain.JudgeCriterionResult) domain.CriterionResult {
	means := make([]float64, len(results))
	partial := false
	allFailed := true
	for i, r := range results {
		means[i] = r.MeanScore
		if r.Partial() {
			partial = true
		}
		if !r.Partial() || anyParsed(r.Passes) {
			allFailed = false
		}
	}

	final := mean(means)
	agreement := agreementScore(means)
	outliers := detectOutliers(results, means)

	if len(outliers) > 0 {
		e.logger.Warn("outlier judge detected", "criterion_id", criterionID, "outliers", strings.Join(outliers, ","))
	}

	return domain.CriterionResult{
		CriterionID: criterionID,
		Judges:      results,
		FinalScore:  final,
		Agreement:   agreement,
		OutlierIDs:  outliers,
		Partial:     partial,
		Failed:      allFailed && len(results) > 0,
	}
}

func anyParsed(passes []domain.PassResult) bool {
	for _, p := range passes {
		if p.Outcome == domain.ParsedOK {
			return true
		}
	}
	return false
}

// agreementScore is the coefficient-of-variation-based agreement metric
// from spec.md 4.4: max(0, 1 - std/mean), or 1.0 when the mean is 0 or
// there are fewer than two judges.
func agreementScore(judgeMeans []float64) float64 {
	if len(judgeMeans) < 2 {
		return 1.0
	}
	m := mean(judgeMeans)
	if m == 0 {
		return 1.0
	}
	sd := math.Sqrt(variance(judgeMeans))
	return math.Max(0, 1-sd/m)
}

// detectOutliers flags a judge whose |mean - overall_mean| / std > 2,
// only evaluated when there are at least 3 judges (spec.md 4.4).
func detectOutliers(results []domain.JudgeCriterionResult, judgeMeans []float64) []string {
	if len(judgeMeans) < 3 {
		return nil
	}
	m := mean(judgeMeans)
	sd := math.Sqrt(variance(judgeMeans))
	if sd == 0 {
		return nil
	}
	var outliers []string
	for i, v := range judgeMeans {
		if math.Abs(v-m)/sd > 2.0 {
			outliers = append(outliers, results[i].JudgeID)
		}
	}
	return outliers
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the population variance (spec.md 4.4: "0 if n<2").
func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

func floatPtr(v float64) *float64 { return &v }

// DefaultPromptBuilder fills the standard rubric template shape. Callers
// may substitute their own PromptBuilder for a different template
// syntax; this one matches the structure the reference implementation's
// criterion prompts use (role/task/age-context/scoring-guide/examples,
// then the content to analyze).
func DefaultPromptBuilder(criterion domain.Criterion, ageBand domain.AgeBand, prompt, response string) string {
	ageContext := strings.ReplaceAll(criterion.AgeContext, "{age_group}", string(ageBand))
	var b strings.Builder
	fmt.Fprintf(&b, "ROLE:\n%s\n\n", criterion.Role)
	fmt.Fprintf(&b, "TASK:\n%s\n\n", criterion.Task)
	fmt.Fprintf(&b, "AGE CONTEXT:\n%s\n\n", ageContext)
	fmt.Fprintf(&b, "SCORING GUIDE:\n%s\n\n", criterion.ScoringGuide)
	if criterion.Examples != "" {
		fmt.Fprintf(&b, "EXAMPLES:\n%s\n\n", criterion.Examples)
	}
	fmt.Fprintf(&b, "OUTPUT FORMAT:\n%s\n\n", criterion.OutputFormat)
	fmt.Fprintf(&b, "CONTENT TO ANALYZE:\n---\nPROMPT: %s\nRESPONSE: %s\n", prompt, response)
	return b.String()
}
