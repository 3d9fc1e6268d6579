// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sweep runs a model over problems × budgets × trials and records
// every generation as a sample.
//
// A sweep is resumable. Jobs whose key is already stored are skipped, so
// rerunning after a crash or a cancelled context only fills the gaps.
// Failed generations record nothing and are picked up by the next run.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/budgetcliff/services/llm"
	"github.com/AleutianAI/budgetcliff/services/study/answer"
	"github.com/AleutianAI/budgetcliff/services/study/dataset"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidPlan is returned for a plan with no budgets, a non-positive
	// budget or fewer than one trial.
	ErrInvalidPlan = errors.New("invalid sweep plan")

	// ErrBudgetExceeded marks a generation whose reported token count is
	// larger than the budget it was given.
	ErrBudgetExceeded = errors.New("tokens used exceed budget")
)

// Store is the part of the sample store a sweep writes through.
type Store interface {
	Has(ctx context.Context, problemID string, budget, trial int) (bool, error)
	Record(ctx context.Context, s samples.Sample) error
}

// Plan is one sweep phase.
type Plan struct {
	Name    string
	Budgets []int
	// Trials is the number of passes per budget. Trial indexes run from 0.
	Trials int
}

// Validate checks the plan.
func (p Plan) Validate() error {
	if len(p.Budgets) == 0 {
		return fmt.Errorf("%w: %s: no budgets", ErrInvalidPlan, p.Name)
	}
	for _, b := range p.Budgets {
		if b <= 0 {
			return fmt.Errorf("%w: %s: budget %d must be positive", ErrInvalidPlan, p.Name, b)
		}
	}
	if p.Trials < 1 {
		return fmt.Errorf("%w: %s: trials must be at least 1, got %d", ErrInvalidPlan, p.Name, p.Trials)
	}
	return nil
}

// Summary counts what a run did. Planned equals the sum of the other four
// counters unless the run was cancelled.
type Summary struct {
	RunID      string        `json:"run_id"`
	Plan       string        `json:"plan"`
	Planned    int           `json:"planned"`
	Recorded   int           `json:"recorded"`
	Correct    int           `json:"correct"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Duplicates int           `json:"duplicates"`
	Elapsed    time.Duration `json:"elapsed"`
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Runner drives a generator over a plan.
//
// Thread Safety: Run may be called concurrently; each call has its own
// counters. Concurrent runs over the same keys are safe because the store
// rejects duplicates.
type Runner struct {
	gen         llm.Generator
	store       Store
	format      answer.Format
	concurrency int
	limiter     *rate.Limiter
	retry       RetryConfig
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds in-flight generations. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = max(n, 1) }
}

// WithRateLimit caps generation starts per second. Zero or less disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Runner) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithPromptFormat selects the prompt template.
func WithPromptFormat(f answer.Format) Option {
	return func(r *Runner) { r.format = f }
}

// WithRetry replaces the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(r *Runner) { r.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner with concurrency 1, no rate limit, the gsm8k
// prompt and DefaultRetryConfig.
func NewRunner(gen llm.Generator, store Store, opts ...Option) (*Runner, error) {
	r := &Runner{
		gen:         gen,
		store:       store,
		format:      answer.FormatGSM8K,
		concurrency: 1,
		retry:       DefaultRetryConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.retry.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

type job struct {
	problem dataset.Problem
	budget  int
	trial   int
}

type counters struct {
	mu sync.Mutex
	s  Summary
}

func (c *counters) add(outcome string, correct bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch outcome {
	case outcomeRecorded:
		c.s.Recorded++
		if correct {
			c.s.Correct++
		}
	case outcomeSkipped:
		c.s.Skipped++
	case outcomeFailed:
		c.s.Failed++
	case outcomeDuplicate:
		c.s.Duplicates++
	}
	recordOutcome(outcome)
}

const (
	outcomeRecorded  = "recorded"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
	outcomeDuplicate = "duplicate"
)

// Run executes plan over problems.
//
// Description:
//
//	Jobs are scheduled budget by budget, then trial, then problem. Each job
//	checks the store first and is skipped when its key exists. Otherwise it
//	waits for the rate limiter, generates with retries, extracts and checks
//	the answer, and records the sample. A generation that fails or reports
//	more tokens than its budget is counted as failed and records nothing.
//	A duplicate from a concurrent writer is counted, not fatal.
//
// Inputs:
//
//	ctx - Cancellation stops scheduling. In-flight jobs finish or fail.
//	problems - The dataset slice to run.
//	plan - Budgets and trial count.
//
// Outputs:
//
//	*Summary - Always non-nil once the plan validates.
//	error - A store failure, or ctx.Err() when cancelled.
func (r *Runner) Run(ctx context.Context, problems []dataset.Problem, plan Plan) (*Summary, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx, span := otel.Tracer("sweep").Start(ctx, "sweep.Runner.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("plan", plan.Name),
			attribute.IntSlice("budgets", plan.Budgets),
			attribute.Int("trials", plan.Trials),
			attribute.Int("problems", len(problems)),
		),
	)
	defer span.End()

	logger := r.logger.With("run_id", runID, "plan", plan.Name)
	start := time.Now()
	c := &counters{s: Summary{RunID: runID, Plan: plan.Name}}
	logger.Info("Starting sweep", "budgets", plan.Budgets, "trials", plan.Trials, "problems", len(problems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

schedule:
	for _, budget := range plan.Budgets {
		for trial := range plan.Trials {
			for _, p := range problems {
				if gctx.Err() != nil {
					break schedule
				}
				c.mu.Lock()
				c.s.Planned++
				c.mu.Unlock()
				j := job{problem: p, budget: budget, trial: trial}
				g.Go(func() error { return r.runJob(gctx, logger, j, c) })
			}
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	c.mu.Lock()
	summary := c.s
	c.mu.Unlock()
	summary.Elapsed = time.Since(start)

	span.SetAttributes(
		attribute.Int("recorded", summary.Recorded),
		attribute.Int("skipped", summary.Skipped),
		attribute.Int("failed", summary.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep stopped")
		logger.Warn("Sweep stopped", "error", err, "recorded", summary.Recorded, "failed", summary.Failed)
		return &summary, err
	}
	logger.Info("Sweep complete",
		"recorded", summary.Recorded,
		"correct", summary.Correct,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duplicates", summary.Duplicates,
		"elapsed", summary.Elapsed)
	return &summary, nil
}

// runJob returns an error only for store failures, which stop the run.
func (r *Runner) runJob(ctx context.Context, logger *slog.Logger, j job, c *counters) error {
	exists, err := r.store.Has(ctx, j.problem.ID, j.budget, j.trial)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("check %s:%d:%d: %w", j.problem.ID, j.budget, j.trial, err)
	}
	if exists {
		c.add(outcomeSkipped, false)
		return nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil
		}
	}

	began := time.Now()
	gen, attempts, err := generateWithRetry(ctx, r.retry, r.gen, answer.Prompt(j.problem.Question, r.format), j.budget)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.add(outcomeFailed, false)
		logger.Warn("Generation failed",
			"problem_id", j.problem.ID, "budget", j.budget, "trial", j.trial,
			"attempts", attempts, "error", err)
		return nil
	}
	observeGeneration(time.Since(began))

	if gen.TokensUsed > j.budget {
		c.add(outcomeFailed, false)
		logger.Warn("Generation rejected",
			"problem_id", j.problem.ID, "budget", j.budget, "trial", j.trial,
			"tokens_used", gen.TokensUsed, "error", ErrBudgetExceeded)
		return nil
	}

	extracted := answer.Extract(gen.Text)
	s := samples.Sample{
		ProblemID:       j.problem.ID,
		Budget:          j.budget,
		TrialIndex:      j.trial,
		GeneratedText:   gen.Text,
		ExtractedAnswer: extracted,
		GroundTruth:     j.problem.GroundTruth,
		Correct:         answer.Check(extracted, j.problem.GroundTruth),
		TokensUsed:      max(gen.TokensUsed, 0),
	}
	switch err := r.store.Record(ctx, s); {
	case err == nil:
		c.add(outcomeRecorded, s.Correct)
		logger.Debug("Recorded sample", "key", s.Key().String(), "correct", s.Correct, "tokens_used", s.TokensUsed)
		return nil
	case errors.Is(err, samples.ErrDuplicateKey):
		c.add(outcomeDuplicate, false)
		return nil
	case errors.Is(err, samples.ErrInvalidSample):
		c.add(outcomeFailed, false)
		logger.Warn("Sample rejected", "key", s.Key().String(), "error", err)
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		return fmt.Errorf("record %s: %w", s.Key(), err)
	}
}
