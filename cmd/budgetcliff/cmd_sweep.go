// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/pkg/ux"
	"github.com/AleutianAI/budgetcliff/services/llm"
	"github.com/AleutianAI/budgetcliff/services/study/answer"
	"github.com/AleutianAI/budgetcliff/services/study/dataset"
	"github.com/AleutianAI/budgetcliff/services/study/sweep"
)

const (
	phaseMain       = "main"
	phaseStochastic = "stochastic"
	phaseCliff      = "cliff"
	phaseAll        = "all"
)

func runSweepCommand(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, args []string) error {
		plans, err := a.plans(args)
		if err != nil {
			return err
		}
		limit := a.cfg.Study.Limit
		if limitFlag > 0 {
			limit = limitFlag
		}
		problems, err := dataset.LoadFile(a.cfg.Study.Dataset, dataset.WithLimit(limit))
		if err != nil {
			return err
		}
		gen, err := a.generator()
		if err != nil {
			return err
		}
		_, err = a.sweep(ctx, gen, problems, plans, concurrencyFlag)
		return err
	})(cmd, args)
}

// plans maps phase names to sweep plans. No names, or "all", runs every
// phase that has budgets configured.
func (a *app) plans(phases []string) ([]sweep.Plan, error) {
	b := a.cfg.Budgets
	all := []sweep.Plan{
		{Name: phaseMain, Budgets: b.Main, Trials: 1},
		{Name: phaseStochastic, Budgets: b.Stochastic, Trials: b.StochasticTrials},
		{Name: phaseCliff, Budgets: b.Cliff, Trials: 1},
	}
	if len(phases) == 0 || slices.Contains(phases, phaseAll) {
		var out []sweep.Plan
		for _, p := range all {
			if len(p.Budgets) > 0 {
				out = append(out, p)
			}
		}
		return out, nil
	}

	var out []sweep.Plan
	for _, name := range phases {
		i := slices.IndexFunc(all, func(p sweep.Plan) bool { return p.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("unknown sweep phase %q", name)
		}
		if err := all[i].Validate(); err != nil {
			return nil, err
		}
		out = append(out, all[i])
	}
	return out, nil
}

// generator builds the configured backend. The API key is read from the
// environment variable named by backend.api_key_env.
func (a *app) generator() (llm.Generator, error) {
	bc := a.cfg.Backend
	var apiKey string
	if bc.APIKeyEnv != "" {
		apiKey = os.Getenv(bc.APIKeyEnv)
	}
	return llm.New(llm.Config{
		Type:    bc.Type,
		BaseURL: bc.BaseURL,
		Model:   a.cfg.BackendModel(),
		APIKey:  apiKey,
		System:  bc.System,
		Params: llm.GenerationParams{
			Temperature: bc.Temperature,
			TopP:        bc.TopP,
		},
		Timeout: bc.Timeout,
		Logger:  a.log,
	})
}

// sweep runs plans in order and prints a summary per plan. concurrency
// overrides the configured value when positive.
func (a *app) sweep(ctx context.Context, gen llm.Generator, problems []dataset.Problem, plans []sweep.Plan, concurrency int) ([]*sweep.Summary, error) {
	format, err := answer.ParseFormat(a.cfg.Study.Format)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = a.cfg.Backend.Concurrency
	}
	retry := sweep.DefaultRetryConfig()
	retry.MaxAttempts = a.cfg.Backend.MaxAttempts

	runner, err := sweep.NewRunner(gen, a.samples,
		sweep.WithConcurrency(concurrency),
		sweep.WithRateLimit(a.cfg.Backend.RequestsPerSecond, concurrency),
		sweep.WithPromptFormat(format),
		sweep.WithRetry(retry),
		sweep.WithLogger(a.log),
	)
	if err != nil {
		return nil, err
	}

	var summaries []*sweep.Summary
	for _, plan := range plans {
		a.out.Title(fmt.Sprintf("Sweep %s: %d problems x %v x %d trials", plan.Name, len(problems), plan.Budgets, plan.Trials))
		sum, err := runner.Run(ctx, problems, plan)
		if sum != nil {
			summaries = append(summaries, sum)
		}
		if err != nil {
			if sum != nil {
				a.printSummaries(summaries)
			}
			return summaries, fmt.Errorf("sweep %s: %w", plan.Name, err)
		}
	}
	a.printSummaries(summaries)
	return summaries, nil
}

func (a *app) printSummaries(summaries []*sweep.Summary) {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Plan,
			strconv.Itoa(s.Planned),
			strconv.Itoa(s.Recorded),
			strconv.Itoa(s.Correct),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Duplicates),
			s.Elapsed.Round(time.Millisecond).String(),
		})
	}
	a.out.Table(ux.Table{
		Title:   "Sweep summary",
		Headers: []string{"phase", "planned", "recorded", "correct", "skipped", "failed", "duplicates", "elapsed"},
		Rows:    rows,
	})
	for _, s := range summaries {
		if s.Failed > 0 {
			a.out.Warning("%s: %d generations failed and were not recorded; rerun to retry them", s.Plan, s.Failed)
		}
	}
}
