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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/services/study/api"
	"github.com/AleutianAI/budgetcliff/services/study/cliff"
	"github.com/AleutianAI/budgetcliff/services/study/stability"
	"github.com/AleutianAI/budgetcliff/services/study/structure"
)

func runCurve(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.curve(ctx, budgetsFlag, epsilonFlag, jsonOutput)
	})(cmd, args)
}

func runStability(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.stability(ctx, budgetsFlag, thresholdFlag, jsonOutput)
	})(cmd, args)
}

func runCliff(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.cliff(ctx, cliffOptions{
			sweep:       sweepFlag,
			wholeCurve:  wholeCurveFlag,
			topK:        topKFlag,
			transitions: transitionsFlag,
		}, jsonOutput)
	})(cmd, args)
}

func runStructure(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.structure(ctx, budgetsFlag, jsonOutput)
	})(cmd, args)
}

// curve prints the saturation curve. epsilon overrides the configured
// saturation threshold when positive.
func (a *app) curve(ctx context.Context, budgets []int, epsilon float64, asJSON bool) error {
	ss, err := a.collect(ctx, budgets)
	if err != nil {
		return err
	}
	if epsilon <= 0 {
		epsilon = a.cfg.Analysis.SaturationEpsilon
	}
	resp := api.BuildCurve(ss, epsilon)
	if asJSON {
		return a.printJSON(resp)
	}
	a.printCurve(resp)
	return nil
}

// stability verifies the stochastic budgets, or the given ones, and returns
// the gate error so the exit status reflects the verdict.
func (a *app) stability(ctx context.Context, budgets []int, threshold float64, asJSON bool) error {
	if len(budgets) == 0 {
		budgets = a.cfg.Budgets.Stochastic
	}
	if threshold <= 0 {
		threshold = a.cfg.Analysis.StabilityThreshold
	}
	ss, err := a.collect(ctx, budgets)
	if err != nil {
		return err
	}
	resp := api.BuildStability(ss, threshold, a.log)
	if asJSON {
		if err := a.printJSON(resp); err != nil {
			return err
		}
	} else {
		a.printStability(resp)
	}
	return stability.Gate(resp.Reports)
}

type cliffOptions struct {
	sweep       []int
	wholeCurve  bool
	topK        int
	transitions bool
}

type cliffOutput struct {
	*api.CliffResponse
	Transitions []cliff.Transition `json:"transitions,omitempty"`
}

// cliff locates the cliff over the planned sweep (budgets.cliff by default)
// or, with wholeCurve, over every recorded budget.
func (a *app) cliff(ctx context.Context, opts cliffOptions, asJSON bool) error {
	sweep := opts.sweep
	if len(sweep) == 0 && !opts.wholeCurve {
		sweep = a.cfg.Budgets.Cliff
	}
	if opts.wholeCurve {
		sweep = nil
	}
	topK := opts.topK
	if topK <= 0 {
		topK = a.cfg.Analysis.CliffTopK
	}

	ss, err := a.collect(ctx, sweep)
	if err != nil {
		return err
	}
	resp, err := api.BuildCliff(ss, sweep, topK)
	if err != nil {
		return err
	}

	out := cliffOutput{CliffResponse: resp}
	if opts.transitions {
		out.Transitions = cliff.Transitions(ss, resp.Cliff.BudgetLow, resp.Cliff.BudgetHigh)
	}
	if asJSON {
		return a.printJSON(out)
	}
	a.printCliff(resp)
	if opts.transitions {
		a.printTransitions(resp.Cliff.BudgetLow, resp.Cliff.BudgetHigh, out.Transitions)
	}
	return nil
}

func (a *app) structure(ctx context.Context, budgets []int, asJSON bool) error {
	ss, err := a.collect(ctx, budgets)
	if err != nil {
		return err
	}
	profiles := structure.Profile(ss)
	if asJSON {
		return a.printJSON(profiles)
	}
	a.printProfiles(profiles)
	return nil
}
