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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/api"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
	"github.com/AleutianAI/budgetcliff/services/study/structure"
)

func runReport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.report(ctx, outFlag)
	})(cmd, args)
}

// studyReport is every analysis over the current store. Each section reads
// the budgets its phase produced.
type studyReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	Model       string    `json:"model"`
	Dataset     string    `json:"dataset"`
	Samples     int       `json:"samples"`

	Curve     api.CurveResponse     `json:"curve"`
	Stability api.StabilityResponse `json:"stability"`

	// Cliff is nil when the cliff sweep cannot be analyzed yet; CliffError
	// then says why.
	Cliff      *api.CliffResponse `json:"cliff,omitempty"`
	CliffError string             `json:"cliff_error,omitempty"`

	Structure   []structure.BudgetProfile     `json:"structure"`
	Taxonomy    *annotation.Taxonomy          `json:"taxonomy"`
	Persistence annotation.PersistenceReport `json:"persistence"`
}

func (a *app) buildReport(ctx context.Context) (*studyReport, error) {
	ss, err := a.collect(ctx, nil)
	if err != nil {
		return nil, err
	}
	b := a.cfg.Budgets
	r := &studyReport{
		GeneratedAt: time.Now().UTC(),
		Model:       a.cfg.Study.Model,
		Dataset:     a.cfg.Study.Dataset,
		Samples:     len(ss),
		Curve:       api.BuildCurve(only(ss, samples.Filter{Budgets: b.Main}), a.cfg.Analysis.SaturationEpsilon),
		Stability:   api.BuildStability(only(ss, samples.Filter{Budgets: b.Stochastic}), a.cfg.Analysis.StabilityThreshold, a.log),
		Structure:   structure.Profile(ss),
		Persistence: annotation.Persistence(only(ss, samples.Filter{Budgets: b.Main, TrialIndex: samples.Ptr(0)})),
	}

	cliffSamples := only(ss, samples.Filter{Budgets: b.Cliff})
	if resp, err := api.BuildCliff(cliffSamples, b.Cliff, a.cfg.Analysis.CliffTopK); err != nil {
		r.CliffError = err.Error()
	} else {
		r.Cliff = resp
	}

	r.Taxonomy, err = a.workflow.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// only keeps the samples f matches. An empty filter keeps everything.
func only(ss []samples.Sample, f samples.Filter) []samples.Sample {
	out := make([]samples.Sample, 0, len(ss))
	for _, s := range ss {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out
}

// report prints every section and, when out is set, writes the report as
// JSON there too.
func (a *app) report(ctx context.Context, out string) error {
	r, err := a.buildReport(ctx)
	if err != nil {
		return err
	}

	a.out.Title(fmt.Sprintf("budgetcliff report: %s on %s (%d samples)", r.Model, r.Dataset, r.Samples))
	a.printCurve(r.Curve)
	a.printStability(r.Stability)
	if r.Cliff != nil {
		a.printCliff(r.Cliff)
	} else {
		a.out.Warning("Cliff: %s", r.CliffError)
	}
	a.printProfiles(r.Structure)
	a.printTaxonomy(r.Taxonomy)
	a.printPersistence(r.Persistence)

	if out == "" {
		return nil
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	a.out.Success("Report written to %s", out)
	return nil
}
