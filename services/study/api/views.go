// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"

	"github.com/AleutianAI/budgetcliff/services/study/cliff"
	"github.com/AleutianAI/budgetcliff/services/study/curve"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
	"github.com/AleutianAI/budgetcliff/services/study/stability"
	"github.com/AleutianAI/budgetcliff/services/study/structure"
)

// The builders below produce the report views shared by the HTTP handlers
// and the CLI.

// BuildCurve aggregates ss and detects saturation when epsilon is positive.
func BuildCurve(ss []samples.Sample, epsilon float64) CurveResponse {
	resp := CurveResponse{Points: curve.Aggregate(ss), Epsilon: epsilon}
	if epsilon > 0 {
		if b, found := curve.SaturationBudget(resp.Points, epsilon); found {
			resp.SaturationBudget = &b
		}
	}
	return resp
}

// BuildStability verifies ss and records the gate outcome.
func BuildStability(ss []samples.Sample, threshold float64, logger *slog.Logger) StabilityResponse {
	opts := []stability.Option{stability.WithThreshold(threshold)}
	if logger != nil {
		opts = append(opts, stability.WithLogger(logger))
	}
	reports := stability.Verify(ss, opts...)
	resp := StabilityResponse{Reports: reports, Stable: true}
	if err := stability.Gate(reports); err != nil {
		resp.Stable = false
		resp.Gate = err.Error()
	}
	return resp
}

// BuildCliff locates the cliff over sweep, or over every budget in ss when
// sweep is empty, and attaches the verification fractions at both ends of
// the top interval.
//
// Outputs:
//
//	*CliffResponse - Never nil on success.
//	error - cliff.ErrInsufficientBudgets, cliff.ErrMissingBudget or
//	        cliff.ErrUnorderedBudgets.
func BuildCliff(ss []samples.Sample, sweep []int, topK int) (*CliffResponse, error) {
	points := curve.Aggregate(ss)
	var (
		report *cliff.Report
		err    error
	)
	if len(sweep) > 0 {
		report, err = cliff.LocateSweep(sweep, points, cliff.WithTopK(topK))
	} else {
		report, err = cliff.Locate(cliff.FromCurve(points), cliff.WithTopK(topK))
		for _, p := range points {
			sweep = append(sweep, p.Budget)
		}
	}
	if err != nil {
		return nil, err
	}

	top := report.Cliff()
	var endpoints []samples.Sample
	for _, s := range ss {
		if s.Budget == top.BudgetLow || s.Budget == top.BudgetHigh {
			endpoints = append(endpoints, s)
		}
	}
	return &CliffResponse{
		Sweep:        sweep,
		Report:       report,
		Cliff:        &top,
		Verification: structure.VerificationFractions(endpoints),
	}, nil
}
