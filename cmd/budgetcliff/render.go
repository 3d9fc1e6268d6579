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
	"fmt"
	"math"
	"strconv"

	"github.com/AleutianAI/budgetcliff/pkg/ux"
	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/api"
	"github.com/AleutianAI/budgetcliff/services/study/cliff"
	"github.com/AleutianAI/budgetcliff/services/study/stability"
	"github.com/AleutianAI/budgetcliff/services/study/structure"
)

// fmtFloat renders undefined statistics as n/a, never as zero.
func fmtFloat(v float64, prec int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func fmtPct(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", v*100)
}

// fmtPasses counts complete passes and notes excluded partial ones.
func fmtPasses(r stability.Report) string {
	if len(r.PartialPasses) == 0 {
		return strconv.Itoa(r.TrialCount)
	}
	return fmt.Sprintf("%d (+%d partial)", r.TrialCount, len(r.PartialPasses))
}

func (a *app) printCurve(resp api.CurveResponse) {
	rows := make([][]string, 0, len(resp.Points))
	for _, p := range resp.Points {
		rows = append(rows, []string{
			strconv.Itoa(p.Budget),
			fmtPct(p.Accuracy),
			fmtFloat(p.MeanTokensUsed, 1),
			strconv.Itoa(p.SampleCount),
		})
	}
	a.out.Table(ux.Table{
		Title:   "Saturation curve",
		Headers: []string{"budget", "accuracy", "mean tokens", "samples"},
		Rows:    rows,
		Empty:   "no samples recorded",
		Highlight: func(row int) bool {
			return resp.SaturationBudget != nil && resp.Points[row].Budget == *resp.SaturationBudget
		},
	})
	switch {
	case len(resp.Points) < 2:
	case resp.SaturationBudget != nil:
		a.out.Info("Saturates at budget %d (every later gain below %s)", *resp.SaturationBudget, fmtPct(resp.Epsilon))
	default:
		a.out.Info("No saturation: accuracy still gains at least %s per step at the largest budget", fmtPct(resp.Epsilon))
	}
}

func (a *app) printStability(resp api.StabilityResponse) {
	rows := make([][]string, 0, len(resp.Reports))
	for _, r := range resp.Reports {
		rows = append(rows, []string{
			strconv.Itoa(r.Budget),
			fmtPasses(r),
			fmtPct(r.MeanAccuracy),
			fmtFloat(r.StdDevAccuracy, 4),
			fmtFloat(r.ProblemStdDev, 4),
			string(r.Verdict),
		})
	}
	a.out.Table(ux.Table{
		Title:   "Stability",
		Headers: []string{"budget", "passes", "mean accuracy", "std dev", "per-problem std dev", "verdict"},
		Rows:    rows,
		Empty:   "no samples recorded",
		Highlight: func(row int) bool {
			return resp.Reports[row].Verdict != stability.VerdictStable
		},
	})
	if len(resp.Reports) == 0 {
		return
	}
	if resp.Stable {
		a.out.Success("Stable: every budget varies by less than %s across passes", fmtFloat(resp.Reports[0].Threshold, 4))
	} else {
		a.out.Warning("%s", resp.Gate)
	}
}

func (a *app) printCliff(resp *api.CliffResponse) {
	rows := make([][]string, 0, len(resp.Report.Candidates))
	for i, c := range resp.Report.Candidates {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%d → %d", c.BudgetLow, c.BudgetHigh),
			fmtPct(c.AccuracyLow),
			fmtPct(c.AccuracyHigh),
			fmtFloat(c.GainPerToken*100, 3),
		})
	}
	a.out.Table(ux.Table{
		Title:     fmt.Sprintf("Cliff candidates (%d intervals over %v)", resp.Report.Intervals, resp.Sweep),
		Headers:   []string{"rank", "interval", "accuracy low", "accuracy high", "gain per 100 tokens"},
		Rows:      rows,
		Highlight: func(row int) bool { return row == 0 },
	})
	a.printVerification(resp.Verification)
}

// printVerification shows the verification fraction at each cliff endpoint
// side by side.
func (a *app) printVerification(vfs []structure.VerificationFraction) {
	rows := make([][]string, 0, len(vfs))
	for _, v := range vfs {
		rows = append(rows, []string{
			strconv.Itoa(v.Budget),
			strconv.Itoa(v.Samples),
			strconv.Itoa(v.WithVerification),
			fmtPct(v.Fraction),
		})
	}
	a.out.Table(ux.Table{
		Title:   "Verification at the cliff endpoints",
		Headers: []string{"budget", "samples", "with verification", "fraction"},
		Rows:    rows,
	})
}

func (a *app) printTransitions(low, high int, ts []cliff.Transition) {
	rows := make([][]string, 0, len(ts))
	for _, t := range ts {
		rows = append(rows, []string{
			t.ProblemID,
			orNA(t.AnswerLow),
			orNA(t.AnswerHigh),
			strconv.Itoa(t.TokensLow),
			strconv.Itoa(t.TokensHigh),
		})
	}
	a.out.Table(ux.Table{
		Title:   fmt.Sprintf("Wrong at %d, right at %d", low, high),
		Headers: []string{"problem", "answer low", "answer high", "tokens low", "tokens high"},
		Rows:    rows,
		Empty:   "no problem flips across this interval",
	})
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (a *app) printProfiles(profiles []structure.BudgetProfile) {
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []string{
			strconv.Itoa(p.Budget),
			strconv.Itoa(p.Samples),
			fmtFloat(p.MeanTokensUsed, 1),
			fmtFloat(p.MeanPhaseTokens[structure.PhaseSetup], 1),
			fmtFloat(p.MeanPhaseTokens[structure.PhaseComputation], 1),
			fmtFloat(p.MeanPhaseTokens[structure.PhaseVerification], 1),
			fmtFloat(p.MeanPhaseTokens[structure.PhaseOther], 1),
			fmtFloat(p.MeanSteps, 1),
			fmtFloat(p.MeanArithmeticOps, 1),
			fmtPct(p.VerificationFraction),
		})
	}
	a.out.Table(ux.Table{
		Title:   "Solution structure",
		Headers: []string{"budget", "samples", "tokens", "setup", "computation", "verification", "other", "steps", "ops", "verifies"},
		Rows:    rows,
		Empty:   "no samples recorded",
	})
}

func (a *app) printTaxonomy(tax *annotation.Taxonomy) {
	headers := []string{"budget", "labeled"}
	for _, t := range annotation.ErrorTypes {
		headers = append(headers, string(t))
	}
	headers = append(headers, "not recoverable")

	rows := make([][]string, 0, len(tax.Budgets))
	for _, b := range tax.Budgets {
		row := []string{strconv.Itoa(b.Budget), fmt.Sprintf("%d/%d", b.Labeled, b.Exported)}
		for _, t := range annotation.ErrorTypes {
			if b.Fractions == nil {
				row = append(row, "n/a")
				continue
			}
			row = append(row, fmt.Sprintf("%d (%s)", b.Counts[t], fmtPct(b.Fractions[t])))
		}
		if b.NotRecoverableFraction != nil {
			row = append(row, fmtPct(*b.NotRecoverableFraction))
		} else {
			row = append(row, "n/a")
		}
		rows = append(rows, row)
	}
	a.out.Table(ux.Table{
		Title:     "Error taxonomy",
		Headers:   headers,
		Rows:      rows,
		Empty:     "nothing exported for annotation yet",
		Highlight: func(row int) bool { return tax.Budgets[row].Partial },
	})
	for _, w := range tax.Warnings {
		a.out.Warning("%s", w)
	}
}

func (a *app) printPersistence(report annotation.PersistenceReport) {
	rows := make([][]string, 0, len(report.Persistent))
	for _, p := range report.Persistent {
		rows = append(rows, []string{p.ProblemID, fmt.Sprint(p.Budgets), orNA(p.Predicted)})
	}
	a.out.Table(ux.Table{
		Title:   "Persistent errors (same wrong answer at two or more budgets)",
		Headers: []string{"problem", "budgets", "answer"},
		Rows:    rows,
		Empty:   "no persistent errors",
	})

	rows = make([][]string, 0, len(report.PotentiallyRecovered))
	for _, r := range report.PotentiallyRecovered {
		rows = append(rows, []string{r.ProblemID, fmt.Sprint(r.FailedBudgets)})
	}
	a.out.Table(ux.Table{
		Title:   fmt.Sprintf("Failed below the largest budget (%d)", report.MaxBudget),
		Headers: []string{"problem", "failed at"},
		Rows:    rows,
		Empty:   "none",
	})
}
