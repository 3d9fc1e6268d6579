// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotation

import (
	"slices"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// PersistentError is a problem that fails at two or more budgets with the
// same wrong answer.
type PersistentError struct {
	ProblemID string `json:"problem_id"`
	Budgets   []int  `json:"budgets"`
	Predicted string `json:"predicted"`
}

// RecoveryCandidate is a problem whose failures all sit below the largest
// budget measured, so more budget may have fixed it.
type RecoveryCandidate struct {
	ProblemID     string `json:"problem_id"`
	FailedBudgets []int  `json:"failed_budgets"`
}

// PersistenceReport groups failures across budgets.
type PersistenceReport struct {
	MaxBudget            int                 `json:"max_budget"`
	Persistent           []PersistentError   `json:"persistent"`
	PotentiallyRecovered []RecoveryCandidate `json:"potentially_recovered"`
}

// Persistence analyzes trial-0 failures across budgets.
//
// A missing extracted answer counts as the answer "" so repeated empty
// extractions are persistent too. Problems are reported in order of first
// failure.
func Persistence(ss []samples.Sample) PersistenceReport {
	type failure struct {
		budget    int
		predicted string
	}
	var order []string
	failures := make(map[string][]failure)
	maxBudget := 0

	for _, s := range ss {
		if s.TrialIndex != 0 {
			continue
		}
		maxBudget = max(maxBudget, s.Budget)
		if s.Correct {
			continue
		}
		if _, seen := failures[s.ProblemID]; !seen {
			order = append(order, s.ProblemID)
		}
		failures[s.ProblemID] = append(failures[s.ProblemID], failure{budget: s.Budget, predicted: deref(s.ExtractedAnswer)})
	}

	report := PersistenceReport{MaxBudget: maxBudget}
	for _, id := range order {
		fs := failures[id]
		slices.SortFunc(fs, func(a, b failure) int { return a.budget - b.budget })
		budgets := make([]int, len(fs))
		same := true
		for i, f := range fs {
			budgets[i] = f.budget
			if f.predicted != fs[0].predicted {
				same = false
			}
		}

		if len(fs) >= 2 && same {
			report.Persistent = append(report.Persistent, PersistentError{
				ProblemID: id,
				Budgets:   budgets,
				Predicted: fs[0].predicted,
			})
		}
		if budgets[len(budgets)-1] < maxBudget {
			report.PotentiallyRecovered = append(report.PotentiallyRecovered, RecoveryCandidate{
				ProblemID:     id,
				FailedBudgets: budgets,
			})
		}
	}
	return report
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
