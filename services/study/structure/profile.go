// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package structure

import (
	"regexp"
	"slices"
	"strings"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// VerificationFraction is the share of samples at a budget whose solution
// has a non-empty verification phase.
type VerificationFraction struct {
	Budget           int     `json:"budget"`
	Samples          int     `json:"samples"`
	WithVerification int     `json:"with_verification"`
	Fraction         float64 `json:"fraction"`
}

// VerificationFractions classifies every sample and reports, per budget in
// ascending order, how many contain verification. Budgets without samples
// produce no entry.
func VerificationFractions(ss []samples.Sample) []VerificationFraction {
	byBudget := make(map[int]*VerificationFraction)
	for _, s := range ss {
		vf := byBudget[s.Budget]
		if vf == nil {
			vf = &VerificationFraction{Budget: s.Budget}
			byBudget[s.Budget] = vf
		}
		vf.Samples++
		if Classify(s.GeneratedText, s.TokensUsed).Has(PhaseVerification) {
			vf.WithVerification++
		}
	}

	out := make([]VerificationFraction, 0, len(byBudget))
	for _, vf := range byBudget {
		vf.Fraction = float64(vf.WithVerification) / float64(vf.Samples)
		out = append(out, *vf)
	}
	slices.SortFunc(out, func(a, b VerificationFraction) int { return a.Budget - b.Budget })
	return out
}

// BudgetProfile summarizes solution structure at one budget.
type BudgetProfile struct {
	Budget               int               `json:"budget"`
	Samples              int               `json:"samples"`
	MeanTokensUsed       float64           `json:"mean_tokens_used"`
	MeanPhaseTokens      map[Phase]float64 `json:"mean_phase_tokens"`
	MeanSteps            float64           `json:"mean_steps"`
	MeanArithmeticOps    float64           `json:"mean_arithmetic_ops"`
	VerificationFraction float64           `json:"verification_fraction"`
}

var (
	sentenceEnds = regexp.MustCompile(`[.!?]+`)
	stepMarkers  = regexp.MustCompile(`step|first|second|third|next|then|finally`)
	operators    = regexp.MustCompile(`[+\-*/=×÷]`)
)

var operationWords = []string{"add", "subtract", "multiply", "divide", "equals", "sum", "difference", "product"}

// CountSteps estimates reasoning steps as the larger of sentence count and
// step-marker count.
func CountSteps(text string) int {
	sentences := len(sentenceEnds.FindAllStringIndex(text, -1))
	markers := len(stepMarkers.FindAllStringIndex(strings.ToLower(text), -1))
	return max(sentences, markers)
}

// CountArithmeticOps counts operator symbols plus operation words.
func CountArithmeticOps(text string) int {
	n := len(operators.FindAllStringIndex(text, -1))
	lower := strings.ToLower(text)
	for _, w := range operationWords {
		n += strings.Count(lower, w)
	}
	return n
}

type profileAcc struct {
	samples     int
	tokens      int
	phaseTokens map[Phase]int
	steps       int
	ops         int
	verified    int
}

// Profile computes a structure profile per budget, ascending.
func Profile(ss []samples.Sample) []BudgetProfile {
	byBudget := make(map[int]*profileAcc)
	for _, s := range ss {
		acc := byBudget[s.Budget]
		if acc == nil {
			acc = &profileAcc{phaseTokens: make(map[Phase]int)}
			byBudget[s.Budget] = acc
		}
		b := Classify(s.GeneratedText, s.TokensUsed)
		acc.samples++
		acc.tokens += s.TokensUsed
		for _, p := range Phases {
			acc.phaseTokens[p] += b.Tokens(p)
		}
		acc.steps += CountSteps(s.GeneratedText)
		acc.ops += CountArithmeticOps(s.GeneratedText)
		if b.Has(PhaseVerification) {
			acc.verified++
		}
	}

	out := make([]BudgetProfile, 0, len(byBudget))
	for budget, acc := range byBudget {
		n := float64(acc.samples)
		phaseMeans := make(map[Phase]float64, len(Phases))
		for _, p := range Phases {
			phaseMeans[p] = float64(acc.phaseTokens[p]) / n
		}
		out = append(out, BudgetProfile{
			Budget:               budget,
			Samples:              acc.samples,
			MeanTokensUsed:       float64(acc.tokens) / n,
			MeanPhaseTokens:      phaseMeans,
			MeanSteps:            float64(acc.steps) / n,
			MeanArithmeticOps:    float64(acc.ops) / n,
			VerificationFraction: float64(acc.verified) / n,
		})
	}
	slices.SortFunc(out, func(a, b BudgetProfile) int { return a.Budget - b.Budget })
	return out
}
