// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cliff ranks adjacent budget intervals of a dense sweep by accuracy
// gain per token. The top interval is the cliff.
//
// The locator reports where the steepest measured gain is. It makes no claim
// about why; callers cross-reference the structure classifier for that.
package cliff

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/budgetcliff/services/study/curve"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInsufficientBudgets is returned for a sweep with fewer than two budgets.
	ErrInsufficientBudgets = errors.New("insufficient budgets for cliff detection")

	// ErrUnorderedBudgets is returned when budgets are not strictly ascending.
	ErrUnorderedBudgets = errors.New("budgets must be strictly ascending")

	// ErrMissingBudget is returned when a sweep budget has no curve point.
	ErrMissingBudget = errors.New("sweep budget has no samples")
)

// DefaultTopK is the number of candidates reported by default.
const DefaultTopK = 3

// gainDigits is the number of significant digits gains are ranked on.
// Gains equal to this precision are ties.
const gainDigits = 9

// BudgetAccuracy is one input point.
type BudgetAccuracy struct {
	Budget   int     `json:"budget"`
	Accuracy float64 `json:"accuracy"`
}

// Candidate is one adjacent interval and its gain.
type Candidate struct {
	BudgetLow    int     `json:"budget_low"`
	BudgetHigh   int     `json:"budget_high"`
	AccuracyLow  float64 `json:"accuracy_low"`
	AccuracyHigh float64 `json:"accuracy_high"`
	GainPerToken float64 `json:"gain_per_token"`
}

// Report holds the ranked candidates.
type Report struct {
	// Candidates are ranked by gain descending, truncated to TopK.
	Candidates []Candidate `json:"candidates"`

	// Intervals is the number of adjacent intervals evaluated.
	Intervals int `json:"intervals"`
}

// Cliff returns the top candidate.
func (r *Report) Cliff() Candidate {
	return r.Candidates[0]
}

// Config holds locator settings.
type Config struct {
	TopK int
}

// Option configures Locate.
type Option func(*Config)

// WithTopK sets how many candidates to report. Values below one are ignored.
func WithTopK(k int) Option {
	return func(c *Config) {
		if k > 0 {
			c.TopK = k
		}
	}
}

// Locate ranks adjacent budget intervals by gain per token.
//
// Description:
//
//	For each adjacent pair computes (acc[high]-acc[low])/(high-low), sorts
//	descending and keeps the top K. Gains are compared at nine significant
//	digits; equal gains are ties and the lower budget_low ranks first.
//
// Inputs:
//
//	points - Budgets with accuracy, strictly ascending by budget.
//	opts - WithTopK.
//
// Outputs:
//
//	*Report - Never nil on success; holds at least one candidate.
//	error - ErrInsufficientBudgets or ErrUnorderedBudgets.
func Locate(points []BudgetAccuracy, opts ...Option) (*Report, error) {
	cfg := Config{TopK: DefaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(points) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientBudgets, len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Budget <= points[i-1].Budget {
			return nil, fmt.Errorf("%w: %d follows %d", ErrUnorderedBudgets, points[i].Budget, points[i-1].Budget)
		}
	}

	cands := make([]Candidate, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		lo, hi := points[i-1], points[i]
		cands = append(cands, Candidate{
			BudgetLow:    lo.Budget,
			BudgetHigh:   hi.Budget,
			AccuracyLow:  lo.Accuracy,
			AccuracyHigh: hi.Accuracy,
			GainPerToken: (hi.Accuracy - lo.Accuracy) / float64(hi.Budget-lo.Budget),
		})
	}

	rank(cands)

	report := &Report{Intervals: len(cands)}
	report.Candidates = cands[:min(cfg.TopK, len(cands))]
	return report, nil
}

// rank orders candidates by snapped gain descending, then budget_low
// ascending. Each gain maps to one key, so ties are transitive.
func rank(cands []Candidate) {
	keys := make(map[int]float64, len(cands))
	for _, c := range cands {
		keys[c.BudgetLow] = snapGain(c.GainPerToken)
	}
	slices.SortFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(keys[b.BudgetLow], keys[a.BudgetLow]); c != 0 {
			return c
		}
		return cmp.Compare(a.BudgetLow, b.BudgetLow)
	})
}

// snapGain rounds v to gainDigits significant digits.
func snapGain(v float64) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	snapped, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', gainDigits, 64), 64)
	if err != nil {
		return v
	}
	return snapped
}

// LocateSweep locates the cliff over a planned sweep.
//
// Every budget in sweep must have a curve point, so no interval silently
// spans a gap. Points for budgets outside the sweep are ignored.
//
// Outputs:
//
//	error - ErrMissingBudget naming each budget without samples, or any
//	        Locate error.
func LocateSweep(sweep []int, points []curve.Point, opts ...Option) (*Report, error) {
	input := make([]BudgetAccuracy, 0, len(sweep))
	var missing []string
	for _, b := range sweep {
		p, ok := curve.Lookup(points, b)
		if !ok {
			missing = append(missing, fmt.Sprint(b))
			continue
		}
		input = append(input, BudgetAccuracy{Budget: b, Accuracy: p.Accuracy})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingBudget, strings.Join(missing, ", "))
	}
	return Locate(input, opts...)
}

// FromCurve converts curve points to locator input.
func FromCurve(points []curve.Point) []BudgetAccuracy {
	out := make([]BudgetAccuracy, len(points))
	for i, p := range points {
		out[i] = BudgetAccuracy{Budget: p.Budget, Accuracy: p.Accuracy}
	}
	return out
}

// Transition is a problem that fails at the low budget and succeeds at the
// high one.
type Transition struct {
	ProblemID    string `json:"problem_id"`
	TokensLow    int    `json:"tokens_low"`
	TokensHigh   int    `json:"tokens_high"`
	AnswerLow    string `json:"answer_low,omitempty"`
	AnswerHigh   string `json:"answer_high,omitempty"`
	TextLowTail  string `json:"text_low_tail,omitempty"`
	TextHighTail string `json:"text_high_tail,omitempty"`
}

// tailRunes bounds the excerpt kept from each solution.
const tailRunes = 200

// Transitions lists problems incorrect at low and correct at high, on trial
// 0, in problem order of first appearance at low.
func Transitions(ss []samples.Sample, low, high int) []Transition {
	atHigh := make(map[string]samples.Sample)
	for _, s := range ss {
		if s.Budget == high && s.TrialIndex == 0 {
			atHigh[s.ProblemID] = s
		}
	}

	var out []Transition
	for _, s := range ss {
		if s.Budget != low || s.TrialIndex != 0 || s.Correct {
			continue
		}
		h, ok := atHigh[s.ProblemID]
		if !ok || !h.Correct {
			continue
		}
		out = append(out, Transition{
			ProblemID:    s.ProblemID,
			TokensLow:    s.TokensUsed,
			TokensHigh:   h.TokensUsed,
			AnswerLow:    deref(s.ExtractedAnswer),
			AnswerHigh:   deref(h.ExtractedAnswer),
			TextLowTail:  tail(s.GeneratedText),
			TextHighTail: tail(h.GeneratedText),
		})
	}
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func tail(s string) string {
	r := []rune(s)
	if len(r) <= tailRunes {
		return s
	}
	return "..." + string(r[len(r)-tailRunes:])
}
