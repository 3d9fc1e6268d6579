// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cliff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/budgetcliff/services/study/curve"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

func pts(budgets []int, accs []float64) []BudgetAccuracy {
	out := make([]BudgetAccuracy, len(budgets))
	for i := range budgets {
		out[i] = BudgetAccuracy{Budget: budgets[i], Accuracy: accs[i]}
	}
	return out
}

func TestLocate_Ranking(t *testing.T) {
	report, err := Locate(pts([]int{64, 128, 192, 256}, []float64{0.25, 0.50, 0.55, 0.65}))
	require.NoError(t, err)
	require.Len(t, report.Candidates, 3)
	assert.Equal(t, 3, report.Intervals)

	top := report.Cliff()
	assert.Equal(t, 64, top.BudgetLow)
	assert.Equal(t, 128, top.BudgetHigh)
	assert.InDelta(t, 0.0039, top.GainPerToken, 0.00005)

	assert.Equal(t, 192, report.Candidates[1].BudgetLow)
	assert.InDelta(t, 0.00156, report.Candidates[1].GainPerToken, 0.00001)

	assert.Equal(t, 128, report.Candidates[2].BudgetLow)
	assert.InDelta(t, 0.00078, report.Candidates[2].GainPerToken, 0.00001)
}

func TestLocate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		points []BudgetAccuracy
		want   error
	}{
		{"empty", nil, ErrInsufficientBudgets},
		{"single", pts([]int{64}, []float64{0.5}), ErrInsufficientBudgets},
		{"descending", pts([]int{128, 64}, []float64{0.5, 0.2}), ErrUnorderedBudgets},
		{"repeated", pts([]int{64, 64, 128}, []float64{0.2, 0.2, 0.5}), ErrUnorderedBudgets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Locate(tt.points)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLocate_TiesPreferLowerBudget(t *testing.T) {
	// The first three gains differ only by float rounding.
	points := pts([]int{96, 112, 128, 144, 160}, []float64{0.3, 0.4, 0.5, 0.6, 0.6})
	report, err := Locate(points, WithTopK(10))
	require.NoError(t, err)
	require.Len(t, report.Candidates, 4)

	var lows []int
	for _, c := range report.Candidates {
		lows = append(lows, c.BudgetLow)
	}
	assert.Equal(t, []int{96, 112, 128, 144}, lows)
}

func TestRank_NearTieChain(t *testing.T) {
	// Adjacent gains differ by 6e-10 relative, the ends by 1.2e-9.
	g := 0.00625
	cands := []Candidate{
		{BudgetLow: 300, GainPerToken: g * (1 + 1.2e-9)},
		{BudgetLow: 200, GainPerToken: g},
		{BudgetLow: 50, GainPerToken: g / 2},
		{BudgetLow: 100, GainPerToken: g * (1 + 0.6e-9)},
		{BudgetLow: 500, GainPerToken: g * (1 + 1e-6)},
		{BudgetLow: 400, GainPerToken: 2 * g},
	}
	for _, order := range [][]int{{0, 1, 2, 3, 4, 5}, {5, 4, 3, 2, 1, 0}, {3, 0, 5, 1, 4, 2}} {
		in := make([]Candidate, len(order))
		for i, j := range order {
			in[i] = cands[j]
		}
		rank(in)

		var lows []int
		for _, c := range in {
			lows = append(lows, c.BudgetLow)
		}
		assert.Equal(t, []int{400, 500, 100, 200, 300, 50}, lows)
	}
}

func TestLocate_TopK(t *testing.T) {
	points := pts([]int{32, 64, 128, 256, 512}, []float64{0.1, 0.2, 0.5, 0.7, 0.71})

	tests := []struct {
		name string
		opts []Option
		want int
	}{
		{"default", nil, 3},
		{"one", []Option{WithTopK(1)}, 1},
		{"more than intervals", []Option{WithTopK(9)}, 4},
		{"zero ignored", []Option{WithTopK(0)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Locate(points, tt.opts...)
			require.NoError(t, err)
			assert.Len(t, report.Candidates, tt.want)
			assert.Equal(t, 64, report.Cliff().BudgetLow)
		})
	}
}

func TestLocate_NegativeGainsRankLast(t *testing.T) {
	report, err := Locate(pts([]int{96, 112, 128}, []float64{0.6, 0.5, 0.55}))
	require.NoError(t, err)
	assert.Equal(t, 112, report.Cliff().BudgetLow)
	assert.Less(t, report.Candidates[1].GainPerToken, 0.0)
}

func TestLocateSweep(t *testing.T) {
	points := []curve.Point{
		{Budget: 96, Accuracy: 0.3},
		{Budget: 112, Accuracy: 0.35},
		{Budget: 144, Accuracy: 0.7},
		{Budget: 2048, Accuracy: 0.9},
	}

	t.Run("missing budget named", func(t *testing.T) {
		_, err := LocateSweep([]int{96, 112, 128, 144}, points)
		require.ErrorIs(t, err, ErrMissingBudget)
		assert.Contains(t, err.Error(), "128")
	})

	t.Run("complete sweep ignores extra points", func(t *testing.T) {
		report, err := LocateSweep([]int{96, 112, 144}, points)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Intervals)
		assert.Equal(t, 112, report.Cliff().BudgetLow)
		assert.Equal(t, 144, report.Cliff().BudgetHigh)
	})
}

func TestTransitions(t *testing.T) {
	s := func(p string, budget, trial int, correct bool, text string) samples.Sample {
		return samples.Sample{ProblemID: p, Budget: budget, TrialIndex: trial, Correct: correct, GeneratedText: text}
	}
	ss := []samples.Sample{
		s("a", 128, 0, false, "ran out"),
		s("b", 128, 0, false, "wrong"),
		s("c", 128, 0, true, "ok"),
		s("d", 128, 1, false, "other trial"),
		s("a", 144, 0, true, "ok"),
		s("b", 144, 0, false, "still wrong"),
		s("c", 144, 0, true, "ok"),
		s("d", 144, 1, true, "ok"),
		s("e", 128, 0, false, strings.Repeat("x", 300)),
		s("e", 144, 0, true, "ok"),
	}

	got := Transitions(ss, 128, 144)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ProblemID)
	assert.Equal(t, "ran out", got[0].TextLowTail)
	assert.Equal(t, "e", got[1].ProblemID)
	assert.Len(t, []rune(got[1].TextLowTail), tailRunes+3)
}
