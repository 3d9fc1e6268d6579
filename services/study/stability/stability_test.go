// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stability

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// passes builds samples for one budget. outcomes[t][p] is problem p in pass t.
func passes(budget int, outcomes ...[]bool) []samples.Sample {
	var out []samples.Sample
	for t, pass := range outcomes {
		for p, ok := range pass {
			out = append(out, samples.Sample{
				ProblemID:  fmt.Sprintf("p%d", p),
				Budget:     budget,
				TrialIndex: t,
				Correct:    ok,
			})
		}
	}
	return out
}

func TestVerify_Verdicts(t *testing.T) {
	ss := append(passes(512,
		[]bool{true, true, false, false},
		[]bool{true, false, true, false},
		[]bool{false, true, true, false},
	), passes(1024,
		[]bool{true, true, true, false},
		[]bool{true, true, false, false},
	)...)
	ss = append(ss, passes(64, []bool{true, false})...)

	reports := Verify(ss)
	require.Len(t, reports, 3)

	t.Run("single pass is insufficient", func(t *testing.T) {
		r := reports[0]
		assert.Equal(t, 64, r.Budget)
		assert.Equal(t, 1, r.TrialCount)
		assert.True(t, r.InsufficientData)
		assert.Equal(t, VerdictInsufficientData, r.Verdict)
		assert.True(t, math.IsNaN(r.StdDevAccuracy), "std dev must be undefined, not zero")
		assert.Equal(t, 0.5, r.MeanAccuracy)
	})

	t.Run("identical pass accuracies are stable", func(t *testing.T) {
		r := reports[1]
		assert.Equal(t, 512, r.Budget)
		assert.Equal(t, 3, r.TrialCount)
		assert.Equal(t, []float64{0.5, 0.5, 0.5}, r.PassAccuracies)
		assert.Equal(t, 0.0, r.StdDevAccuracy)
		assert.Equal(t, VerdictStable, r.Verdict)
		assert.False(t, r.InsufficientData)

		// Per-problem rates 2/3, 2/3, 2/3, 0: spread is real even though passes agree.
		assert.Equal(t, 4, r.ProblemCount)
		assert.InDelta(t, math.Sqrt(1.0/12.0), r.ProblemStdDev, 1e-12)
	})

	t.Run("diverging passes are unstable", func(t *testing.T) {
		r := reports[2]
		assert.Equal(t, 1024, r.Budget)
		assert.Equal(t, []float64{0.75, 0.5}, r.PassAccuracies)
		assert.InDelta(t, 0.625, r.MeanAccuracy, 1e-12)
		assert.InDelta(t, 0.25/math.Sqrt2, r.StdDevAccuracy, 1e-12)
		assert.Equal(t, VerdictUnstable, r.Verdict)
	})
}

func TestVerify_Threshold(t *testing.T) {
	ss := passes(512,
		[]bool{true, true, true, true, true, true, true, true, true, false},
		[]bool{true, true, true, true, true, true, true, true, false, false},
	)
	// Pass accuracies 0.9 and 0.8: sample std dev ≈ 0.0707.

	tests := []struct {
		name      string
		threshold float64
		want      Verdict
	}{
		{"default", 0, VerdictUnstable},
		{"loose", 0.1, VerdictStable},
		{"tight", 0.05, VerdictUnstable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.threshold > 0 {
				opts = append(opts, WithThreshold(tt.threshold))
			}
			reports := Verify(ss, opts...)
			require.Len(t, reports, 1)
			assert.Equal(t, tt.want, reports[0].Verdict)
		})
	}
}

func TestVerify_PartialPass(t *testing.T) {
	tests := []struct {
		name     string
		outcomes [][]bool
		trials   int
		partial  []int
		want     Verdict
	}{
		{
			name: "interrupted last pass is excluded",
			outcomes: [][]bool{
				{true, true, false, false},
				{true, false, true, false},
				{false, true, true, false},
				{true},
			},
			trials:  3,
			partial: []int{3},
			want:    VerdictStable,
		},
		{
			name: "one complete pass is insufficient",
			outcomes: [][]bool{
				{true, true, false, false},
				{true, true},
			},
			trials:  1,
			partial: []int{1},
			want:    VerdictInsufficientData,
		},
		{
			name: "equal passes are all complete",
			outcomes: [][]bool{
				{true, false},
				{true, false},
			},
			trials: 2,
			want:   VerdictStable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := Verify(passes(512, tt.outcomes...))
			require.Len(t, reports, 1)
			r := reports[0]
			assert.Equal(t, tt.trials, r.TrialCount)
			assert.Len(t, r.PassAccuracies, tt.trials)
			assert.Equal(t, tt.partial, r.PartialPasses)
			assert.Equal(t, tt.want, r.Verdict)
		})
	}
}

func TestVerify_Empty(t *testing.T) {
	assert.Empty(t, Verify(nil))
}

func TestGate(t *testing.T) {
	reports := []Report{
		{Budget: 512, Verdict: VerdictStable},
		{Budget: 1024, Verdict: VerdictUnstable},
		{Budget: 2048, Verdict: VerdictInsufficientData},
	}

	err := Gate(reports)
	require.ErrorIs(t, err, ErrUnstable)
	assert.Contains(t, err.Error(), "budget 1024 (unstable)")
	assert.Contains(t, err.Error(), "budget 2048 (insufficient_data)")
	assert.NotContains(t, err.Error(), "512")

	assert.NoError(t, Gate(reports[:1]))
	assert.NoError(t, Gate(nil))
}

func TestReport_JSONNullForUndefined(t *testing.T) {
	reports := Verify(passes(64, []bool{true}))
	require.Len(t, reports, 1)

	raw, err := json.Marshal(reports[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded["std_dev_accuracy"])
	assert.Nil(t, decoded["problem_std_dev"])
	assert.Equal(t, "insufficient_data", decoded["verdict"])
	assert.Equal(t, true, decoded["insufficient_data"])
	assert.Equal(t, float64(1), decoded["trial_count"])
}
