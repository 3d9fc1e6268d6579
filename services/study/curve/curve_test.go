// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package curve

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

func mk(budget int, correct bool, tokens int) samples.Sample {
	return samples.Sample{ProblemID: fmt.Sprintf("p%d", tokens), Budget: budget, Correct: correct, TokensUsed: tokens}
}

func TestAggregate(t *testing.T) {
	t.Run("all correct yields accuracy one", func(t *testing.T) {
		points := Aggregate([]samples.Sample{mk(64, true, 10), mk(64, true, 20), mk(64, true, 30)})
		require.Len(t, points, 1)
		assert.Equal(t, Point{Budget: 64, Accuracy: 1.0, MeanTokensUsed: 20, SampleCount: 3}, points[0])
	})

	t.Run("empty input yields no points", func(t *testing.T) {
		assert.Empty(t, Aggregate(nil))
	})

	t.Run("missing budget yields no point", func(t *testing.T) {
		points := Aggregate([]samples.Sample{mk(256, false, 200), mk(32, false, 32)})
		require.Len(t, points, 2)
		assert.Equal(t, 32, points[0].Budget)
		assert.Equal(t, 256, points[1].Budget)
		_, ok := Lookup(points, 128)
		assert.False(t, ok)
	})

	t.Run("true zero is a point", func(t *testing.T) {
		points := Aggregate([]samples.Sample{mk(32, false, 32), mk(32, false, 31)})
		require.Len(t, points, 1)
		assert.Equal(t, 0.0, points[0].Accuracy)
		assert.Equal(t, 2, points[0].SampleCount)
	})

	t.Run("mixed budgets ascending", func(t *testing.T) {
		points := Aggregate([]samples.Sample{
			mk(128, true, 100), mk(64, false, 64), mk(128, false, 128), mk(64, true, 40),
			mk(128, true, 90), mk(128, true, 10),
		})
		require.Len(t, points, 2)
		assert.Equal(t, Point{Budget: 64, Accuracy: 0.5, MeanTokensUsed: 52, SampleCount: 2}, points[0])
		assert.Equal(t, Point{Budget: 128, Accuracy: 0.75, MeanTokensUsed: 82, SampleCount: 4}, points[1])
	})
}

func TestSaturationBudget(t *testing.T) {
	curve := func(accs ...float64) []Point {
		out := make([]Point, len(accs))
		for i, a := range accs {
			out[i] = Point{Budget: 32 << i, Accuracy: a}
		}
		return out
	}

	tests := []struct {
		name   string
		points []Point
		want   int
		wantOK bool
	}{
		{"plateau after 128", curve(0.1, 0.4, 0.8, 0.802, 0.801), 128, true},
		{"flat from start", curve(0.9, 0.9, 0.9), 32, true},
		{"still climbing", curve(0.1, 0.2, 0.3), 0, false},
		{"dip then flat", curve(0.5, 0.9, 0.6, 0.6), 128, true},
		{"single point", curve(0.5), 0, false},
		{"empty", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SaturationBudget(tt.points, 0.005)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
