// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package curve reduces samples to per-budget accuracy and length statistics.
package curve

import (
	"math"
	"slices"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// Point is one budget's aggregate. It is a view over samples and is never
// persisted.
type Point struct {
	Budget         int     `json:"budget"`
	Accuracy       float64 `json:"accuracy"`
	MeanTokensUsed float64 `json:"mean_tokens_used"`
	SampleCount    int     `json:"sample_count"`
}

type accumulator struct {
	correct int
	tokens  int
	count   int
}

// Aggregate computes one Point per budget present in ss, in ascending budget
// order.
//
// A budget with no samples produces no point, so absence is never confused
// with zero accuracy. All trials at a budget are pooled.
func Aggregate(ss []samples.Sample) []Point {
	acc := make(map[int]*accumulator)
	for _, s := range ss {
		a, ok := acc[s.Budget]
		if !ok {
			a = &accumulator{}
			acc[s.Budget] = a
		}
		a.count++
		a.tokens += s.TokensUsed
		if s.Correct {
			a.correct++
		}
	}

	points := make([]Point, 0, len(acc))
	for budget, a := range acc {
		points = append(points, Point{
			Budget:         budget,
			Accuracy:       float64(a.correct) / float64(a.count),
			MeanTokensUsed: float64(a.tokens) / float64(a.count),
			SampleCount:    a.count,
		})
	}
	slices.SortFunc(points, func(x, y Point) int { return x.Budget - y.Budget })
	return points
}

// Lookup returns the point for budget.
func Lookup(points []Point, budget int) (Point, bool) {
	i, found := slices.BinarySearchFunc(points, budget, func(p Point, b int) int { return p.Budget - b })
	if !found {
		return Point{}, false
	}
	return points[i], true
}

// SaturationBudget returns the first budget after which every successive
// accuracy gain is below epsilon in absolute value.
//
// Description:
//
//	Walks the curve from the end. The saturation budget is the earliest
//	point from which all later steps are flat. The last point is never
//	reported on its own: a curve whose final step is still steep has not
//	been observed to saturate.
//
// Inputs:
//
//	points - Curve in ascending budget order.
//	epsilon - Largest accuracy change still counted as flat.
//
// Outputs:
//
//	int - The saturation budget.
//	bool - False when fewer than two points exist or the final step exceeds epsilon.
func SaturationBudget(points []Point, epsilon float64) (int, bool) {
	if len(points) < 2 {
		return 0, false
	}
	start := -1
	for i := len(points) - 1; i > 0; i-- {
		if math.Abs(points[i].Accuracy-points[i-1].Accuracy) >= epsilon {
			break
		}
		start = i - 1
	}
	if start < 0 {
		return 0, false
	}
	return points[start].Budget, true
}
