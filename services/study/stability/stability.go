// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stability certifies that a per-budget accuracy is not noise.
//
// # Variance Axis
//
// Variance is measured across repeated whole-dataset passes. Trial index t at
// a budget is one pass; its accuracy is the mean of correct over that pass's
// samples. StdDevAccuracy is the sample standard deviation (n-1) of the pass
// accuracies and TrialCount is the number of passes. A budget observed with a
// single pass cannot be certified and is reported as insufficient_data.
//
// Only complete passes count. A pass is complete when it covers as many
// distinct problems as the widest pass at its budget; anything narrower, such
// as the tail of an interrupted sweep, is listed in PartialPasses and left out
// of the mean, the deviation and TrialCount.
//
// ProblemStdDev is the population standard deviation of per-problem success
// rates across all trials. It is reported alongside for context and never
// influences the verdict.
package stability

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrUnstable is returned by Gate when any budget is not certified stable.
var ErrUnstable = errors.New("accuracy not stable")

// DefaultThreshold is one percentage point of accuracy.
const DefaultThreshold = 0.01

// Verdict is the outcome for one budget.
type Verdict string

const (
	VerdictStable           Verdict = "stable"
	VerdictUnstable         Verdict = "unstable"
	VerdictInsufficientData Verdict = "insufficient_data"
)

// Report is the stability result for one budget.
//
// Undefined statistics are NaN in Go and null in JSON; they are never zero.
type Report struct {
	Budget           int       `json:"budget"`
	MeanAccuracy     float64   `json:"mean_accuracy"`
	StdDevAccuracy   float64   `json:"std_dev_accuracy"`
	TrialCount       int       `json:"trial_count"`
	PassAccuracies   []float64 `json:"pass_accuracies"`
	PartialPasses    []int     `json:"partial_passes,omitempty"`
	ProblemCount     int       `json:"problem_count"`
	ProblemStdDev    float64   `json:"problem_std_dev"`
	InsufficientData bool      `json:"insufficient_data"`
	Threshold        float64   `json:"threshold"`
	Verdict          Verdict   `json:"verdict"`
}

// MarshalJSON encodes NaN statistics as null.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(struct {
		plain
		StdDevAccuracy *float64 `json:"std_dev_accuracy"`
		ProblemStdDev  *float64 `json:"problem_std_dev"`
	}{
		plain:          plain(r),
		StdDevAccuracy: finiteOrNil(r.StdDevAccuracy),
		ProblemStdDev:  finiteOrNil(r.ProblemStdDev),
	})
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Config holds verifier settings.
type Config struct {
	// Threshold is the std dev below which a budget is stable.
	Threshold float64

	// Logger receives one line per unstable or insufficient budget.
	Logger *slog.Logger
}

// Option configures Verify.
type Option func(*Config)

// WithThreshold sets the stability threshold.
func WithThreshold(threshold float64) Option {
	return func(c *Config) {
		if threshold > 0 {
			c.Threshold = threshold
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

type pass struct {
	correct  int
	count    int
	problems map[string]struct{}
}

type problemTally struct {
	correct int
	count   int
}

// Verify computes a stability report per budget, ascending.
//
// Description:
//
//	Groups samples by budget, then by trial index (one pass per index), and
//	by problem for the context spread. Passes narrower than the widest pass
//	at their budget are reported as partial and excluded. Budgets with no
//	samples produce no report.
//
// Inputs:
//
//	ss - Samples across any number of budgets and trials.
//	opts - Threshold and logger.
//
// Outputs:
//
//	[]Report - One per budget present in ss.
func Verify(ss []samples.Sample, opts ...Option) []Report {
	cfg := Config{Threshold: DefaultThreshold, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	passes := make(map[int]map[int]*pass)
	problems := make(map[int]map[string]*problemTally)
	for _, s := range ss {
		if passes[s.Budget] == nil {
			passes[s.Budget] = make(map[int]*pass)
			problems[s.Budget] = make(map[string]*problemTally)
		}
		p := passes[s.Budget][s.TrialIndex]
		if p == nil {
			p = &pass{problems: make(map[string]struct{})}
			passes[s.Budget][s.TrialIndex] = p
		}
		pt := problems[s.Budget][s.ProblemID]
		if pt == nil {
			pt = &problemTally{}
			problems[s.Budget][s.ProblemID] = pt
		}
		p.count++
		p.problems[s.ProblemID] = struct{}{}
		pt.count++
		if s.Correct {
			p.correct++
			pt.correct++
		}
	}

	budgets := make([]int, 0, len(passes))
	for b := range passes {
		budgets = append(budgets, b)
	}
	slices.Sort(budgets)

	reports := make([]Report, 0, len(budgets))
	for _, b := range budgets {
		trials := make([]int, 0, len(passes[b]))
		for t := range passes[b] {
			trials = append(trials, t)
		}
		slices.Sort(trials)

		widest := 0
		for _, p := range passes[b] {
			widest = max(widest, len(p.problems))
		}
		accs := make([]float64, 0, len(trials))
		var partial []int
		for _, t := range trials {
			p := passes[b][t]
			if len(p.problems) < widest {
				partial = append(partial, t)
				continue
			}
			accs = append(accs, float64(p.correct)/float64(p.count))
		}

		rates := make([]float64, 0, len(problems[b]))
		for _, pt := range problems[b] {
			rates = append(rates, float64(pt.correct)/float64(pt.count))
		}

		r := Report{
			Budget:         b,
			MeanAccuracy:   mean(accs),
			StdDevAccuracy: sampleStdDev(accs),
			TrialCount:     len(accs),
			PassAccuracies: accs,
			PartialPasses:  partial,
			ProblemCount:   len(rates),
			ProblemStdDev:  populationStdDev(rates),
			Threshold:      cfg.Threshold,
		}
		switch {
		case r.TrialCount < 2:
			r.InsufficientData = true
			r.Verdict = VerdictInsufficientData
		case r.StdDevAccuracy < cfg.Threshold:
			r.Verdict = VerdictStable
		default:
			r.Verdict = VerdictUnstable
		}

		if len(partial) > 0 {
			cfg.Logger.Warn("partial passes excluded",
				slog.Int("budget", b),
				slog.Any("trials", partial),
				slog.Int("problems_per_pass", widest),
			)
		}
		if r.Verdict != VerdictStable {
			cfg.Logger.Info("budget not certified stable",
				slog.Int("budget", b),
				slog.String("verdict", string(r.Verdict)),
				slog.Int("trial_count", r.TrialCount),
				slog.Float64("std_dev_accuracy", r.StdDevAccuracy),
			)
		}
		reports = append(reports, r)
	}
	return reports
}

// Gate fails when any report is not stable.
//
// Outputs:
//
//	error - Nil when every budget is stable. Otherwise wraps ErrUnstable and
//	        names each offending budget with its verdict.
func Gate(reports []Report) error {
	var bad []string
	for _, r := range reports {
		if r.Verdict != VerdictStable {
			bad = append(bad, fmt.Sprintf("budget %d (%s)", r.Budget, r.Verdict))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnstable, strings.Join(bad, ", "))
}

// -----------------------------------------------------------------------------
// Statistics
// -----------------------------------------------------------------------------

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sumSquares(xs []float64) float64 {
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss
}

// sampleStdDev uses n-1. Undefined below two values.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	return math.Sqrt(sumSquares(xs) / float64(len(xs)-1))
}

// populationStdDev uses n. Undefined below two values.
func populationStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	return math.Sqrt(sumSquares(xs) / float64(len(xs)))
}
