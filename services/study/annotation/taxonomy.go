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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BudgetTaxonomy is the error distribution at one budget.
//
// Fractions are over labeled tasks only. When nothing is labeled yet the
// fractions are absent rather than zero.
type BudgetTaxonomy struct {
	Budget    int `json:"budget"`
	Exported  int `json:"exported"`
	Labeled   int `json:"labeled"`
	Unlabeled int `json:"unlabeled"`

	Counts    map[ErrorType]int     `json:"counts"`
	Fractions map[ErrorType]float64 `json:"fractions,omitempty"`

	RecoverableCounts      map[Recoverable]int `json:"recoverable_counts"`
	NotRecoverableFraction *float64            `json:"not_recoverable_fraction"`

	// Partial is true while any exported task is unlabeled.
	Partial bool   `json:"partial"`
	Warning string `json:"warning,omitempty"`
}

// Coverage is the labeled fraction of exported tasks.
func (b BudgetTaxonomy) Coverage() float64 {
	if b.Exported == 0 {
		return 0
	}
	return float64(b.Labeled) / float64(b.Exported)
}

// Taxonomy is the aggregated error distribution across budgets.
type Taxonomy struct {
	Budgets  []BudgetTaxonomy `json:"budgets"`
	Partial  bool             `json:"partial"`
	Warnings []string         `json:"warnings,omitempty"`
}

type aggregateConfig struct {
	strict  bool
	budgets []int
}

// AggregateOption configures Aggregate.
type AggregateOption func(*aggregateConfig)

// WithStrict makes incomplete budgets an error instead of a warning.
func WithStrict() AggregateOption {
	return func(c *aggregateConfig) {
		c.strict = true
	}
}

// WithBudgets restricts aggregation to the listed budgets.
func WithBudgets(budgets ...int) AggregateOption {
	return func(c *aggregateConfig) {
		c.budgets = append(c.budgets, budgets...)
	}
}

// Aggregate computes the per-budget error taxonomy.
//
// Description:
//
//	Counts each error_type over labeled tasks and the share marked
//	recoverable=no. A budget with unlabeled tasks is flagged Partial with a
//	coverage warning so an incomplete set is never mistaken for a full
//	taxonomy. Under WithStrict the same condition fails with
//	ErrIncompleteAnnotation naming each such budget.
//
// Outputs:
//
//	*Taxonomy - Budgets in ascending order.
//	error - ErrIncompleteAnnotation in strict mode, or a store error.
func (w *Workflow) Aggregate(ctx context.Context, opts ...AggregateOption) (*Taxonomy, error) {
	var cfg aggregateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := otel.Tracer("annotation").Start(ctx, "annotation.Workflow.Aggregate",
		trace.WithAttributes(attribute.Bool("strict", cfg.strict)),
	)
	defer span.End()

	tasks, err := w.tasks.List(ctx, 0)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	byBudget := make(map[int]*BudgetTaxonomy)
	for _, t := range tasks {
		if len(cfg.budgets) > 0 && !slices.Contains(cfg.budgets, t.Budget) {
			continue
		}
		bt := byBudget[t.Budget]
		if bt == nil {
			bt = &BudgetTaxonomy{
				Budget:            t.Budget,
				Counts:            make(map[ErrorType]int),
				RecoverableCounts: make(map[Recoverable]int),
			}
			byBudget[t.Budget] = bt
		}
		bt.Exported++
		if t.State != StateLabeled {
			bt.Unlabeled++
			continue
		}
		bt.Labeled++
		bt.Counts[t.ErrorType]++
		bt.RecoverableCounts[t.Recoverable]++
	}

	tax := &Taxonomy{}
	var incomplete []error
	budgets := make([]int, 0, len(byBudget))
	for b := range byBudget {
		budgets = append(budgets, b)
	}
	slices.Sort(budgets)

	for _, b := range budgets {
		bt := byBudget[b]
		if bt.Labeled > 0 {
			bt.Fractions = make(map[ErrorType]float64, len(bt.Counts))
			for et, n := range bt.Counts {
				bt.Fractions[et] = float64(n) / float64(bt.Labeled)
			}
			frac := float64(bt.RecoverableCounts[RecoverableNo]) / float64(bt.Labeled)
			bt.NotRecoverableFraction = &frac
		}
		if bt.Unlabeled > 0 {
			bt.Partial = true
			bt.Warning = fmt.Sprintf("budget %d: %d of %d tasks unlabeled (coverage %.0f%%); taxonomy is partial",
				b, bt.Unlabeled, bt.Exported, 100*bt.Coverage())
			tax.Partial = true
			tax.Warnings = append(tax.Warnings, bt.Warning)
			incomplete = append(incomplete, fmt.Errorf("%w: budget %d has %d of %d tasks unlabeled",
				ErrIncompleteAnnotation, b, bt.Unlabeled, bt.Exported))
		}
		tax.Budgets = append(tax.Budgets, *bt)
	}

	span.SetAttributes(
		attribute.Int("budgets", len(tax.Budgets)),
		attribute.Bool("partial", tax.Partial),
	)

	if tax.Partial {
		if cfg.strict {
			err := errors.Join(incomplete...)
			span.SetStatus(codes.Error, "incomplete annotation")
			return nil, err
		}
		for _, warning := range tax.Warnings {
			w.logger.Warn("partial annotation coverage", slog.String("warning", warning))
		}
	}
	return tax, nil
}
