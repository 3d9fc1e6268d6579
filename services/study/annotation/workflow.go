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
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// Workflow drives export, import and aggregation of annotation tasks.
//
// Thread Safety: Safe for concurrent use. Concurrent imports touching the
// same task are serialized by the store; the loser re-validates against the
// winner's result.
type Workflow struct {
	samples samples.Reader
	tasks   *TaskStore
	logger  *slog.Logger
	now     func() time.Time
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWorkflowLogger sets the logger.
func WithWorkflowLogger(logger *slog.Logger) WorkflowOption {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// WithClock overrides the time source for exported_at and labeled_at.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) {
		w.now = now
	}
}

// NewWorkflow creates a workflow over a sample reader and task store.
func NewWorkflow(sr samples.Reader, ts *TaskStore, opts ...WorkflowOption) (*Workflow, error) {
	if sr == nil {
		return nil, errors.New("sample reader must not be nil")
	}
	if ts == nil {
		return nil, errors.New("task store must not be nil")
	}
	w := &Workflow{samples: sr, tasks: ts, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Tasks returns the tasks for a budget, or all budgets when budget is zero.
func (w *Workflow) Tasks(ctx context.Context, budget int) ([]Task, error) {
	return w.tasks.List(ctx, budget)
}

// -----------------------------------------------------------------------------
// Export
// -----------------------------------------------------------------------------

// ExportResult describes one export call.
type ExportResult struct {
	Budget int `json:"budget"`

	// Available is the number of incorrect samples at the budget.
	Available int `json:"available"`

	// Tasks are every task at the budget in export order, in their current
	// state: the earlier selection followed by the tasks created now.
	Tasks []Task `json:"tasks"`

	// Created counts tasks new in this call.
	Created int `json:"created"`

	// Existing counts tasks that were already present at the budget.
	Existing int `json:"existing"`
}

// Export selects incorrect samples at a budget and creates tasks for them.
//
// Description:
//
//	Tasks already exported at budget count toward sampleCount and stay
//	selected. The remaining quota is filled from the incorrect samples
//	without a task, taken in insertion order and shuffled with a PCG source
//	seeded by (seed, budget). Repeating a call creates nothing once the
//	quota is met, even after new failures are recorded, and never touches
//	existing tasks.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	budget - Budget to sample from. Must be positive.
//	sampleCount - Maximum tasks to select. Must be positive.
//	seed - Selection seed.
//
// Outputs:
//
//	*ExportResult - Selection and creation counts.
//	error - Non-nil on invalid arguments or store failure.
func (w *Workflow) Export(ctx context.Context, budget, sampleCount int, seed uint64) (*ExportResult, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("budget must be positive, got %d", budget)
	}
	if sampleCount <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", sampleCount)
	}

	ctx, span := otel.Tracer("annotation").Start(ctx, "annotation.Workflow.Export",
		trace.WithAttributes(
			attribute.Int("budget", budget),
			attribute.Int("sample_count", sampleCount),
		),
	)
	defer span.End()

	incorrect, err := samples.Collect(ctx, w.samples, samples.Filter{
		Budgets: []int{budget},
		Correct: samples.Ptr(false),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collect samples")
		return nil, fmt.Errorf("export budget %d: %w", budget, err)
	}

	res := &ExportResult{Budget: budget, Available: len(incorrect)}
	now := w.now()
	err = w.tasks.Update(ctx, func(tx *TaskTxn) error {
		existing, err := tx.List(budget)
		if err != nil {
			return err
		}
		res.Tasks = append(res.Tasks[:0], existing...)
		res.Existing, res.Created = len(existing), 0

		taken := make(map[string]struct{}, len(existing))
		nextOrder := 0
		for _, t := range existing {
			taken[t.SampleRef] = struct{}{}
			nextOrder = max(nextOrder, t.Order+1)
		}
		var candidates []samples.Sample
		for _, s := range incorrect {
			if _, ok := taken[s.Ref()]; !ok {
				candidates = append(candidates, s)
			}
		}
		rng := rand.New(rand.NewPCG(seed, uint64(budget)))
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})

		quota := max(sampleCount-len(existing), 0)
		for _, s := range candidates[:min(quota, len(candidates))] {
			task := NewTask(s.Key(), nextOrder, now)
			if err := tx.Put(task); err != nil {
				return err
			}
			nextOrder++
			res.Created++
			res.Tasks = append(res.Tasks, task)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store tasks")
		return nil, fmt.Errorf("export budget %d: %w", budget, err)
	}

	recordExport(ctx, budget, res.Created)
	span.SetAttributes(
		attribute.Int("available", res.Available),
		attribute.Int("created", res.Created),
		attribute.Int("existing", res.Existing),
	)
	w.logger.Info("annotation tasks exported",
		slog.Int("budget", budget),
		slog.Int("available", res.Available),
		slog.Int("created", res.Created),
		slog.Int("existing", res.Existing),
	)
	return res, nil
}

// -----------------------------------------------------------------------------
// Import
// -----------------------------------------------------------------------------

// ImportResult counts what an import did.
type ImportResult struct {
	// Labeled counts tasks that transitioned to labeled.
	Labeled int `json:"labeled"`

	// Updated counts unlabeled tasks whose draft columns changed.
	Updated int `json:"updated"`

	// Unchanged counts rows that matched the stored task.
	Unchanged int `json:"unchanged"`

	// WithoutRecoverable counts labeled transitions that left recoverable
	// unset. They are accepted and reported so the annotator can revisit.
	WithoutRecoverable int `json:"without_recoverable,omitempty"`
}

// ImportLabels applies externally edited rows.
//
// Description:
//
//	Every row is validated before anything is written; one bad row rejects
//	the whole batch and leaves every task as it was. Only the columns a row
//	carries are applied. A row whose error_type is not unlabeled moves its
//	task to labeled. A label may leave recoverable unset; such rows are
//	counted in WithoutRecoverable. Labeled tasks accept only identical rows.
//
// Outputs:
//
//	*ImportResult - Counts. Nil on error.
//	error - Joined errors, each matching one of ErrInvalidLabel,
//	        ErrUnknownTask, ErrTaskLabeled or ErrInvalidSampleRef and naming
//	        the row's sample_ref.
func (w *Workflow) ImportLabels(ctx context.Context, rows []Row) (*ImportResult, error) {
	ctx, span := otel.Tracer("annotation").Start(ctx, "annotation.Workflow.ImportLabels",
		trace.WithAttributes(attribute.Int("rows", len(rows))),
	)
	defer span.End()

	var res ImportResult
	now := w.now().UTC()
	err := w.tasks.Update(ctx, func(tx *TaskTxn) error {
		res = ImportResult{}
		staged := make(map[string]Task)
		var problems []error

		for _, row := range rows {
			if _, err := ParseSampleRef(row.SampleRef); err != nil {
				problems = append(problems, err)
				continue
			}

			current, ok := staged[row.SampleRef]
			if !ok {
				var found bool
				var err error
				current, found, err = tx.Get(row.SampleRef)
				if err != nil {
					return err
				}
				if !found {
					problems = append(problems, fmt.Errorf("%w: %s", ErrUnknownTask, row.SampleRef))
					continue
				}
			}

			next, outcome, err := applyRow(current, row, now)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			switch outcome {
			case outcomeLabeled:
				res.Labeled++
				if next.Recoverable == RecoverableUnset {
					res.WithoutRecoverable++
				}
			case outcomeUpdated:
				res.Updated++
			default:
				res.Unchanged++
			}
			staged[row.SampleRef] = next
		}

		if len(problems) > 0 {
			return errors.Join(problems...)
		}
		for _, task := range staged {
			if err := tx.Put(task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		recordImport(ctx, "rejected", len(rows))
		span.RecordError(err)
		span.SetStatus(codes.Error, "import rejected")
		return nil, fmt.Errorf("import labels: %w", err)
	}

	recordImport(ctx, "labeled", res.Labeled)
	recordImport(ctx, "updated", res.Updated)
	recordImport(ctx, "unchanged", res.Unchanged)
	span.SetAttributes(
		attribute.Int("labeled", res.Labeled),
		attribute.Int("updated", res.Updated),
		attribute.Int("unchanged", res.Unchanged),
	)
	w.logger.Info("annotation labels imported",
		slog.Int("labeled", res.Labeled),
		slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged),
	)
	if res.WithoutRecoverable > 0 {
		w.logger.Warn("labels imported without a recoverable judgement",
			slog.Int("count", res.WithoutRecoverable),
		)
	}
	return &res, nil
}

type rowOutcome int

const (
	outcomeUnchanged rowOutcome = iota
	outcomeUpdated
	outcomeLabeled
)

// applyRow merges the row's present columns into current.
func applyRow(current Task, row Row, now time.Time) (Task, rowOutcome, error) {
	next := current

	if row.Has(ColumnErrorType) {
		et, ok := ParseErrorType(row.ErrorType)
		if !ok {
			return current, 0, &InvalidLabelError{
				SampleRef: row.SampleRef,
				Field:     "error_type",
				Value:     row.ErrorType,
				Reason:    "want one of " + joinValues(ErrorTypes) + " or unlabeled",
			}
		}
		next.ErrorType = et
	}
	if row.Has(ColumnRecoverable) {
		rec, ok := ParseRecoverable(row.Recoverable)
		if !ok {
			return current, 0, &InvalidLabelError{
				SampleRef: row.SampleRef,
				Field:     "recoverable",
				Value:     row.Recoverable,
				Reason:    "want one of " + joinValues([]Recoverable{RecoverableYes, RecoverableNo, RecoverableUnknown, RecoverableUnset}),
			}
		}
		next.Recoverable = rec
	}
	if row.Has(ColumnErrorLocation) {
		next.ErrorLocation = row.ErrorLocation
	}
	if row.Has(ColumnNotes) {
		next.Notes = row.Notes
	}

	if current.State == StateLabeled {
		if next.sameLabel(current) {
			return current, outcomeUnchanged, nil
		}
		return current, 0, fmt.Errorf("%w: %s", ErrTaskLabeled, row.SampleRef)
	}

	if next.ErrorType != ErrorUnlabeled {
		next.State = StateLabeled
		labeledAt := now
		next.LabeledAt = &labeledAt
		return next, outcomeLabeled, nil
	}

	if next.sameLabel(current) {
		return current, outcomeUnchanged, nil
	}
	return next, outcomeUpdated, nil
}

func joinValues[T ~string](vs []T) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
