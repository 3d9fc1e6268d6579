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
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
	studydb "github.com/AleutianAI/budgetcliff/services/study/storage/badger"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	samples  *samples.Store
	tasks    *TaskStore
	workflow *Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := studydb.OpenInMemory()
	require.NoError(t, err)
	ss, err := samples.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ss.Close()
		_ = db.Close()
	})

	ts := NewTaskStore(db)
	wf, err := NewWorkflow(ss, ts, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return &fixture{samples: ss, tasks: ts, workflow: wf}
}

// seed records n incorrect and n correct samples at budget.
func (f *fixture) seed(t *testing.T, budget, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		wrong := "7"
		require.NoError(t, f.samples.Record(ctx, samples.Sample{
			ProblemID: fmt.Sprintf("gsm8k:%d", i), Budget: budget, GeneratedText: "x",
			ExtractedAnswer: &wrong, GroundTruth: "8", Correct: false, TokensUsed: budget,
		}))
		require.NoError(t, f.samples.Record(ctx, samples.Sample{
			ProblemID: fmt.Sprintf("ok:%d", i), Budget: budget, GroundTruth: "8",
			Correct: true, TokensUsed: budget / 2,
		}))
	}
}

func refs(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.SampleRef
	}
	return out
}

func TestExport_SelectsIncorrectOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 128, 10)
	f.seed(t, 256, 3)

	res, err := f.workflow.Export(context.Background(), 128, 4, 42)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Available)
	assert.Equal(t, 4, res.Created)
	assert.Zero(t, res.Existing)
	require.Len(t, res.Tasks, 4)
	for _, task := range res.Tasks {
		assert.True(t, strings.HasPrefix(task.SampleRef, "gsm8k:"), task.SampleRef)
		assert.Equal(t, 128, task.Budget)
		assert.Equal(t, StateUnlabeled, task.State)
		assert.Equal(t, ErrorUnlabeled, task.ErrorType)
		assert.Equal(t, RecoverableUnset, task.Recoverable)
		assert.Equal(t, fixedNow, task.ExportedAt)
	}
}

func TestExport_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 128, 10)
	ctx := context.Background()

	first, err := f.workflow.Export(ctx, 128, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Created)

	second, err := f.workflow.Export(ctx, 128, 5, 42)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 5, second.Existing)
	assert.Equal(t, refs(first.Tasks), refs(second.Tasks))

	all, err := f.workflow.Tasks(ctx, 128)
	require.NoError(t, err)
	assert.Equal(t, refs(first.Tasks), refs(all))
}

func TestExport_NewFailureKeepsSelection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 128, 20)
	ctx := context.Background()

	first, err := f.workflow.Export(ctx, 128, 5, 42)
	require.NoError(t, err)
	require.Equal(t, 5, first.Created)

	wrong := "9"
	require.NoError(t, f.samples.Record(ctx, samples.Sample{
		ProblemID: "gsm8k:late", Budget: 128, GeneratedText: "x",
		ExtractedAnswer: &wrong, GroundTruth: "8", TokensUsed: 64,
	}))

	second, err := f.workflow.Export(ctx, 128, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, 21, second.Available)
	assert.Zero(t, second.Created)
	assert.Equal(t, 5, second.Existing)
	assert.Equal(t, refs(first.Tasks), refs(second.Tasks))

	all, err := f.workflow.Tasks(ctx, 128)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	// A larger quota only tops up; the earlier picks stay first.
	third, err := f.workflow.Export(ctx, 128, 8, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, third.Created)
	require.Len(t, third.Tasks, 8)
	assert.Equal(t, refs(first.Tasks), refs(third.Tasks[:5]))
	for i, task := range third.Tasks {
		assert.Equal(t, i, task.Order)
	}
}

func TestExport_Reproducible(t *testing.T) {
	a, b := newFixture(t), newFixture(t)
	a.seed(t, 512, 30)
	b.seed(t, 512, 30)

	ra, err := a.workflow.Export(context.Background(), 512, 10, 42)
	require.NoError(t, err)
	rb, err := b.workflow.Export(context.Background(), 512, 10, 42)
	require.NoError(t, err)
	assert.Equal(t, refs(ra.Tasks), refs(rb.Tasks))
}

func TestExport_FewerThanRequested(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 128, 2)

	res, err := f.workflow.Export(context.Background(), 128, 30, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	res, err = f.workflow.Export(context.Background(), 1024, 30, 42)
	require.NoError(t, err)
	assert.Zero(t, res.Available)
	assert.Empty(t, res.Tasks)
}

func TestExport_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflow.Export(context.Background(), 0, 5, 42)
	require.Error(t, err)
	_, err = f.workflow.Export(context.Background(), 128, 0, 42)
	require.Error(t, err)
}

func exportOne(t *testing.T, f *fixture) Task {
	t.Helper()
	f.seed(t, 128, 3)
	res, err := f.workflow.Export(context.Background(), 128, 3, 42)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 3)
	return res.Tasks[0]
}

func TestImportLabels_BogusErrorType(t *testing.T) {
	f := newFixture(t)
	task := exportOne(t, f)
	ctx := context.Background()

	_, err := f.workflow.ImportLabels(ctx, []Row{{
		SampleRef: task.SampleRef, ErrorType: "bogus", Recoverable: "yes", Present: AllColumns,
	}})
	require.ErrorIs(t, err, ErrInvalidLabel)

	var ile *InvalidLabelError
	require.True(t, errors.As(err, &ile))
	assert.Equal(t, "error_type", ile.Field)
	assert.Equal(t, "bogus", ile.Value)
	assert.Equal(t, task.SampleRef, ile.SampleRef)

	got, found, err := f.tasks.Get(ctx, task.SampleRef)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateUnlabeled, got.State)
	assert.Equal(t, task, got)
}

func TestImportLabels_Validation(t *testing.T) {
	tests := []struct {
		name string
		row  func(ref string) Row
		want error
	}{
		{"bogus recoverable", func(ref string) Row {
			return Row{SampleRef: ref, ErrorType: "logic", Recoverable: "maybe", Present: AllColumns}
		}, ErrInvalidLabel},
		{"padded error type", func(ref string) Row {
			return Row{SampleRef: ref, ErrorType: " arithmetic ", Recoverable: "yes", Present: AllColumns}
		}, ErrInvalidLabel},
		{"capitalized error type", func(ref string) Row {
			return Row{SampleRef: ref, ErrorType: "Arithmetic", Recoverable: "yes", Present: AllColumns}
		}, ErrInvalidLabel},
		{"upper case recoverable", func(ref string) Row {
			return Row{SampleRef: ref, ErrorType: "logic", Recoverable: "YES", Present: AllColumns}
		}, ErrInvalidLabel},
		{"unknown task", func(string) Row {
			return Row{SampleRef: "nope:128:0", ErrorType: "logic", Recoverable: "no", Present: AllColumns}
		}, ErrUnknownTask},
		{"malformed ref", func(string) Row {
			return Row{SampleRef: "nope", Present: AllColumns}
		}, ErrInvalidSampleRef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			task := exportOne(t, f)
			_, err := f.workflow.ImportLabels(context.Background(), []Row{tt.row(task.SampleRef)})
			require.ErrorIs(t, err, tt.want)

			got, _, err := f.tasks.Get(context.Background(), task.SampleRef)
			require.NoError(t, err)
			assert.Equal(t, task, got)
		})
	}
}

func TestImportLabels_WithoutRecoverable(t *testing.T) {
	tests := []struct {
		name string
		row  func(ref string) Row
	}{
		{"recoverable column absent", func(ref string) Row {
			return Row{SampleRef: ref, ErrorType: "logic", Present: ColumnErrorType}
		}},
		{"blank recoverable", func(ref string) Row {
			return Row{SampleRef: ref, ErrorType: "logic", Recoverable: "", Present: AllColumns}
		}},
		{"explicit unset recoverable", func(ref string) Row {
			return Row{SampleRef: ref, ErrorType: "logic", Recoverable: "unset", Present: AllColumns}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			task := exportOne(t, f)
			ctx := context.Background()

			res, err := f.workflow.ImportLabels(ctx, []Row{tt.row(task.SampleRef)})
			require.NoError(t, err)
			assert.Equal(t, &ImportResult{Labeled: 1, WithoutRecoverable: 1}, res)

			got, _, err := f.tasks.Get(ctx, task.SampleRef)
			require.NoError(t, err)
			assert.Equal(t, StateLabeled, got.State)
			assert.Equal(t, ErrorLogic, got.ErrorType)
			assert.Equal(t, RecoverableUnset, got.Recoverable)
		})
	}
}

func TestImportLabels_BatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 128, 3)
	ctx := context.Background()
	res, err := f.workflow.Export(ctx, 128, 3, 42)
	require.NoError(t, err)

	good := Row{SampleRef: res.Tasks[0].SampleRef, ErrorType: "arithmetic", Recoverable: "yes", Present: AllColumns}
	bad := Row{SampleRef: res.Tasks[1].SampleRef, ErrorType: "bogus", Present: AllColumns}
	missing := Row{SampleRef: "ghost:128:0", ErrorType: "logic", Recoverable: "no", Present: AllColumns}

	_, err = f.workflow.ImportLabels(ctx, []Row{good, bad, missing})
	require.ErrorIs(t, err, ErrInvalidLabel)
	require.ErrorIs(t, err, ErrUnknownTask)

	after, err := f.workflow.Tasks(ctx, 128)
	require.NoError(t, err)
	for _, task := range after {
		assert.Equal(t, StateUnlabeled, task.State, task.SampleRef)
	}
}

func TestImportLabels_Lifecycle(t *testing.T) {
	f := newFixture(t)
	task := exportOne(t, f)
	ctx := context.Background()
	ref := task.SampleRef

	// Draft edits keep the task unlabeled.
	res, err := f.workflow.ImportLabels(ctx, []Row{{SampleRef: ref, Notes: "looks like a units slip", Present: ColumnNotes}})
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Updated: 1}, res)
	got, _, _ := f.tasks.Get(ctx, ref)
	assert.Equal(t, StateUnlabeled, got.State)
	assert.Equal(t, "looks like a units slip", got.Notes)

	// Labeling transitions to labeled and keeps the draft notes.
	res, err = f.workflow.ImportLabels(ctx, []Row{{
		SampleRef: ref, ErrorType: "arithmetic", Recoverable: "yes", ErrorLocation: "step 3",
		Present: ColumnErrorType | ColumnRecoverable | ColumnErrorLocation,
	}})
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Labeled: 1}, res)
	got, _, _ = f.tasks.Get(ctx, ref)
	assert.Equal(t, StateLabeled, got.State)
	assert.Equal(t, ErrorArithmetic, got.ErrorType)
	assert.Equal(t, RecoverableYes, got.Recoverable)
	assert.Equal(t, "step 3", got.ErrorLocation)
	assert.Equal(t, "looks like a units slip", got.Notes)
	require.NotNil(t, got.LabeledAt)
	assert.Equal(t, fixedNow, *got.LabeledAt)

	// Identical re-import is a no-op.
	res, err = f.workflow.ImportLabels(ctx, []Row{RowFromTask(got)})
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Unchanged: 1}, res)

	// Any change to a labeled task is refused.
	edited := RowFromTask(got)
	edited.ErrorType = "logic"
	_, err = f.workflow.ImportLabels(ctx, []Row{edited})
	require.ErrorIs(t, err, ErrTaskLabeled)
	assert.Contains(t, err.Error(), ref)

	again, _, _ := f.tasks.Get(ctx, ref)
	assert.Equal(t, got, again)

	// Re-export leaves the labeled task alone.
	exp, err := f.workflow.Export(ctx, 128, 3, 42)
	require.NoError(t, err)
	assert.Zero(t, exp.Created)
	final, _, _ := f.tasks.Get(ctx, ref)
	assert.Equal(t, got, final)
}

func TestImportLabels_TSVRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 256, 4)
	ctx := context.Background()
	res, err := f.workflow.Export(ctx, 256, 4, 7)
	require.NoError(t, err)

	before, err := f.workflow.Tasks(ctx, 256)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTSV(&buf, before, nil))

	target := res.Tasks[2].SampleRef
	original := target + "\tunlabeled\t\tunset\t\n"
	require.Contains(t, buf.String(), original)
	edited := strings.Replace(buf.String(), original, target+"\tsetup\tfirst line\tno\tmisread rate\n", 1)

	rows, err := ReadTSV(strings.NewReader(edited))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	imp, err := f.workflow.ImportLabels(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Labeled: 1, Unchanged: 3}, imp)

	after, err := f.workflow.Tasks(ctx, 256)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		if before[i].SampleRef == target {
			assert.Equal(t, ErrorSetup, after[i].ErrorType)
			assert.Equal(t, "first line", after[i].ErrorLocation)
			assert.Equal(t, RecoverableNo, after[i].Recoverable)
			assert.Equal(t, "misread rate", after[i].Notes)
			assert.Equal(t, StateLabeled, after[i].State)
			assert.Equal(t, before[i].ExportedAt, after[i].ExportedAt)
			continue
		}
		assert.Equal(t, before[i], after[i], "untouched task %s changed", before[i].SampleRef)
	}
}

func TestAggregate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 128, 4)
	f.seed(t, 256, 2)
	ctx := context.Background()

	r128, err := f.workflow.Export(ctx, 128, 4, 42)
	require.NoError(t, err)
	r256, err := f.workflow.Export(ctx, 256, 2, 42)
	require.NoError(t, err)

	label := func(ref, et, rec string) Row {
		return Row{SampleRef: ref, ErrorType: et, Recoverable: rec, Present: ColumnErrorType | ColumnRecoverable}
	}
	_, err = f.workflow.ImportLabels(ctx, []Row{
		label(r128.Tasks[0].SampleRef, "arithmetic", "yes"),
		label(r128.Tasks[1].SampleRef, "logic", "no"),
		label(r128.Tasks[2].SampleRef, "logic", "no"),
		label(r128.Tasks[3].SampleRef, "incomplete", "unknown"),
		label(r256.Tasks[0].SampleRef, "setup", "no"),
	})
	require.NoError(t, err)

	t.Run("partial warns", func(t *testing.T) {
		tax, err := f.workflow.Aggregate(ctx)
		require.NoError(t, err)
		assert.True(t, tax.Partial)
		require.Len(t, tax.Budgets, 2)
		require.Len(t, tax.Warnings, 1)
		assert.Contains(t, tax.Warnings[0], "budget 256")

		b128 := tax.Budgets[0]
		assert.Equal(t, 128, b128.Budget)
		assert.False(t, b128.Partial)
		assert.Equal(t, 4, b128.Labeled)
		assert.Equal(t, 2, b128.Counts[ErrorLogic])
		assert.InDelta(t, 0.5, b128.Fractions[ErrorLogic], 1e-12)
		assert.InDelta(t, 0.25, b128.Fractions[ErrorArithmetic], 1e-12)
		require.NotNil(t, b128.NotRecoverableFraction)
		assert.InDelta(t, 0.5, *b128.NotRecoverableFraction, 1e-12)
		assert.Equal(t, 1.0, b128.Coverage())

		b256 := tax.Budgets[1]
		assert.True(t, b256.Partial)
		assert.Equal(t, 1, b256.Unlabeled)
		assert.InDelta(t, 1.0, *b256.NotRecoverableFraction, 1e-12)
	})

	t.Run("strict fails naming budget", func(t *testing.T) {
		_, err := f.workflow.Aggregate(ctx, WithStrict())
		require.ErrorIs(t, err, ErrIncompleteAnnotation)
		assert.Contains(t, err.Error(), "budget 256")
	})

	t.Run("strict passes for complete budgets", func(t *testing.T) {
		tax, err := f.workflow.Aggregate(ctx, WithStrict(), WithBudgets(128))
		require.NoError(t, err)
		assert.False(t, tax.Partial)
		require.Len(t, tax.Budgets, 1)
	})
}

func TestAggregate_NothingLabeled(t *testing.T) {
	f := newFixture(t)
	exportOne(t, f)

	tax, err := f.workflow.Aggregate(context.Background())
	require.NoError(t, err)
	require.Len(t, tax.Budgets, 1)
	assert.Nil(t, tax.Budgets[0].NotRecoverableFraction)
	assert.Nil(t, tax.Budgets[0].Fractions)
	assert.True(t, tax.Partial)
}
