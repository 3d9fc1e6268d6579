// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sweep

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/budgetcliff/services/llm"
	"github.com/AleutianAI/budgetcliff/services/study/dataset"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
	studydb "github.com/AleutianAI/budgetcliff/services/study/storage/badger"
)

var problems = []dataset.Problem{
	{ID: "a", Question: "q-a", GroundTruth: "1"},
	{ID: "b", Question: "q-b", GroundTruth: "2"},
	{ID: "c", Question: "q-c", GroundTruth: "3"},
}

var fastRetry = RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}

func newTestStore(t *testing.T) *samples.Store {
	t.Helper()
	db, err := studydb.OpenInMemory()
	require.NoError(t, err)
	store, err := samples.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})
	return store
}

// scripted answers a correctly, b wrongly and c without a number.
func scripted(calls *atomic.Int32) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, prompt string, maxTokens int) (llm.Generation, error) {
		calls.Add(1)
		text := "I am not sure."
		switch {
		case strings.Contains(prompt, "q-a"):
			text = "So 1.\n#### 1"
		case strings.Contains(prompt, "q-b"):
			text = "So 5.\n#### 5"
		}
		return llm.Generation{Text: text, TokensUsed: maxTokens / 2}, nil
	})
}

func TestRun_RecordsAndResumes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	var calls atomic.Int32

	r, err := NewRunner(scripted(&calls), store, WithConcurrency(4), WithRateLimit(1000, 10))
	require.NoError(t, err)

	plan := Plan{Name: "main", Budgets: []int{32, 64}, Trials: 1}
	sum, err := r.Run(ctx, problems, plan)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, "main", sum.Plan)
	assert.Equal(t, 6, sum.Planned)
	assert.Equal(t, 6, sum.Recorded)
	assert.Equal(t, 2, sum.Correct)
	assert.Zero(t, sum.Failed)
	assert.EqualValues(t, 6, calls.Load())

	got, err := samples.Collect(ctx, store, samples.Filter{ProblemID: "c", Budgets: []int{32}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ExtractedAnswer)
	assert.False(t, got[0].Correct)
	assert.Equal(t, 16, got[0].TokensUsed)

	again, err := r.Run(ctx, problems, plan)
	require.NoError(t, err)
	assert.Equal(t, 6, again.Skipped)
	assert.Zero(t, again.Recorded)
	assert.EqualValues(t, 6, calls.Load(), "resumed run must not call the backend")
	assert.NotEqual(t, sum.RunID, again.RunID)

	stochastic := Plan{Name: "stochastic", Budgets: []int{64}, Trials: 3}
	st, err := r.Run(ctx, problems, stochastic)
	require.NoError(t, err)
	assert.Equal(t, 9, st.Planned)
	assert.Equal(t, 3, st.Skipped, "trial 0 comes from the main pass")
	assert.Equal(t, 6, st.Recorded)
}

func TestRun_TokensOverBudgetFail(t *testing.T) {
	store := newTestStore(t)
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string, maxTokens int) (llm.Generation, error) {
		return llm.Generation{Text: "#### 1", TokensUsed: maxTokens + 1}, nil
	})
	r, err := NewRunner(gen, store)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), problems, Plan{Name: "main", Budgets: []int{32}, Trials: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Failed)
	assert.Zero(t, sum.Recorded)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_Retries(t *testing.T) {
	tests := []struct {
		name      string
		retryable bool
		wantCalls int32
		wantRec   int
		wantFail  int
	}{
		{"retryable recovers", true, 2, 1, 0},
		{"permanent fails once", false, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			gen := llm.GeneratorFunc(func(ctx context.Context, prompt string, maxTokens int) (llm.Generation, error) {
				if calls.Add(1) == 1 {
					return llm.Generation{}, &llm.GenerationError{Backend: "fake", Model: "m", Retryable: tt.retryable, Err: errors.New("busy")}
				}
				return llm.Generation{Text: "#### 1", TokensUsed: 4}, nil
			})
			r, err := NewRunner(gen, newTestStore(t), WithRetry(fastRetry))
			require.NoError(t, err)

			sum, err := r.Run(context.Background(), problems[:1], Plan{Name: "main", Budgets: []int{32}, Trials: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, tt.wantRec, sum.Recorded)
			assert.Equal(t, tt.wantFail, sum.Failed)
		})
	}
}

// racingStore never reports a key as present, so every second write races
// into the duplicate check.
type racingStore struct {
	*samples.Store
}

func (racingStore) Has(context.Context, string, int, int) (bool, error) { return false, nil }

func TestRun_DuplicatesAreCounted(t *testing.T) {
	var calls atomic.Int32
	store := racingStore{newTestStore(t)}
	r, err := NewRunner(scripted(&calls), store, WithConcurrency(3))
	require.NoError(t, err)

	plan := Plan{Name: "main", Budgets: []int{32}, Trials: 1}
	_, err = r.Run(context.Background(), problems, plan)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), problems, plan)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Duplicates)
	assert.Zero(t, sum.Recorded)
}

type failingStore struct{}

func (failingStore) Has(context.Context, string, int, int) (bool, error) { return false, nil }
func (failingStore) Record(context.Context, samples.Sample) error       { return errors.New("disk full") }

func TestRun_StoreFailureStops(t *testing.T) {
	var calls atomic.Int32
	r, err := NewRunner(scripted(&calls), failingStore{})
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), problems, Plan{Name: "main", Budgets: []int{32}, Trials: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, sum)
	assert.Zero(t, sum.Recorded)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	r, err := NewRunner(scripted(&calls), newTestStore(t))
	require.NoError(t, err)

	sum, err := r.Run(ctx, problems, Plan{Name: "main", Budgets: []int{32}, Trials: 1})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Zero(t, sum.Planned)
	assert.Zero(t, calls.Load())
}

func TestPlan_Validate(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
	}{
		{"no budgets", Plan{Name: "x", Trials: 1}},
		{"zero budget", Plan{Name: "x", Budgets: []int{0}, Trials: 1}},
		{"no trials", Plan{Name: "x", Budgets: []int{32}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.plan.Validate(), ErrInvalidPlan)
		})
	}
	assert.NoError(t, Plan{Name: "ok", Budgets: []int{32}, Trials: 1}.Validate())
}

func TestRetryConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryConfig().Validate())
	assert.NoError(t, fastRetry.Validate())

	bad := DefaultRetryConfig()
	bad.MaxAttempts = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRetryConfig)

	_, err := NewRunner(nil, nil, WithRetry(RetryConfig{MaxAttempts: 1, BackoffFactor: 0.5}))
	assert.ErrorIs(t, err, ErrInvalidRetryConfig)
}
