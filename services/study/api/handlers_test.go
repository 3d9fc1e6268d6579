// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
	studydb "github.com/AleutianAI/budgetcliff/services/study/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	solvedText = "So 2 + 2 = 4. Let's check: 4 - 2 = 2, which is correct. The answer is 4."
	failedText = "I think it is 5."
)

type fixture struct {
	store    *samples.Store
	workflow *annotation.Workflow
	router   *gin.Engine
}

// newFixture records four problems at 64, 128 and 256 with accuracy 1/4,
// 3/4 and 4/4, so the cliff is 64→128.
func newFixture(t *testing.T, withAnnotation bool) *fixture {
	t.Helper()
	db, err := studydb.OpenInMemory()
	require.NoError(t, err)
	store, err := samples.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})

	correctAt := map[int]int{64: 1, 128: 3, 256: 4}
	for _, budget := range []int{64, 128, 256} {
		for i := range 4 {
			correct := i < correctAt[budget]
			text, ans := failedText, "5"
			if correct {
				text, ans = solvedText, "4"
			}
			require.NoError(t, store.Record(context.Background(), samples.Sample{
				ProblemID:       fmt.Sprintf("p%d", i),
				Budget:          budget,
				GeneratedText:   text,
				ExtractedAnswer: &ans,
				GroundTruth:     "4",
				Correct:         correct,
				TokensUsed:      budget / 4,
			}))
		}
	}

	f := &fixture{store: store}
	if withAnnotation {
		f.workflow, err = annotation.NewWorkflow(store, annotation.NewTaskStore(db))
		require.NoError(t, err)
	}
	h := NewHandlers(store, f.workflow, Settings{SaturationEpsilon: 0.005}, nil)
	f.router = NewRouter(h, nil)
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, false)
	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 12, resp.Samples)
}

func TestHandleCurve(t *testing.T) {
	f := newFixture(t, false)

	w := f.get(t, "/v1/curve")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[CurveResponse](t, w)
	require.Len(t, resp.Points, 3)
	assert.Equal(t, 64, resp.Points[0].Budget)
	assert.InDelta(t, 0.25, resp.Points[0].Accuracy, 1e-12)
	assert.InDelta(t, 1.0, resp.Points[2].Accuracy, 1e-12)
	assert.Nil(t, resp.SaturationBudget)

	w = f.get(t, "/v1/curve?budgets=128,256")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[CurveResponse](t, w).Points, 2)

	w = f.get(t, "/v1/curve?budgets=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_BUDGETS", decode[ErrorResponse](t, w).Code)
}

func TestHandleStability_SinglePassIsInsufficient(t *testing.T) {
	f := newFixture(t, false)
	w := f.get(t, "/v1/stability")
	require.Equal(t, http.StatusOK, w.Code)

	var raw struct {
		Reports []map[string]any `json:"reports"`
		Stable  bool             `json:"stable"`
		Gate    string           `json:"gate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Reports, 3)
	assert.False(t, raw.Stable)
	assert.Contains(t, raw.Gate, "budget 64 (insufficient_data)")
	assert.Nil(t, raw.Reports[0]["std_dev_accuracy"])
	assert.Equal(t, "insufficient_data", raw.Reports[0]["verdict"])
}

func TestHandleCliff(t *testing.T) {
	f := newFixture(t, false)

	w := f.get(t, "/v1/cliff")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[CliffResponse](t, w)
	require.NotNil(t, resp.Cliff)
	assert.Equal(t, 64, resp.Cliff.BudgetLow)
	assert.Equal(t, 128, resp.Cliff.BudgetHigh)
	assert.Equal(t, []int{64, 128, 256}, resp.Sweep)
	require.Len(t, resp.Verification, 2)
	assert.InDelta(t, 0.25, resp.Verification[0].Fraction, 1e-12)
	assert.InDelta(t, 0.75, resp.Verification[1].Fraction, 1e-12)

	tests := []struct {
		name string
		path string
		code string
	}{
		{"missing budget", "/v1/cliff?sweep=64,96,128", "MISSING_BUDGET"},
		{"one budget", "/v1/cliff?sweep=64", "INSUFFICIENT_BUDGETS"},
		{"unordered", "/v1/cliff?sweep=128,64", "UNORDERED_BUDGETS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, tt.path)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}

	w = f.get(t, "/v1/cliff?top_k=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTransitions(t *testing.T) {
	f := newFixture(t, false)

	w := f.get(t, "/v1/cliff/transitions?low=64&high=128")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[TransitionsResponse](t, w)
	var ids []string
	for _, tr := range resp.Transitions {
		ids = append(ids, tr.ProblemID)
	}
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)

	w = f.get(t, "/v1/cliff/transitions?low=128")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTaxonomy(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.workflow.Export(context.Background(), 64, 10, 42)
	require.NoError(t, err)

	w := f.get(t, "/v1/taxonomy")
	require.Equal(t, http.StatusOK, w.Code)
	tax := decode[annotation.Taxonomy](t, w)
	assert.True(t, tax.Partial)
	require.Len(t, tax.Budgets, 1)
	assert.Equal(t, 3, tax.Budgets[0].Exported)

	w = f.get(t, "/v1/taxonomy?strict=true")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INCOMPLETE_ANNOTATION", decode[ErrorResponse](t, w).Code)

	none := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, none.get(t, "/v1/taxonomy").Code)
}

func TestStructureAndPersistence(t *testing.T) {
	f := newFixture(t, false)

	w := f.get(t, "/v1/structure/verification?budgets=256")
	require.Equal(t, http.StatusOK, w.Code)
	fractions := decode[[]map[string]any](t, w)
	require.Len(t, fractions, 1)
	assert.EqualValues(t, 1, fractions[0]["fraction"])

	w = f.get(t, "/v1/structure/profile")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 3)

	w = f.get(t, "/v1/persistence")
	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[annotation.PersistenceReport](t, w)
	assert.Equal(t, 256, rep.MaxBudget)
	require.Len(t, rep.Persistent, 1)
	assert.Equal(t, "p3", rep.Persistent[0].ProblemID)
	assert.Equal(t, []int{64, 128}, rep.Persistent[0].Budgets)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, false)
	w := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "budgetcliff_samples_recorded_total")
}
