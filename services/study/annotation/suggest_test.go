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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

func TestSuggest(t *testing.T) {
	ans := func(s string) *string { return &s }

	var many strings.Builder
	for i := 100; i < 120; i++ {
		fmt.Fprintf(&many, "then %d ", i)
	}

	tests := []struct {
		name     string
		sample   samples.Sample
		question string
		want     ErrorType
		wantRec  Recoverable
	}{
		{
			name:    "cut off mid-sentence",
			sample:  samples.Sample{Budget: 64, TokensUsed: 64, GeneratedText: "First we compute 3 * 4 and"},
			want:    ErrorIncomplete,
			wantRec: RecoverableYes,
		},
		{
			name:    "complete but unextracted",
			sample:  samples.Sample{Budget: 64, TokensUsed: 64, GeneratedText: "Done!!"},
			want:    ErrorFormat,
			wantRec: RecoverableYes,
		},
		{
			name:    "stopped early",
			sample:  samples.Sample{Budget: 512, TokensUsed: 100, ExtractedAnswer: ans("5"), GroundTruth: "6"},
			want:    ErrorIncomplete,
			wantRec: RecoverableYes,
		},
		{
			name: "wrong multiplication",
			sample: samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("45"), GroundTruth: "40",
				GeneratedText: "5 + 3 = 8 and 5 * 8 = 45"},
			want:    ErrorArithmetic,
			wantRec: RecoverableYes,
		},
		{
			name: "correct calculations fall through to distance",
			sample: samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("98"), GroundTruth: "100",
				GeneratedText: "10 - 2 = 8 and 12 / 4 = 3"},
			want:    ErrorArithmetic,
			wantRec: RecoverableYes,
		},
		{
			name:    "moderately wrong is logic",
			sample:  samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("150"), GroundTruth: "100"},
			want:    ErrorLogic,
			wantRec: RecoverableNo,
		},
		{
			name:    "way off is setup",
			sample:  samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("1,000"), GroundTruth: "100"},
			want:    ErrorSetup,
			wantRec: RecoverableNo,
		},
		{
			name:    "nonzero for zero answer",
			sample:  samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("3"), GroundTruth: "0"},
			want:    ErrorSetup,
			wantRec: RecoverableNo,
		},
		{
			name: "non-numeric with truth in text",
			sample: samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("x"), GroundTruth: "42",
				GeneratedText: "we get 42 apples"},
			want:    ErrorFormat,
			wantRec: RecoverableYes,
		},
		{
			name:    "non-numeric otherwise",
			sample:  samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("x"), GroundTruth: "42"},
			want:    ErrorLogic,
			wantRec: RecoverableNo,
		},
		{
			name: "invented numbers",
			sample: samples.Sample{Budget: 64, TokensUsed: 60, ExtractedAnswer: ans("101"), GroundTruth: "100",
				GeneratedText: many.String()},
			question: "Tom has 3 apples and 4 pears.",
			want:     ErrorHallucination,
			wantRec:  RecoverableNo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.sample, tt.question)
			assert.Equal(t, tt.want, got.ErrorType, got.Location)
			assert.Equal(t, tt.wantRec, got.Recoverable)
			assert.Greater(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
			assert.NotEmpty(t, got.Location)
		})
	}
}
