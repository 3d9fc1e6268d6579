// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *string
	}{
		{"hash marker", "5 + 3 = 8\n####  1,234", ptr("1234")},
		{"hash beats answer is", "The answer is 5.\n#### 6", ptr("6")},
		{"answer is case insensitive", "So The Answer Is $42.", ptr("42")},
		{"final answer colon", "Final answer: -3.5 units", ptr("-3.5")},
		{"answer beats boxed", "answer: 10 so \\boxed{12}", ptr("10")},
		{"boxed beats last number", "we get \\boxed{12} after 3 steps", ptr("12")},
		{"last number", "I have 1,000 apples and 25 pears", ptr("25")},
		{"negative last number", "x = -7", ptr("-7")},
		{"no number", "I cannot solve this.", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text))
		})
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		predicted *string
		truth     string
		want      bool
	}{
		{"exact", ptr("8"), "8", true},
		{"trailing zeros", ptr("8.00"), "8", true},
		{"within tolerance", ptr("8.00001"), "8", true},
		{"outside tolerance", ptr("8.001"), "8", false},
		{"commas", ptr("1,000"), "1000", true},
		{"nil prediction", nil, "8", false},
		{"unparseable prediction", ptr("eight"), "8", false},
		{"unparseable truth", ptr("8"), "n/a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Check(tt.predicted, tt.truth))
		})
	}
}

func TestNormalizeGroundTruth(t *testing.T) {
	assert.Equal(t, "72", NormalizeGroundTruth("She sold 48/2 = <<48/2=24>>24 clips.\n#### 72"))
	assert.Equal(t, "1234", NormalizeGroundTruth("#### 1,234"))
	assert.Equal(t, "5", NormalizeGroundTruth("  5 "))
}

func TestPrompt(t *testing.T) {
	gsm := Prompt("What is 2+2?", FormatGSM8K)
	assert.Contains(t, gsm, "####")
	assert.Contains(t, gsm, "Question: What is 2+2?")

	plain := Prompt("What is 2+2?", FormatPlain)
	assert.NotContains(t, plain, "####")
	assert.Contains(t, plain, "Solution:")

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatGSM8K, f)
	f, err = ParseFormat("PLAIN")
	require.NoError(t, err)
	assert.Equal(t, FormatPlain, f)
	_, err = ParseFormat("latex")
	assert.Error(t, err)
}

func ptr(s string) *string { return &s }
