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
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// Suggestion is a heuristic guess at a label. It is shown to annotators as
// context and never applied as a label.
type Suggestion struct {
	ErrorType   ErrorType   `json:"error_type"`
	Location    string      `json:"location"`
	Recoverable Recoverable `json:"recoverable"`
	Confidence  float64     `json:"confidence"`
}

var (
	endsCleanly = regexp.MustCompile(`[.!?#]{2,}\s*$`)
	calculation = regexp.MustCompile(`(\d+\.?\d*)\s*([+\-*/×÷])\s*(\d+\.?\d*)\s*=\s*(\d+\.?\d*)`)
	numberLike  = regexp.MustCompile(`-?\d+\.?\d*`)
)

// calcTolerance is how far a written result may drift before it counts as wrong.
const calcTolerance = 0.1

// Suggest classifies a failed sample by fixed rules, first match wins:
//
//  1. No extracted answer: incomplete when the text looks cut off, else format.
//  2. Less than half the budget used: incomplete.
//  3. A written calculation "a op b = c" that is wrong: arithmetic.
//  4. Many numbers absent from the question: hallucination.
//  5. Relative distance to ground truth: <10% arithmetic, <100% logic, else setup.
//  6. Non-numeric prediction: format if the truth appears in the text, else logic.
func Suggest(s samples.Sample, question string) Suggestion {
	text := s.GeneratedText
	predicted := ""
	if s.ExtractedAnswer != nil {
		predicted = strings.TrimSpace(*s.ExtractedAnswer)
	}

	if predicted == "" {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" && !endsCleanly.MatchString(trimmed) {
			return Suggestion{ErrorIncomplete, "generation cut off mid-sentence", RecoverableYes, 0.9}
		}
		return Suggestion{ErrorFormat, "answer not extracted from complete solution", RecoverableYes, 0.85}
	}

	if float64(s.TokensUsed) < float64(s.Budget)*0.5 {
		return Suggestion{ErrorIncomplete, "stopped early", RecoverableYes, 0.85}
	}

	if loc, ok := wrongCalculation(text); ok {
		return Suggestion{ErrorArithmetic, loc, RecoverableYes, 0.9}
	}

	qNums := distinct(numberLike.FindAllString(question, -1))
	sNums := distinct(numberLike.FindAllString(text, -1))
	invented := 0
	for n := range sNums {
		if _, ok := qNums[n]; !ok {
			invented++
		}
	}
	if invented > 10 && invented > 2*len(qNums) {
		return Suggestion{ErrorHallucination, "many invented numbers", RecoverableNo, 0.65}
	}

	pred, perr := parseNumber(predicted)
	truth, terr := parseNumber(s.GroundTruth)
	if perr != nil || terr != nil {
		if gt := strings.TrimSpace(s.GroundTruth); gt != "" && strings.Contains(text, gt) {
			return Suggestion{ErrorFormat, "answer in text but not extracted", RecoverableYes, 0.8}
		}
		return Suggestion{ErrorLogic, "non-numeric prediction", RecoverableNo, 0.6}
	}

	if truth == 0 {
		if pred != 0 {
			return Suggestion{ErrorSetup, "predicted non-zero for zero answer", RecoverableNo, 0.8}
		}
		return Suggestion{ErrorLogic, "unknown error type", RecoverableNo, 0.5}
	}

	ratio := math.Abs(pred-truth) / math.Abs(truth)
	switch {
	case ratio < 0.1:
		return Suggestion{ErrorArithmetic, fmt.Sprintf("close but wrong (%.1f%% off)", 100*ratio), RecoverableYes, 0.75}
	case ratio < 1.0:
		return Suggestion{ErrorLogic, fmt.Sprintf("reasoning error (%.1f%% off)", 100*ratio), RecoverableNo, 0.7}
	default:
		return Suggestion{ErrorSetup, fmt.Sprintf("fundamental error (%.1f%% off)", 100*ratio), RecoverableNo, 0.75}
	}
}

func wrongCalculation(text string) (string, bool) {
	for _, m := range calculation.FindAllStringSubmatch(text, -1) {
		a, err1 := strconv.ParseFloat(m[1], 64)
		b, err2 := strconv.ParseFloat(m[3], 64)
		got, err3 := strconv.ParseFloat(m[4], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		var want float64
		switch m[2] {
		case "+":
			want = a + b
		case "-":
			want = a - b
		case "*", "×":
			want = a * b
		case "/", "÷":
			if b == 0 {
				continue
			}
			want = a / b
		}
		if math.Abs(want-got) > calcTolerance {
			return fmt.Sprintf("wrong calc: %s %s %s = %s", m[1], m[2], m[3], m[4]), true
		}
	}
	return "", false
}

func distinct(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		out[x] = struct{}{}
	}
	return out
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
}
