// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package answer extracts numeric final answers from generated solutions and
// checks them against ground truth.
package answer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Tolerance is the absolute difference under which two answers match.
const Tolerance = 1e-4

const number = `-?\d+(?:,\d{3})*(?:\.\d+)?`

var (
	hashMarker = regexp.MustCompile(`####\s*(` + number + `)`)
	answerIs   = regexp.MustCompile(`(?:the answer is|answer:|final answer:)\s*\$?(` + number + `)`)
	boxed      = regexp.MustCompile(`\\boxed\{(` + number + `)\}`)
	anyNumber  = regexp.MustCompile(number)
)

// Extract returns the final numeric answer in text, or nil when there is
// none.
//
// Description:
//
//	Patterns are tried in order and the first match wins:
//	"#### n", then "the answer is n" / "answer: n" / "final answer: n"
//	(case-insensitive, optional $), then \boxed{n}, then the last number
//	anywhere in the text. Thousands separators are removed from the result.
//
// Inputs:
//
//	text - The generated solution.
//
// Outputs:
//
//	*string - The answer without commas, or nil.
func Extract(text string) *string {
	if m := hashMarker.FindStringSubmatch(text); m != nil {
		return clean(m[1])
	}
	if m := answerIs.FindStringSubmatch(strings.ToLower(text)); m != nil {
		return clean(m[1])
	}
	if m := boxed.FindStringSubmatch(text); m != nil {
		return clean(m[1])
	}
	if all := anyNumber.FindAllString(text, -1); len(all) > 0 {
		return clean(all[len(all)-1])
	}
	return nil
}

func clean(s string) *string {
	out := strings.ReplaceAll(s, ",", "")
	return &out
}

// Normalize parses an answer as a float after removing commas and
// surrounding whitespace.
func Normalize(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Check reports whether predicted matches groundTruth numerically. A nil or
// unparseable prediction never matches.
func Check(predicted *string, groundTruth string) bool {
	if predicted == nil {
		return false
	}
	p, ok := Normalize(*predicted)
	if !ok {
		return false
	}
	g, ok := Normalize(groundTruth)
	if !ok {
		return false
	}
	return math.Abs(p-g) < Tolerance
}

// NormalizeGroundTruth reduces a dataset answer field to its final value.
// GSM8K answers carry the worked solution followed by "#### n"; only the text
// after the marker is kept.
func NormalizeGroundTruth(raw string) string {
	if i := strings.LastIndex(raw, "####"); i >= 0 {
		raw = raw[i+len("####"):]
	}
	return strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
}

// Format selects a prompt template.
type Format string

const (
	FormatGSM8K Format = "gsm8k"
	FormatPlain Format = "plain"
)

// ParseFormat accepts the template names used in configuration.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGSM8K, FormatPlain:
		return f, nil
	case "":
		return FormatGSM8K, nil
	default:
		return "", fmt.Errorf("unknown prompt format %q", s)
	}
}

// Prompt renders the generation prompt for question. The gsm8k template asks
// for a trailing "#### n" so Extract finds the answer on its first pattern.
func Prompt(question string, format Format) string {
	if format == FormatPlain {
		return "Solve this math problem step by step. Show your work.\n\n" +
			"Question: " + question + "\n\nSolution:"
	}
	return "Solve this math problem step by step. Show your work and end your answer " +
		"with #### followed by just the numerical answer.\n\n" +
		"Question: " + question + "\n\nSolution:"
}
