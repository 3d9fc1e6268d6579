// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package structure segments generated solutions into setup, computation and
// verification phases and measures the tokens spent in each.
//
// Segmentation is rule-based over sentence-like units and deterministic for
// a fixed input. It does not interpret cliff locations; callers correlate the
// verification fraction against the cliff themselves.
package structure

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Phase names a solution segment.
type Phase string

const (
	PhaseSetup        Phase = "setup"
	PhaseComputation  Phase = "computation"
	PhaseVerification Phase = "verification"
	PhaseOther        Phase = "other"
)

// Phases lists every phase in grammar order.
var Phases = []Phase{PhaseSetup, PhaseComputation, PhaseVerification, PhaseOther}

// Span is one contiguous phase of a solution. Start and End are byte offsets
// into the text, End exclusive.
type Span struct {
	Phase  Phase `json:"phase"`
	Start  int   `json:"start"`
	End    int   `json:"end"`
	Tokens int   `json:"tokens"`
}

// Breakdown is the ordered phase segmentation of one solution. Spans do not
// overlap, cover the whole text, and their Tokens sum to the tokens used.
type Breakdown struct {
	Spans []Span `json:"spans"`
}

// Has reports whether the breakdown contains a non-empty span of phase p.
func (b Breakdown) Has(p Phase) bool {
	for _, s := range b.Spans {
		if s.Phase == p && s.End > s.Start {
			return true
		}
	}
	return false
}

// Tokens returns the tokens attributed to phase p.
func (b Breakdown) Tokens(p Phase) int {
	n := 0
	for _, s := range b.Spans {
		if s.Phase == p {
			n += s.Tokens
		}
	}
	return n
}

// TotalTokens returns the sum of all span tokens.
func (b Breakdown) TotalTokens() int {
	n := 0
	for _, s := range b.Spans {
		n += s.Tokens
	}
	return n
}

// -----------------------------------------------------------------------------
// Units
// -----------------------------------------------------------------------------

// unit is one sentence-like piece of text including its delimiters and
// trailing whitespace.
type unit struct {
	start, end int
}

func isDelimiter(text string, i int) bool {
	switch text[i] {
	case '!', '?', '\n':
		return true
	case '.':
		// 3.5 and 1,000.25 stay whole.
		prevDigit := i > 0 && text[i-1] >= '0' && text[i-1] <= '9'
		nextDigit := i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9'
		return !(prevDigit && nextDigit)
	}
	return false
}

// splitUnits cuts text after each run of delimiters plus following
// whitespace. The units tile the text exactly.
func splitUnits(text string) []unit {
	var units []unit
	start := 0
	i := 0
	for i < len(text) {
		if !isDelimiter(text, i) {
			i++
			continue
		}
		for i < len(text) && isDelimiter(text, i) {
			i++
		}
		for i < len(text) {
			r, size := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(r) {
				break
			}
			i += size
		}
		units = append(units, unit{start: start, end: i})
		start = i
	}
	if start < len(text) {
		units = append(units, unit{start: start, end: len(text)})
	}
	return units
}

// -----------------------------------------------------------------------------
// Tagging
// -----------------------------------------------------------------------------

type tag int

const (
	tagNeutral tag = iota
	tagSetup
	tagCompute
	tagVerify
)

var (
	// Verb forms only: "checks" and "checked" are usually nouns or narration.
	verifyPattern = regexp.MustCompile(`\b(check|checking|recheck|double[- ]?check|verify|verifies|verified|verifying|verification|confirm|confirms|confirmed|sanity check|validate|plug(?:ging)? (?:it |this |these )?back|is correct|are correct|consistent)\b`)
	// A unit that opens as a recheck ("Let's check: ...", "Verify: ...").
	recheckLead   = regexp.MustCompile(`^\s*(?:let's (?:double[- ]?)?check|let us check|check(?:ing)?\s*[:,]|verify(?:ing)?\s*[:,]|verification\s*:|double[- ]?check|sanity check|to (?:verify|check|confirm)\b)`)
	// Recheck wording that points back at an earlier result.
	refersBack    = regexp.MustCompile(`\b(?:check|checking|recheck|verify|verifying|confirm|confirms|double[- ]?check)\b[^.!?]*\b(?:answer|result|solution|this|that|it)\b|\b(?:is|are) correct\b|\bplug(?:ging)? (?:it |this |these |that )?back\b|\bconsistent\b`)
	setupPattern  = regexp.MustCompile(`\b(let|let's|given|we have|we know|suppose|define|assume|denote|we need to find|we are asked)\b`)
	computeWords  = regexp.MustCompile(`\b(therefore|so|thus|hence|equals|calculate|compute|total|multiply|divide|add|subtract|sum|product|difference|gives|results? in)\b`)
	arithmeticOp  = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?\s*[+\-*/×÷]\s*\$?\d`)
	resultPattern = regexp.MustCompile(`=\s*\$?-?\d`)
)

// tagUnit classifies one unit. A unit with an arithmetic expression is
// computation unless it opens as a recheck or its recheck wording refers back
// to a result; it is computation even when it opens with "let".
func tagUnit(s string) tag {
	lower := strings.ToLower(s)
	arith := arithmeticOp.MatchString(lower)
	switch {
	case arith && (recheckLead.MatchString(lower) || refersBack.MatchString(lower)):
		return tagVerify
	case arith:
		return tagCompute
	case verifyPattern.MatchString(lower):
		return tagVerify
	case setupPattern.MatchString(lower):
		return tagSetup
	case computeWords.MatchString(lower), resultPattern.MatchString(lower):
		return tagCompute
	default:
		return tagNeutral
	}
}

// -----------------------------------------------------------------------------
// Grammar
// -----------------------------------------------------------------------------

// assignPhases maps tags onto setup? computation+ verification?.
//
// Units before the first computation unit are setup, except verify units
// there, which are other. Verification starts at the first verify unit after
// a computation unit that has no setup unit after it and runs to the end.
// Between, computation and neutral units are computation and anything else
// is other. Without any computation unit only the leading run through the
// last setup unit is setup.
func assignPhases(tags []tag) []Phase {
	phases := make([]Phase, len(tags))

	firstCompute := -1
	lastSetup := -1
	for i, t := range tags {
		if t == tagCompute && firstCompute < 0 {
			firstCompute = i
		}
		if t == tagSetup {
			lastSetup = i
		}
	}

	if firstCompute < 0 {
		for i, t := range tags {
			if i <= lastSetup && t != tagVerify {
				phases[i] = PhaseSetup
			} else {
				phases[i] = PhaseOther
			}
		}
		return phases
	}

	verifyStart := len(tags)
	for i := firstCompute + 1; i < len(tags); i++ {
		if tags[i] == tagVerify && i > lastSetup {
			verifyStart = i
			break
		}
	}

	for i, t := range tags {
		switch {
		case i < firstCompute:
			if t == tagVerify {
				phases[i] = PhaseOther
			} else {
				phases[i] = PhaseSetup
			}
		case i >= verifyStart:
			phases[i] = PhaseVerification
		case t == tagCompute || t == tagNeutral:
			phases[i] = PhaseComputation
		default:
			phases[i] = PhaseOther
		}
	}
	return phases
}

// -----------------------------------------------------------------------------
// Classify
// -----------------------------------------------------------------------------

// Classify segments one solution.
//
// Description:
//
//	Splits text into sentence units on . ! ? and newline, keeping delimiters
//	and trailing whitespace with their unit. Tags each unit, applies the
//	phase grammar, merges adjacent units of the same phase, and apportions
//	tokensUsed across spans by rune length with the largest remainder
//	method so the span tokens sum exactly to tokensUsed.
//
// Inputs:
//
//	text - The generated solution.
//	tokensUsed - Tokens the backend reported. Negative values count as zero.
//
// Outputs:
//
//	Breakdown - Empty text yields no spans when tokensUsed is zero and a
//	            single empty other span carrying the tokens otherwise.
func Classify(text string, tokensUsed int) Breakdown {
	tokensUsed = max(tokensUsed, 0)
	units := splitUnits(text)
	if len(units) == 0 {
		if tokensUsed == 0 {
			return Breakdown{}
		}
		return Breakdown{Spans: []Span{{Phase: PhaseOther, Tokens: tokensUsed}}}
	}

	tags := make([]tag, len(units))
	for i, u := range units {
		tags[i] = tagUnit(text[u.start:u.end])
	}
	phases := assignPhases(tags)

	var spans []Span
	for i, u := range units {
		if n := len(spans); n > 0 && spans[n-1].Phase == phases[i] {
			spans[n-1].End = u.end
			continue
		}
		spans = append(spans, Span{Phase: phases[i], Start: u.start, End: u.end})
	}

	weights := make([]int, len(spans))
	for i, s := range spans {
		weights[i] = utf8.RuneCountInString(text[s.Start:s.End])
	}
	for i, n := range apportion(tokensUsed, weights) {
		spans[i].Tokens = n
	}
	return Breakdown{Spans: spans}
}

// apportion splits total across weights by the largest remainder method.
// Ties in remainder go to the earlier index. The result sums to total.
func apportion(total int, weights []int) []int {
	out := make([]int, len(weights))
	sum := 0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 || total == 0 {
		if len(out) > 0 {
			out[0] = total
		}
		return out
	}

	rems := make([]int, len(weights))
	assigned := 0
	for i, w := range weights {
		out[i] = total * w / sum
		rems[i] = total * w % sum
		assigned += out[i]
	}

	for left := total - assigned; left > 0; left-- {
		best := -1
		for i, r := range rems {
			if r >= 0 && (best < 0 || r > rems[best]) {
				best = i
			}
		}
		out[best]++
		rems[best] = -1
	}
	return out
}
