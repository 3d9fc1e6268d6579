// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset loads math word problems from JSONL files.
//
// Two record shapes are accepted. GSM8K lines carry "question" and an
// "answer" whose worked solution ends in "#### n". SVAMP lines carry "Body",
// "Question" and a numeric "Answer". An optional "id" becomes the problem ID;
// without it the zero-based record index is used.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/budgetcliff/services/study/answer"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDuplicateProblem is returned when two records share an ID.
	ErrDuplicateProblem = errors.New("duplicate problem id")

	// ErrInvalidProblem is returned for a record missing its question or
	// answer.
	ErrInvalidProblem = errors.New("invalid problem")
)

// Problem is one dataset item.
type Problem struct {
	ID          string `json:"id" validate:"required"`
	Question    string `json:"question" validate:"required"`
	GroundTruth string `json:"ground_truth" validate:"required"`
}

type record struct {
	ID       json.RawMessage `json:"id"`
	Question string          `json:"question"`
	Answer   json.RawMessage `json:"answer"`

	SVAMPBody     string          `json:"Body"`
	SVAMPQuestion string          `json:"Question"`
	SVAMPAnswer   json.RawMessage `json:"Answer"`
}

type loadConfig struct {
	limit int
}

// Option configures Load.
type Option func(*loadConfig)

// WithLimit keeps only the first n problems. Zero or negative means all.
func WithLimit(n int) Option {
	return func(c *loadConfig) { c.limit = n }
}

var validate = validator.New(validator.WithRequiredStructEnabled())

const maxLine = 4 << 20

// Load parses problems from JSONL.
//
// Description:
//
//	Blank lines are skipped. Ground truth is normalized with
//	answer.NormalizeGroundTruth. IDs must be unique across the file.
//
// Outputs:
//
//	[]Problem - Problems in file order.
//	error - Names the offending line. Wraps ErrDuplicateProblem or
//	        ErrInvalidProblem where they apply.
func Load(r io.Reader, opts ...Option) ([]Problem, error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var out []Problem
	seen := make(map[string]int)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if cfg.limit > 0 && len(out) >= cfg.limit {
			break
		}

		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", line, err)
		}
		p, err := rec.problem(len(out))
		if err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", line, err)
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("dataset line %d: %w %q (first on line %d)", line, ErrDuplicateProblem, p.ID, prev)
		}
		seen[p.ID] = line
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return out, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string, opts ...Option) ([]Problem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Load(f, opts...)
}

func (r record) problem(index int) (Problem, error) {
	id, err := scalar(r.ID)
	if err != nil {
		return Problem{}, fmt.Errorf("%w: id: %v", ErrInvalidProblem, err)
	}
	if id == "" {
		id = strconv.Itoa(index)
	}

	question := r.Question
	rawAnswer := r.Answer
	if question == "" && r.SVAMPQuestion != "" {
		question = strings.TrimSpace(strings.TrimSpace(r.SVAMPBody) + " " + r.SVAMPQuestion)
	}
	if len(rawAnswer) == 0 {
		rawAnswer = r.SVAMPAnswer
	}
	truth, err := scalar(rawAnswer)
	if err != nil {
		return Problem{}, fmt.Errorf("%w: answer: %v", ErrInvalidProblem, err)
	}

	p := Problem{ID: id, Question: strings.TrimSpace(question), GroundTruth: answer.NormalizeGroundTruth(truth)}
	if err := validate.Struct(p); err != nil {
		return Problem{}, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	return p, nil
}

// scalar renders a JSON string or number as text. Absent and null give "".
func scalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return n.String(), nil
}
