// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package annotation runs the manual error-labeling lifecycle.
//
// Incorrect samples are exported into unlabeled tasks, edited by a human in a
// TSV file, imported back, and aggregated into an error taxonomy per budget.
// A task moves from unlabeled to labeled only on explicit human input, and a
// labeled task never changes again.
package annotation

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidLabel is returned when an imported label is outside its
	// enumeration, or a label is given without a recoverable judgement.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrUnknownTask is returned when an imported row has no exported task.
	ErrUnknownTask = errors.New("unknown annotation task")

	// ErrTaskLabeled is returned when an import tries to change a labeled task.
	ErrTaskLabeled = errors.New("task already labeled")

	// ErrIncompleteAnnotation is returned by strict aggregation while any
	// exported task at a budget is still unlabeled.
	ErrIncompleteAnnotation = errors.New("annotation incomplete")

	// ErrInvalidSampleRef is returned for a malformed sample_ref.
	ErrInvalidSampleRef = errors.New("invalid sample_ref")
)

// InvalidLabelError names the task, column and rejected value.
type InvalidLabelError struct {
	SampleRef string
	Field     string
	Value     string
	Reason    string
}

func (e *InvalidLabelError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s %s=%q: %s", ErrInvalidLabel, e.SampleRef, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s=%q", ErrInvalidLabel, e.SampleRef, e.Field, e.Value)
}

func (e *InvalidLabelError) Unwrap() error {
	return ErrInvalidLabel
}

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// ErrorType classifies why a solution failed.
type ErrorType string

const (
	ErrorArithmetic    ErrorType = "arithmetic"
	ErrorSetup         ErrorType = "setup"
	ErrorLogic         ErrorType = "logic"
	ErrorIncomplete    ErrorType = "incomplete"
	ErrorFormat        ErrorType = "format"
	ErrorHallucination ErrorType = "hallucination"
	ErrorUnlabeled     ErrorType = "unlabeled"
)

// ErrorTypes lists the label values in report order. Unlabeled is excluded.
var ErrorTypes = []ErrorType{
	ErrorArithmetic, ErrorSetup, ErrorLogic, ErrorIncomplete, ErrorFormat, ErrorHallucination,
}

// Describe returns the annotator-facing definition of an error type.
func (t ErrorType) Describe() string {
	switch t {
	case ErrorArithmetic:
		return "Calculation mistake (e.g., 5*8=45)"
	case ErrorSetup:
		return "Wrong problem interpretation or equation setup"
	case ErrorLogic:
		return "Correct setup but wrong reasoning steps"
	case ErrorIncomplete:
		return "Ran out of tokens before completing solution"
	case ErrorFormat:
		return "Correct reasoning but wrong answer format"
	case ErrorHallucination:
		return "Made up information not in problem"
	default:
		return "Not yet labeled"
	}
}

// ParseErrorType parses a label cell. Empty reads as unlabeled. Values must
// match an enumeration member exactly; case or padding variants are
// rejected, not normalized.
func ParseErrorType(s string) (ErrorType, bool) {
	v := ErrorType(s)
	if v == "" || v == ErrorUnlabeled {
		return ErrorUnlabeled, true
	}
	if slices.Contains(ErrorTypes, v) {
		return v, true
	}
	return "", false
}

// Recoverable records whether more budget alone would likely fix the error.
type Recoverable string

const (
	RecoverableYes     Recoverable = "yes"
	RecoverableNo      Recoverable = "no"
	RecoverableUnknown Recoverable = "unknown"
	RecoverableUnset   Recoverable = "unset"
)

// ParseRecoverable parses a recoverable cell. Empty reads as unset. As with
// ParseErrorType, only exact enumeration values are accepted.
func ParseRecoverable(s string) (Recoverable, bool) {
	switch v := Recoverable(s); v {
	case "":
		return RecoverableUnset, true
	case RecoverableYes, RecoverableNo, RecoverableUnknown, RecoverableUnset:
		return v, true
	default:
		return "", false
	}
}

// State is the lifecycle position of a task.
type State string

const (
	StateUnlabeled State = "unlabeled"
	StateLabeled   State = "labeled"
)

// -----------------------------------------------------------------------------
// Task
// -----------------------------------------------------------------------------

// Task is one sample awaiting or holding a human label.
type Task struct {
	SampleRef     string      `json:"sample_ref"`
	ProblemID     string      `json:"problem_id"`
	Budget        int         `json:"budget"`
	TrialIndex    int         `json:"trial_index"`
	ErrorType     ErrorType   `json:"error_type"`
	ErrorLocation string      `json:"error_location"`
	Recoverable   Recoverable `json:"recoverable"`
	Notes         string      `json:"notes"`
	State         State       `json:"state"`

	// Order is the task's position in its budget's export selection.
	Order      int        `json:"order"`
	ExportedAt time.Time  `json:"exported_at"`
	LabeledAt  *time.Time `json:"labeled_at,omitempty"`
}

// NewTask creates an unlabeled task for a sample.
func NewTask(key samples.Key, order int, now time.Time) Task {
	return Task{
		SampleRef:   key.String(),
		ProblemID:   key.ProblemID,
		Budget:      key.Budget,
		TrialIndex:  key.TrialIndex,
		ErrorType:   ErrorUnlabeled,
		Recoverable: RecoverableUnset,
		State:       StateUnlabeled,
		Order:       order,
		ExportedAt:  now.UTC(),
	}
}

// sameLabel reports whether two tasks carry identical label columns.
func (t Task) sameLabel(o Task) bool {
	return t.ErrorType == o.ErrorType &&
		t.ErrorLocation == o.ErrorLocation &&
		t.Recoverable == o.Recoverable &&
		t.Notes == o.Notes
}

// ParseSampleRef splits problem:budget:trial from the right, so problem IDs
// may contain colons.
func ParseSampleRef(ref string) (samples.Key, error) {
	i := strings.LastIndexByte(ref, ':')
	if i < 0 {
		return samples.Key{}, fmt.Errorf("%w: %q", ErrInvalidSampleRef, ref)
	}
	j := strings.LastIndexByte(ref[:i], ':')
	if j <= 0 {
		return samples.Key{}, fmt.Errorf("%w: %q", ErrInvalidSampleRef, ref)
	}
	budget, err := strconv.Atoi(ref[j+1 : i])
	if err != nil || budget <= 0 {
		return samples.Key{}, fmt.Errorf("%w: %q: bad budget", ErrInvalidSampleRef, ref)
	}
	trial, err := strconv.Atoi(ref[i+1:])
	if err != nil || trial < 0 {
		return samples.Key{}, fmt.Errorf("%w: %q: bad trial", ErrInvalidSampleRef, ref)
	}
	return samples.Key{ProblemID: ref[:j], Budget: budget, TrialIndex: trial}, nil
}
