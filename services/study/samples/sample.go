// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package samples is the append-only record of individual
// (problem, budget, trial) observations. Every downstream analysis reads
// from here and nothing downstream writes back.
package samples

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDuplicateKey is returned when a sample's key already exists.
	// Callers resuming a sweep treat it as "already done".
	ErrDuplicateKey = errors.New("duplicate sample key")

	// ErrInvalidSample is returned when a sample violates a field invariant.
	ErrInvalidSample = errors.New("invalid sample")
)

// DuplicateKeyError names the key that was already recorded.
type DuplicateKeyError struct {
	Key Key
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateKey, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Key uniquely identifies a sample.
type Key struct {
	ProblemID  string
	Budget     int
	TrialIndex int
}

// String renders the key as problem:budget:trial, the same form used for
// annotation sample refs.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%d", k.ProblemID, k.Budget, k.TrialIndex)
}

// Sample is one observation of a model solving one problem under one budget.
//
// The JSON encoding is the persisted sample log schema. Field names and the
// explicit null for a missing extracted answer are part of that contract.
type Sample struct {
	ProblemID       string  `json:"problem_id" validate:"required"`
	Budget          int     `json:"budget" validate:"gt=0"`
	TrialIndex      int     `json:"trial_index" validate:"gte=0"`
	GeneratedText   string  `json:"generated_text"`
	ExtractedAnswer *string `json:"extracted_answer"`
	GroundTruth     string  `json:"ground_truth"`
	Correct         bool    `json:"correct"`
	TokensUsed      int     `json:"tokens_used" validate:"gte=0,ltefield=Budget"`
}

// Key returns the sample's unique key.
func (s Sample) Key() Key {
	return Key{ProblemID: s.ProblemID, Budget: s.Budget, TrialIndex: s.TrialIndex}
}

// Ref returns the key in problem:budget:trial form.
func (s Sample) Ref() string {
	return s.Key().String()
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func sampleValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the field invariants of a sample.
//
// Outputs:
//
//	error - Nil when valid. Otherwise wraps ErrInvalidSample, names the key,
//	        and joins one error per violated field.
func (s Sample) Validate() error {
	var problems []error

	if err := sampleValidator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fieldError(fe, s))
			}
		} else {
			problems = append(problems, err)
		}
	}
	if strings.ContainsRune(s.ProblemID, 0) {
		problems = append(problems, errors.New("problem_id must not contain NUL"))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w %s: %w", ErrInvalidSample, s.Key(), errors.Join(problems...))
}

func fieldError(fe validator.FieldError, s Sample) error {
	switch fe.Field() {
	case "ProblemID":
		return errors.New("problem_id is required")
	case "Budget":
		return fmt.Errorf("budget must be positive, got %d", s.Budget)
	case "TrialIndex":
		return fmt.Errorf("trial_index must be non-negative, got %d", s.TrialIndex)
	case "TokensUsed":
		if s.TokensUsed < 0 {
			return fmt.Errorf("tokens_used must be non-negative, got %d", s.TokensUsed)
		}
		return fmt.Errorf("tokens_used %d exceeds budget %d", s.TokensUsed, s.Budget)
	default:
		return fmt.Errorf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Filter selects samples. Zero-valued fields match everything.
type Filter struct {
	// ProblemID matches one problem when non-empty.
	ProblemID string

	// Budgets matches any of the listed budgets when non-empty.
	Budgets []int

	// TrialIndex matches one trial when non-nil.
	TrialIndex *int

	// Correct matches on correctness when non-nil.
	Correct *bool
}

// Match reports whether s satisfies the filter.
func (f Filter) Match(s Sample) bool {
	if f.ProblemID != "" && s.ProblemID != f.ProblemID {
		return false
	}
	if len(f.Budgets) > 0 && !slices.Contains(f.Budgets, s.Budget) {
		return false
	}
	if f.TrialIndex != nil && s.TrialIndex != *f.TrialIndex {
		return false
	}
	if f.Correct != nil && s.Correct != *f.Correct {
		return false
	}
	return true
}

// Ptr returns a pointer to v. Handy for Filter literals.
func Ptr[T any](v T) *T {
	return &v
}
