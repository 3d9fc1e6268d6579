// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the text-generation backends a sweep runs against.
//
// Every backend generates one completion for a prompt under a hard cap on new
// tokens and reports how many tokens it actually produced. The count comes
// from the backend itself (completion usage or eval count), never from a
// local tokenizer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrGeneration is matched by every *GenerationError.
	ErrGeneration = errors.New("generation failed")

	// ErrUnknownBackend is returned by New for an unsupported backend type.
	ErrUnknownBackend = errors.New("unknown backend type")
)

// GenerationError describes a failed Generate call. Nothing should be
// recorded for it; the same request can be tried again.
type GenerationError struct {
	Backend string
	Model   string
	// Status is the HTTP status when the backend answered, else 0.
	Status int
	// Retryable is false when retrying cannot help, such as a cancelled
	// context or a rejected request.
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s generation with %s failed (status %d): %v", e.Backend, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("%s generation with %s failed: %v", e.Backend, e.Model, e.Err)
}

// Unwrap exposes both ErrGeneration and the cause.
func (e *GenerationError) Unwrap() []error {
	return []error{ErrGeneration, e.Err}
}

// IsRetryable reports whether err is a GenerationError worth retrying.
func IsRetryable(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Retryable
}

func newGenerationError(backend, model string, status int, err error) *GenerationError {
	retryable := status == 0 || status == 408 || status == 429 || status >= 500
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		retryable = false
	}
	return &GenerationError{Backend: backend, Model: model, Status: status, Retryable: retryable, Err: err}
}

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Generation is one completion.
type Generation struct {
	Text string
	// TokensUsed is the number of new tokens the backend produced.
	TokensUsed int
	// FinishReason is the backend's stop reason when it reports one, such as
	// "stop" or "length".
	FinishReason string
}

// Generator produces a completion of at most maxTokens new tokens.
//
// Implementations must be safe for concurrent use and must return a
// *GenerationError on failure.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (Generation, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, maxTokens int) (Generation, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, maxTokens int) (Generation, error) {
	return f(ctx, prompt, maxTokens)
}

// GenerationParams holds the sampling parameters shared by all backends.
type GenerationParams struct {
	Temperature float32
	TopP        float32
	Stop        []string
	// Seed is passed through when the backend supports it.
	Seed *int
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config selects and configures a backend.
type Config struct {
	Type    string
	BaseURL string
	Model   string
	APIKey  string
	// System is an optional system message for chat backends.
	System  string
	Params  GenerationParams
	Timeout time.Duration
	Logger  *slog.Logger
}

// New builds the backend named by cfg.Type.
func New(cfg Config) (Generator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch strings.ToLower(cfg.Type) {
	case BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendOllama:
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
}
