// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sweep

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/budgetcliff/services/llm"
)

// ErrInvalidRetryConfig is returned by RetryConfig.Validate.
var ErrInvalidRetryConfig = errors.New("invalid retry config")

// RetryConfig controls how retryable generation failures are retried within
// one run.
type RetryConfig struct {
	// MaxAttempts includes the first attempt. Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the first retry. Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries. Default: 30s
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each retry. Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the wait (0-1).
	// Default: 0.2
	JitterFactor float64
}

// DefaultRetryConfig returns the defaults listed on RetryConfig.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// Validate checks the config for usable values.
func (c RetryConfig) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return errors.Join(ErrInvalidRetryConfig, errors.New("max attempts must be at least 1"))
	case c.InitialBackoff < 0 || c.MaxBackoff < c.InitialBackoff:
		return errors.Join(ErrInvalidRetryConfig, errors.New("backoff bounds are inverted or negative"))
	case c.BackoffFactor < 1.0:
		return errors.Join(ErrInvalidRetryConfig, errors.New("backoff factor must be at least 1"))
	case c.JitterFactor < 0 || c.JitterFactor > 1:
		return errors.Join(ErrInvalidRetryConfig, errors.New("jitter factor must be within [0, 1]"))
	}
	return nil
}

// generateWithRetry calls gen until it succeeds, fails with a
// non-retryable error, or runs out of attempts.
//
// Outputs:
//
//	llm.Generation - The successful generation.
//	int - Attempts made.
//	error - The last generation error or the context error.
func generateWithRetry(ctx context.Context, cfg RetryConfig, gen llm.Generator, prompt string, maxTokens int) (llm.Generation, int, error) {
	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return llm.Generation{}, attempt - 1, err
		}

		g, err := gen.Generate(ctx, prompt, maxTokens)
		if err == nil {
			return g, attempt, nil
		}
		lastErr = err
		if !llm.IsRetryable(err) || attempt == cfg.MaxAttempts {
			return llm.Generation{}, attempt, err
		}

		t := time.NewTimer(jittered(backoff, cfg.JitterFactor))
		select {
		case <-ctx.Done():
			t.Stop()
			return llm.Generation{}, attempt, ctx.Err()
		case <-t.C:
		}
		backoff = min(time.Duration(float64(backoff)*cfg.BackoffFactor), cfg.MaxBackoff)
	}
	return llm.Generation{}, cfg.MaxAttempts, lastErr
}

// jittered spreads base over [base*(1-f), base*(1+f)].
func jittered(base time.Duration, f float64) time.Duration {
	if f <= 0 || base <= 0 {
		return base
	}
	return time.Duration(float64(base) * (1 + (rand.Float64()*2-1)*f))
}
