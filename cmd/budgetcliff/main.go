// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command budgetcliff runs token-budget sweeps against a model and analyzes
// where its accuracy saturates, where it jumps, and why it still fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/stability"
)

// Exit codes. Gate failures get their own codes so scripts can tell an
// unstable study from a broken run.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUnstable   = 2
	exitIncomplete = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, stability.ErrUnstable):
		return exitUnstable
	case errors.Is(err, annotation.ErrIncompleteAnnotation):
		return exitIncomplete
	default:
		return exitFailure
	}
}
