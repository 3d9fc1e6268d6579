// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves study reports as JSON over a read-only HTTP API.
//
// Every handler reads the sample store and task store fresh, so reports
// reflect samples recorded by a concurrently running sweep.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/cliff"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
	"github.com/AleutianAI/budgetcliff/services/study/stability"
)

// Settings are the analysis defaults used when a request does not override
// them.
type Settings struct {
	StabilityThreshold float64
	CliffTopK          int
	SaturationEpsilon  float64

	// CliffSweep is the planned fine-grained sweep. When empty the cliff is
	// located over every budget on the curve.
	CliffSweep []int
}

// SampleSource is the read side of the sample store.
type SampleSource interface {
	samples.Reader
	Count(ctx context.Context) (int, error)
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	samples  SampleSource
	workflow *annotation.Workflow
	settings Settings
	logger   *slog.Logger
}

// NewHandlers creates handlers over the given stores. workflow may be nil,
// in which case annotation endpoints answer 404.
func NewHandlers(sr SampleSource, workflow *annotation.Workflow, settings Settings, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.CliffTopK <= 0 {
		settings.CliffTopK = cliff.DefaultTopK
	}
	if settings.StabilityThreshold <= 0 {
		settings.StabilityThreshold = stability.DefaultThreshold
	}
	return &Handlers{samples: sr, workflow: workflow, settings: settings, logger: logger}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: code})
}

// loadSamples reads the samples a report needs. Budgets narrows the read
// when the request names them.
func (h *Handlers) loadSamples(c *gin.Context, logger *slog.Logger, f samples.Filter) ([]samples.Sample, bool) {
	ss, err := samples.Collect(c.Request.Context(), h.samples, f)
	if err != nil {
		logger.Error("Failed to read samples", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return nil, false
	}
	return ss, true
}

// parseBudgets reads a comma-separated budget list. Empty means none.
func parseBudgets(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		b, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || b <= 0 {
			return nil, errors.New("budgets must be positive integers, got " + strconv.Quote(p))
		}
		out = append(out, b)
	}
	return out, nil
}

// HandleHealth handles GET /health.
//
// Response:
//
//	200 OK: HealthResponse
//	503 Service Unavailable: the sample store cannot be read
func (h *Handlers) HandleHealth(c *gin.Context) {
	n, err := h.samples.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Version: ServiceVersion})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion, Samples: n})
}
