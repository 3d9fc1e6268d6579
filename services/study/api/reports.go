// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/cliff"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
	"github.com/AleutianAI/budgetcliff/services/study/structure"
)

func queryFloat(c *gin.Context, name string, def float64) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		badRequest(c, "INVALID_"+strings.ToUpper(name), name+" must be a non-negative number")
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		badRequest(c, "INVALID_"+strings.ToUpper(name), name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func queryBudgets(c *gin.Context, name string) ([]int, bool) {
	budgets, err := parseBudgets(c.Query(name))
	if err != nil {
		badRequest(c, "INVALID_"+strings.ToUpper(name), err.Error())
		return nil, false
	}
	return budgets, true
}

// HandleCurve handles GET /v1/curve.
//
// Query Parameters:
//
//	budgets - Optional comma-separated budgets to include.
//	epsilon - Saturation threshold. Defaults to the configured value.
//
// Response:
//
//	200 OK: CurveResponse
func (h *Handlers) HandleCurve(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleCurve")

	budgets, ok := queryBudgets(c, "budgets")
	if !ok {
		return
	}
	eps, ok := queryFloat(c, "epsilon", h.settings.SaturationEpsilon)
	if !ok {
		return
	}
	ss, ok := h.loadSamples(c, logger, samples.Filter{Budgets: budgets})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, BuildCurve(ss, eps))
}

// HandleStability handles GET /v1/stability.
//
// Query Parameters:
//
//	budgets - Optional comma-separated budgets to include.
//	threshold - Std dev threshold. Defaults to the configured value.
//
// Response:
//
//	200 OK: StabilityResponse. Instability is reported in the body, not as
//	an error status.
func (h *Handlers) HandleStability(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleStability")

	budgets, ok := queryBudgets(c, "budgets")
	if !ok {
		return
	}
	threshold, ok := queryFloat(c, "threshold", h.settings.StabilityThreshold)
	if !ok {
		return
	}
	ss, ok := h.loadSamples(c, logger, samples.Filter{Budgets: budgets})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, BuildStability(ss, threshold, logger))
}

// HandleCliff handles GET /v1/cliff.
//
// Query Parameters:
//
//	sweep - Comma-separated planned budgets. Defaults to the configured
//	        cliff sweep, then to every budget on the curve.
//	top_k - Number of candidates. Defaults to the configured value.
//
// Response:
//
//	200 OK: CliffResponse
//	422 Unprocessable Entity: too few, unordered or missing budgets
func (h *Handlers) HandleCliff(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleCliff")

	sweep, ok := queryBudgets(c, "sweep")
	if !ok {
		return
	}
	if len(sweep) == 0 {
		sweep = h.settings.CliffSweep
	}
	topK, ok := queryInt(c, "top_k", h.settings.CliffTopK)
	if !ok {
		return
	}
	ss, ok := h.loadSamples(c, logger, samples.Filter{Budgets: sweep})
	if !ok {
		return
	}

	resp, err := BuildCliff(ss, sweep, topK)
	if err != nil {
		code := "CLIFF_FAILED"
		switch {
		case errors.Is(err, cliff.ErrInsufficientBudgets):
			code = "INSUFFICIENT_BUDGETS"
		case errors.Is(err, cliff.ErrMissingBudget):
			code = "MISSING_BUDGET"
		case errors.Is(err, cliff.ErrUnorderedBudgets):
			code = "UNORDERED_BUDGETS"
		}
		logger.Warn("Cliff location failed", "error", err)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleTransitions handles GET /v1/cliff/transitions.
//
// Query Parameters:
//
//	low, high - Required interval budgets.
//
// Response:
//
//	200 OK: TransitionsResponse
//	400 Bad Request: missing or invalid budgets
func (h *Handlers) HandleTransitions(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleTransitions")

	low, ok := queryInt(c, "low", 0)
	if !ok {
		return
	}
	high, ok := queryInt(c, "high", 0)
	if !ok {
		return
	}
	if low == 0 || high <= low {
		badRequest(c, "INVALID_INTERVAL", "low and high are required and high must exceed low")
		return
	}
	ss, ok := h.loadSamples(c, logger, samples.Filter{Budgets: []int{low, high}, TrialIndex: samples.Ptr(0)})
	if !ok {
		return
	}
	transitions := cliff.Transitions(ss, low, high)
	if transitions == nil {
		transitions = []cliff.Transition{}
	}
	c.JSON(http.StatusOK, TransitionsResponse{Low: low, High: high, Transitions: transitions})
}

// HandleTaxonomy handles GET /v1/taxonomy.
//
// Query Parameters:
//
//	budgets - Optional comma-separated budgets to include.
//	strict - When true, unlabeled tasks fail the request.
//
// Response:
//
//	200 OK: TaxonomyResponse, possibly with Partial set
//	404 Not Found: annotation is not configured
//	409 Conflict: strict mode and tasks remain unlabeled
func (h *Handlers) HandleTaxonomy(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleTaxonomy")

	if h.workflow == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "annotation is not configured", Code: "NO_ANNOTATION"})
		return
	}
	budgets, ok := queryBudgets(c, "budgets")
	if !ok {
		return
	}
	var opts []annotation.AggregateOption
	if len(budgets) > 0 {
		opts = append(opts, annotation.WithBudgets(budgets...))
	}
	if strict, _ := strconv.ParseBool(c.Query("strict")); strict {
		opts = append(opts, annotation.WithStrict())
	}

	tax, err := h.workflow.Aggregate(c.Request.Context(), opts...)
	if err != nil {
		if errors.Is(err, annotation.ErrIncompleteAnnotation) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "INCOMPLETE_ANNOTATION"})
			return
		}
		logger.Error("Aggregate failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, tax)
}

// HandlePersistence handles GET /v1/persistence.
func (h *Handlers) HandlePersistence(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandlePersistence")
	ss, ok := h.loadSamples(c, logger, samples.Filter{TrialIndex: samples.Ptr(0)})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, annotation.Persistence(ss))
}

// HandleVerification handles GET /v1/structure/verification.
func (h *Handlers) HandleVerification(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleVerification")
	budgets, ok := queryBudgets(c, "budgets")
	if !ok {
		return
	}
	ss, ok := h.loadSamples(c, logger, samples.Filter{Budgets: budgets})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, structure.VerificationFractions(ss))
}

// HandleProfile handles GET /v1/structure/profile.
func (h *Handlers) HandleProfile(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleProfile")
	budgets, ok := queryBudgets(c, "budgets")
	if !ok {
		return
	}
	ss, ok := h.loadSamples(c, logger, samples.Filter{Budgets: budgets})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, structure.Profile(ss))
}
