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
	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/cliff"
	"github.com/AleutianAI/budgetcliff/services/study/curve"
	"github.com/AleutianAI/budgetcliff/services/study/stability"
	"github.com/AleutianAI/budgetcliff/services/study/structure"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Samples int    `json:"samples"`
}

// CurveResponse is the response for GET /v1/curve.
type CurveResponse struct {
	Points []curve.Point `json:"points"`

	// SaturationBudget is absent when the curve has not flattened.
	SaturationBudget *int    `json:"saturation_budget,omitempty"`
	Epsilon          float64 `json:"epsilon"`
}

// StabilityResponse is the response for GET /v1/stability.
type StabilityResponse struct {
	Reports []stability.Report `json:"reports"`

	// Stable is true only when every budget is stable.
	Stable bool `json:"stable"`

	// Gate holds the failure message when Stable is false.
	Gate string `json:"gate,omitempty"`
}

// CliffResponse is the response for GET /v1/cliff.
type CliffResponse struct {
	Sweep  []int            `json:"sweep"`
	Report *cliff.Report    `json:"report"`
	Cliff  *cliff.Candidate `json:"cliff"`

	// Verification holds the verification fraction at each endpoint of the
	// top interval, side by side.
	Verification []structure.VerificationFraction `json:"verification,omitempty"`
}

// TransitionsResponse is the response for GET /v1/cliff/transitions.
type TransitionsResponse struct {
	Low         int                `json:"low"`
	High        int                `json:"high"`
	Transitions []cliff.Transition `json:"transitions"`
}

// TaxonomyResponse is the response for GET /v1/taxonomy.
type TaxonomyResponse = annotation.Taxonomy
