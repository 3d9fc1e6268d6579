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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Sweeps
// =============================================================================

var (
	// sweepOutcomes counts finished sweep jobs.
	// Labels: outcome (recorded, skipped, failed, duplicate)
	sweepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budgetcliff",
		Subsystem: "sweep",
		Name:      "jobs_total",
		Help:      "Total sweep jobs by outcome",
	}, []string{"outcome"})

	// generationDuration observes backend latency per successful generation.
	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "budgetcliff",
		Subsystem: "sweep",
		Name:      "generation_duration_seconds",
		Help:      "Backend generation latency",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func recordOutcome(outcome string) {
	sweepOutcomes.WithLabelValues(outcome).Inc()
}

func observeGeneration(d time.Duration) {
	generationDuration.Observe(d.Seconds())
}
