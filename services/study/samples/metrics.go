// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package samples

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Sample Store
// =============================================================================

var (
	// samplesRecorded counts samples written to the store.
	// Labels: budget, correct (true, false)
	samplesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budgetcliff",
		Subsystem: "samples",
		Name:      "recorded_total",
		Help:      "Total samples recorded",
	}, []string{"budget", "correct"})

	// samplesRejected counts writes the store refused.
	// Labels: reason (duplicate, invalid)
	samplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budgetcliff",
		Subsystem: "samples",
		Name:      "rejected_total",
		Help:      "Total sample writes rejected",
	}, []string{"reason"})
)

func recordStored(budget int, correct bool) {
	samplesRecorded.WithLabelValues(strconv.Itoa(budget), strconv.FormatBool(correct)).Inc()
}

func recordRejected(reason string) {
	samplesRejected.WithLabelValues(reason).Inc()
}
