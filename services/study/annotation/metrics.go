// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the annotation instruments. They are created from the global
// meter on first use, so they report through whatever provider telemetry.Init
// installs and are no-ops otherwise.
type metrics struct {
	// tasksExported counts tasks created by export, by budget.
	tasksExported metric.Int64Counter

	// rowsImported counts imported rows by outcome
	// (labeled, updated, unchanged, rejected).
	rowsImported metric.Int64Counter
}

var loadMetrics = sync.OnceValues(func() (*metrics, error) {
	return newMetrics(otel.Meter("github.com/AleutianAI/budgetcliff/services/study/annotation"))
})

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.tasksExported, err = meter.Int64Counter(
		"budgetcliff_annotation_tasks_exported",
		metric.WithDescription("Total annotation tasks created"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tasks_exported: %w", err)
	}

	m.rowsImported, err = meter.Int64Counter(
		"budgetcliff_annotation_rows_imported",
		metric.WithDescription("Total annotation rows imported by outcome"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rows_imported: %w", err)
	}
	return m, nil
}

func recordExport(ctx context.Context, budget, created int) {
	m, err := loadMetrics()
	if err != nil || created == 0 {
		return
	}
	m.tasksExported.Add(ctx, int64(created), metric.WithAttributes(attribute.Int("budget", budget)))
}

func recordImport(ctx context.Context, outcome string, n int) {
	m, err := loadMetrics()
	if err != nil || n == 0 {
		return
	}
	m.rowsImported.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}
