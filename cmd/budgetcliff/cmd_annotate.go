// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/pkg/ux"
	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/dataset"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// ErrAnnotationFileExists is returned when an export would overwrite a TSV
// that may hold unimported edits.
var ErrAnnotationFileExists = errors.New("annotation file exists")

func runAnnotateExport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		budgets := a.cfg.Annotation.AnnotationBudgets()
		if budgetFlag > 0 {
			budgets = []int{budgetFlag}
		}
		_, err := a.annotateExport(ctx, budgets, suggestFlag || a.cfg.Annotation.Suggest, forceFlag)
		return err
	})(cmd, args)
}

func runAnnotateImport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, paths []string) error {
		for _, path := range paths {
			if _, err := a.importLabelsFile(ctx, path); err != nil {
				return err
			}
		}
		return nil
	})(cmd, args)
}

func runAnnotateAggregate(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.aggregate(ctx, budgetsFlag, strictFlag, jsonOutput)
	})(cmd, args)
}

func runAnnotatePersistence(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.persistence(ctx, budgetsFlag, jsonOutput)
	})(cmd, args)
}

func runAnnotateSuggest(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		return a.suggest(ctx, budgetFlag, jsonOutput)
	})(cmd, args)
}

// annotationPath is the interchange file for a budget.
func (a *app) annotationPath(budget int) string {
	return filepath.Join(a.cfg.Study.AnnotationsDir, fmt.Sprintf("budget_%d.tsv", budget))
}

// questions maps problem IDs to question text for annotator context. A
// dataset that cannot be read only costs the question column.
func (a *app) questions() map[string]string {
	problems, err := dataset.LoadFile(a.cfg.Study.Dataset)
	if err != nil {
		a.log.Warn("Questions unavailable for annotation context", "dataset", a.cfg.Study.Dataset, "error", err)
		return nil
	}
	out := make(map[string]string, len(problems))
	for _, p := range problems {
		out[p.ID] = p.Question
	}
	return out
}

// annotateExport creates tasks for each budget and writes one TSV per
// budget. Existing files are kept unless force is set, since they may hold
// edits that were never imported.
func (a *app) annotateExport(ctx context.Context, budgets []int, suggest, force bool) ([]string, error) {
	if len(budgets) == 0 {
		return nil, errors.New("no annotation budgets configured")
	}
	if err := os.MkdirAll(a.cfg.Study.AnnotationsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create annotations directory: %w", err)
	}

	questions := a.questions()
	var written []string
	for _, budget := range budgets {
		count, ok := a.cfg.Annotation.SamplesPerBudget[budget]
		if !ok {
			return written, fmt.Errorf("budget %d has no entry in annotation.samples_per_budget", budget)
		}
		path := a.annotationPath(budget)
		if _, err := os.Stat(path); err == nil && !force {
			return written, fmt.Errorf("%w: %s; import it first or pass --force", ErrAnnotationFileExists, path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return written, err
		}

		res, err := a.workflow.Export(ctx, budget, count, a.cfg.Study.Seed)
		if err != nil {
			return written, err
		}
		ss, err := samples.Collect(ctx, a.samples, samples.Filter{Budgets: []int{budget}, Correct: samples.Ptr(false)})
		if err != nil {
			return written, err
		}
		byRef := make(map[string]samples.Sample, len(ss))
		for _, s := range ss {
			byRef[s.Ref()] = s
		}

		if err := writeTSVFile(path, res.Tasks, annotation.SampleContext(byRef, questions, suggest)); err != nil {
			return written, err
		}
		written = append(written, path)
		a.out.Success("budget %d: %d tasks (%d new) from %d failures -> %s", budget, len(res.Tasks), res.Created, res.Available, path)
	}
	return written, nil
}

func writeTSVFile(path string, tasks []annotation.Task, extra *annotation.ContextColumns) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := annotation.WriteTSV(f, tasks, extra); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// importLabelsFile applies one edited TSV. A bad row rejects the file.
func (a *app) importLabelsFile(ctx context.Context, path string) (*annotation.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := annotation.ReadTSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	res, err := a.workflow.ImportLabels(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.out.Success("%s: %d labeled, %d drafts updated, %d unchanged", path, res.Labeled, res.Updated, res.Unchanged)
	if res.WithoutRecoverable > 0 {
		a.out.Warning("%s: %d labels have no recoverable judgement", path, res.WithoutRecoverable)
	}
	return res, nil
}

func (a *app) aggregate(ctx context.Context, budgets []int, strict, asJSON bool) error {
	var opts []annotation.AggregateOption
	if strict {
		opts = append(opts, annotation.WithStrict())
	}
	if len(budgets) > 0 {
		opts = append(opts, annotation.WithBudgets(budgets...))
	}
	tax, err := a.workflow.Aggregate(ctx, opts...)
	if err != nil {
		return err
	}
	if asJSON {
		return a.printJSON(tax)
	}
	a.printTaxonomy(tax)
	return nil
}

func (a *app) persistence(ctx context.Context, budgets []int, asJSON bool) error {
	ss, err := samples.Collect(ctx, a.samples, samples.Filter{Budgets: budgets, TrialIndex: samples.Ptr(0)})
	if err != nil {
		return err
	}
	report := annotation.Persistence(ss)
	if asJSON {
		return a.printJSON(report)
	}
	a.printPersistence(report)
	return nil
}

type suggestionRow struct {
	SampleRef string `json:"sample_ref"`
	annotation.Suggestion
}

// suggest prints heuristic labels for every failure at a budget. These are
// hints only; nothing is written to the task store.
func (a *app) suggest(ctx context.Context, budget int, asJSON bool) error {
	if budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", budget)
	}
	ss, err := samples.Collect(ctx, a.samples, samples.Filter{Budgets: []int{budget}, Correct: samples.Ptr(false)})
	if err != nil {
		return err
	}
	questions := a.questions()

	out := make([]suggestionRow, 0, len(ss))
	for _, s := range ss {
		out = append(out, suggestionRow{SampleRef: s.Ref(), Suggestion: annotation.Suggest(s, questions[s.ProblemID])})
	}
	if asJSON {
		return a.printJSON(out)
	}

	rows := make([][]string, 0, len(out))
	counts := make(map[annotation.ErrorType]int)
	for _, r := range out {
		counts[r.ErrorType]++
		rows = append(rows, []string{
			r.SampleRef,
			string(r.ErrorType),
			r.Location,
			string(r.Recoverable),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
		})
	}
	a.out.Table(ux.Table{
		Title:   fmt.Sprintf("Suggested labels at budget %d", budget),
		Headers: []string{"sample_ref", "error_type", "location", "recoverable", "confidence"},
		Rows:    rows,
		Empty:   "no failures at this budget",
	})
	for _, t := range annotation.ErrorTypes {
		if n := counts[t]; n > 0 {
			a.out.Info("%-13s %d (%s)", t, n, fmtPct(float64(n)/float64(len(out))))
		}
	}
	return nil
}
