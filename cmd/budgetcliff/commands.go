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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	logLevel    string
	plainOutput bool
	jsonOutput  bool

	budgetsFlag     []int
	limitFlag       int
	concurrencyFlag int
	thresholdFlag   float64
	epsilonFlag     float64
	sweepFlag       []int
	wholeCurveFlag  bool
	topKFlag        int
	transitionsFlag bool
	budgetFlag      int
	forceFlag       bool
	suggestFlag     bool
	strictFlag      bool
	outFlag         string
	addrFlag        string

	rootCmd = &cobra.Command{
		Use:   "budgetcliff",
		Short: "Measure how accuracy responds to generation token budgets",
		Long: `budgetcliff sweeps a model over token budgets, records every
generation, and reports the saturation curve, variance stability, the
accuracy cliff, solution structure and a human-labeled error taxonomy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Data collection ---
	sweepCmd = &cobra.Command{
		Use:   "sweep [main|stochastic|cliff|all]...",
		Short: "Generate and record samples for one or more sweep phases",
		Long: `Runs each phase over the configured dataset. Samples already recorded
are skipped, so an interrupted sweep resumes where it stopped.`,
		ValidArgs: []string{phaseMain, phaseStochastic, phaseCliff, phaseAll},
		Args:      cobra.OnlyValidArgs,
		RunE:      runSweepCommand, // Defined in cmd_sweep.go
	}

	logCmd = &cobra.Command{
		Use:   "log",
		Short: "Move recorded samples in and out as JSONL",
	}
	logExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write recorded samples as JSONL to stdout or --out",
		Args:  cobra.NoArgs,
		RunE:  runLogExport, // Defined in cmd_log.go
	}
	logImportCmd = &cobra.Command{
		Use:   "import [file.jsonl]...",
		Short: "Record samples from JSONL logs, skipping keys already present",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLogImport, // Defined in cmd_log.go
	}

	// --- Analysis ---
	curveCmd = &cobra.Command{
		Use:   "curve",
		Short: "Print accuracy and mean tokens per budget",
		Args:  cobra.NoArgs,
		RunE:  runCurve, // Defined in cmd_analyze.go
	}
	stabilityCmd = &cobra.Command{
		Use:   "stability",
		Short: "Check that accuracy is stable across repeated passes",
		Long: `Prints the stability report per budget and exits with status 2 when any
budget is unstable or has fewer than two passes.`,
		Args: cobra.NoArgs,
		RunE: runStability, // Defined in cmd_analyze.go
	}
	cliffCmd = &cobra.Command{
		Use:   "cliff",
		Short: "Rank adjacent budget intervals by accuracy gain per token",
		Args:  cobra.NoArgs,
		RunE:  runCliff, // Defined in cmd_analyze.go
	}
	structureCmd = &cobra.Command{
		Use:   "structure",
		Short: "Profile solution phases, steps and verification per budget",
		Args:  cobra.NoArgs,
		RunE:  runStructure, // Defined in cmd_analyze.go
	}

	// --- Annotation ---
	annotateCmd = &cobra.Command{
		Use:   "annotate",
		Short: "Export failures for labeling and aggregate the error taxonomy",
	}
	annotateExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Select failures per budget and write them as TSV for labeling",
		Args:  cobra.NoArgs,
		RunE:  runAnnotateExport, // Defined in cmd_annotate.go
	}
	annotateImportCmd = &cobra.Command{
		Use:   "import [file.tsv]...",
		Short: "Apply labels from edited TSV files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAnnotateImport, // Defined in cmd_annotate.go
	}
	annotateLabelCmd = &cobra.Command{
		Use:   "label",
		Short: "Label unlabeled tasks at a budget with an interactive form",
		Args:  cobra.NoArgs,
		RunE:  runAnnotateLabel, // Defined in cmd_label.go
	}
	annotateWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Re-import TSV files in the annotations directory whenever they are saved",
		Args:  cobra.NoArgs,
		RunE:  runAnnotateWatch, // Defined in cmd_watch.go
	}
	annotateAggregateCmd = &cobra.Command{
		Use:   "aggregate",
		Short: "Print the error taxonomy per budget",
		Long: `Prints error type counts and fractions over labeled tasks. Budgets with
unlabeled tasks are flagged as partial; with --strict they fail with exit
status 3.`,
		Args: cobra.NoArgs,
		RunE: runAnnotateAggregate, // Defined in cmd_annotate.go
	}
	annotatePersistenceCmd = &cobra.Command{
		Use:   "persistence",
		Short: "List problems that fail with the same answer at several budgets",
		Args:  cobra.NoArgs,
		RunE:  runAnnotatePersistence, // Defined in cmd_annotate.go
	}
	annotateSuggestCmd = &cobra.Command{
		Use:   "suggest",
		Short: "Show heuristic error suggestions for failures at a budget",
		Args:  cobra.NoArgs,
		RunE:  runAnnotateSuggest, // Defined in cmd_annotate.go
	}

	// --- Reporting ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only report API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Print every report and optionally write them as JSON",
		Args:  cobra.NoArgs,
		RunE:  runReport, // Defined in cmd_report.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./budgetcliff.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "disable colors and box drawing")

	sweepCmd.Flags().IntVar(&limitFlag, "limit", 0, "override study.limit (problems per pass)")
	sweepCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "override backend.concurrency")

	logExportCmd.Flags().StringVar(&outFlag, "out", "", "write to this file instead of stdout")
	logExportCmd.Flags().IntSliceVar(&budgetsFlag, "budgets", nil, "only these budgets")

	for _, c := range []*cobra.Command{curveCmd, stabilityCmd, structureCmd, annotateAggregateCmd, annotatePersistenceCmd} {
		c.Flags().IntSliceVar(&budgetsFlag, "budgets", nil, "only these budgets")
	}
	for _, c := range []*cobra.Command{curveCmd, stabilityCmd, cliffCmd, structureCmd, annotateAggregateCmd, annotatePersistenceCmd, annotateSuggestCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
	}
	curveCmd.Flags().Float64Var(&epsilonFlag, "epsilon", 0, "override analysis.saturation_epsilon")
	stabilityCmd.Flags().Float64Var(&thresholdFlag, "threshold", 0, "override analysis.stability_threshold")

	cliffCmd.Flags().IntSliceVar(&sweepFlag, "sweep", nil, "planned sweep budgets (default budgets.cliff)")
	cliffCmd.Flags().BoolVar(&wholeCurveFlag, "curve", false, "locate over every recorded budget instead of the sweep")
	cliffCmd.Flags().IntVar(&topKFlag, "top-k", 0, "override analysis.cliff_top_k")
	cliffCmd.Flags().BoolVar(&transitionsFlag, "transitions", false, "list problems that flip from wrong to right across the cliff")

	annotateExportCmd.Flags().IntVar(&budgetFlag, "budget", 0, "export one budget (default every budget in annotation.samples_per_budget)")
	annotateExportCmd.Flags().BoolVar(&forceFlag, "force", false, "overwrite existing TSV files")
	annotateExportCmd.Flags().BoolVar(&suggestFlag, "suggest", false, "add heuristic suggestion columns (also annotation.suggest)")
	annotateLabelCmd.Flags().IntVar(&budgetFlag, "budget", 0, "budget to label")
	_ = annotateLabelCmd.MarkFlagRequired("budget")
	annotateSuggestCmd.Flags().IntVar(&budgetFlag, "budget", 0, "budget to inspect")
	_ = annotateSuggestCmd.MarkFlagRequired("budget")
	annotateAggregateCmd.Flags().BoolVar(&strictFlag, "strict", false, "fail while any exported task is unlabeled")

	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "override server.addr")
	reportCmd.Flags().StringVar(&outFlag, "out", "", "also write the report as JSON to this file")

	logCmd.AddCommand(logExportCmd, logImportCmd)
	annotateCmd.AddCommand(
		annotateExportCmd,
		annotateImportCmd,
		annotateLabelCmd,
		annotateWatchCmd,
		annotateAggregateCmd,
		annotatePersistenceCmd,
		annotateSuggestCmd,
	)
	rootCmd.AddCommand(
		sweepCmd,
		logCmd,
		curveCmd,
		stabilityCmd,
		cliffCmd,
		structureCmd,
		annotateCmd,
		serveCmd,
		reportCmd,
	)
}
