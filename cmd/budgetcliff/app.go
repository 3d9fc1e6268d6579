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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/cmd/budgetcliff/config"
	"github.com/AleutianAI/budgetcliff/pkg/logging"
	"github.com/AleutianAI/budgetcliff/pkg/ux"
	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/api"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
	studydb "github.com/AleutianAI/budgetcliff/services/study/storage/badger"
	"github.com/AleutianAI/budgetcliff/services/study/telemetry"
)

// app is everything one command invocation needs: config, logging,
// telemetry and the study database with its stores.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	out      *ux.Printer
	db       *studydb.DB
	samples  *samples.Store
	workflow *annotation.Workflow

	// closers run in reverse order on Close.
	closers []func() error
}

// newApp builds the stores over an open database. The app takes ownership
// of db.
func newApp(cfg *config.Config, db *studydb.DB, log *slog.Logger, out *ux.Printer) (*app, error) {
	store, err := samples.NewStore(db, samples.WithLogger(log))
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	wf, err := annotation.NewWorkflow(store, annotation.NewTaskStore(db), annotation.WithWorkflowLogger(log))
	if err != nil {
		return nil, errors.Join(err, store.Close(), db.Close())
	}
	return &app{
		cfg:      cfg,
		log:      log,
		out:      out,
		db:       db,
		samples:  store,
		workflow: wf,
		closers:  []func() error{db.Close, store.Close},
	}, nil
}

// loadApp reads the config and opens everything a command needs.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "budgetcliff",
		JSON:    cfg.Logging.JSON,
		NoColor: plainOutput,
		Writer:  cmd.ErrOrStderr(),
	})
	log := logger.Slog()
	slog.SetDefault(log)

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = api.ServiceVersion
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.ServiceName != "" {
		tcfg.ServiceName = cfg.Telemetry.ServiceName
	}
	tcfg.Writer = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return nil, errors.Join(err, logger.Close())
	}

	dbCfg := studydb.DefaultConfig(cfg.Study.DataDir)
	dbCfg.Logger = log
	db, err := studydb.Open(dbCfg)
	if err != nil {
		return nil, errors.Join(err, shutdownWithTimeout(shutdown), logger.Close())
	}

	out := ux.AutoPrinter(cmd.OutOrStdout())
	if plainOutput {
		out = ux.NewPrinter(cmd.OutOrStdout(), true)
	}
	a, err := newApp(cfg, db, log, out)
	if err != nil {
		return nil, errors.Join(err, shutdownWithTimeout(shutdown), logger.Close())
	}
	// Closed after the database so final log lines and spans are kept.
	a.closers = append([]func() error{logger.Close, func() error { return shutdownWithTimeout(shutdown) }}, a.closers...)
	return a, nil
}

func shutdownWithTimeout(shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return shutdown(ctx)
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp adapts an app method to a cobra RunE.
func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return run(cmd.Context(), a, args)
	}
}

// collect reads samples, optionally narrowed to budgets.
func (a *app) collect(ctx context.Context, budgets []int) ([]samples.Sample, error) {
	ss, err := samples.Collect(ctx, a.samples, samples.Filter{Budgets: budgets})
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	return ss, nil
}

// printJSON writes v as indented JSON to the command output.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out.Writer())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
