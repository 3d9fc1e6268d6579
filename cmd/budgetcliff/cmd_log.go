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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

func runLogExport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		var w io.Writer = a.out.Writer()
		if outFlag != "" {
			f, err := os.Create(outFlag)
			if err != nil {
				return fmt.Errorf("create %s: %w", outFlag, err)
			}
			defer f.Close()
			w = f
		}
		n, err := a.exportLog(ctx, w, budgetsFlag)
		if err != nil {
			return err
		}
		a.log.Info("Exported sample log", "samples", n, "out", outFlag)
		return nil
	})(cmd, args)
}

func runLogImport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, paths []string) error {
		for _, path := range paths {
			if err := a.importLogFile(ctx, path); err != nil {
				return err
			}
		}
		return nil
	})(cmd, args)
}

func (a *app) exportLog(ctx context.Context, w io.Writer, budgets []int) (int, error) {
	n, err := samples.WriteLog(w, a.samples.Query(ctx, samples.Filter{Budgets: budgets}))
	if err != nil {
		return n, fmt.Errorf("export sample log: %w", err)
	}
	return n, nil
}

func (a *app) importLogFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := samples.ImportLog(ctx, a.samples, f)
	if err != nil {
		if res != nil && res.Recorded > 0 {
			a.out.Warning("%s: %d recorded before the failure", path, res.Recorded)
		}
		return fmt.Errorf("import %s: %w", path, err)
	}
	a.out.Success("%s: %d recorded, %d already present", path, res.Recorded, res.Duplicates)
	return nil
}
