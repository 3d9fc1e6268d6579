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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/services/study/api"
)

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		addr := a.cfg.Server.Addr
		if addrFlag != "" {
			addr = addrFlag
		}
		gin.SetMode(gin.ReleaseMode)
		return api.Serve(ctx, addr, a.router(), a.log)
	})(cmd, args)
}

// router builds the report API over the app's stores.
func (a *app) router() *gin.Engine {
	handlers := api.NewHandlers(a.samples, a.workflow, api.Settings{
		StabilityThreshold: a.cfg.Analysis.StabilityThreshold,
		CliffTopK:          a.cfg.Analysis.CliffTopK,
		SaturationEpsilon:  a.cfg.Analysis.SaturationEpsilon,
		CliffSweep:         a.cfg.Budgets.Cliff,
	}, a.log)
	return api.NewRouter(handlers, a.log)
}
