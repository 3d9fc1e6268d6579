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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the report endpoints on rg.
//
// Endpoints:
//
//	GET /v1/curve - Saturation curve and saturation budget
//	GET /v1/stability - Per-budget stability reports and gate result
//	GET /v1/cliff - Ranked cliff candidates with endpoint verification
//	GET /v1/cliff/transitions - Problems that flip from wrong to right
//	GET /v1/taxonomy - Error taxonomy per budget
//	GET /v1/persistence - Errors persisting across budgets
//	GET /v1/structure/verification - Verification fraction per budget
//	GET /v1/structure/profile - Phase token profile per budget
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.GET("/curve", handlers.HandleCurve)
	rg.GET("/stability", handlers.HandleStability)

	cl := rg.Group("/cliff")
	{
		cl.GET("", handlers.HandleCliff)
		cl.GET("/transitions", handlers.HandleTransitions)
	}

	rg.GET("/taxonomy", handlers.HandleTaxonomy)
	rg.GET("/persistence", handlers.HandlePersistence)

	st := rg.Group("/structure")
	{
		st.GET("/verification", handlers.HandleVerification)
		st.GET("/profile", handlers.HandleProfile)
	}
}
