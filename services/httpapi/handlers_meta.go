// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleHealth serves GET /api/health: a best-effort backend reachability
// probe via list_models, plus the current template count. A backend
// failure degrades the reported status but never fails the request —
// spec.md §6 only promises the shape, not a hard dependency on the
// backend being up.
func (s *Server) handleHealth(c *gin.Context) {
	_, err := s.client.ListModels(c.Request.Context())
	backendUp := err == nil

	status := "ok"
	if !backendUp {
		status = "degraded"
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Backend:   backendUp,
		Version:   s.version,
		Templates: len(s.templates.List()),
	})
}

// handleModels serves GET /api/models. A backend failure here is a
// standalone-call Backend error, which spec.md §7 maps to HTTP 502.
func (s *Server) handleModels(c *gin.Context) {
	models, err := s.client.ListModels(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models)
}
