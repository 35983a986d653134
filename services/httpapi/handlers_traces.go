// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aleutianai/debatearena/pkg/domain"
)

const defaultTracesLimit = 20

// handleListTraces serves GET /api/traces?limit=&offset=&minQuality=&search=.
func (s *Server) handleListTraces(c *gin.Context) {
	query := domain.ListQuery{
		Limit:      queryInt(c, "limit", defaultTracesLimit),
		Offset:     queryInt(c, "offset", 0),
		SearchText: c.Query("search"),
	}
	if raw := c.Query("minQuality"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			query.MinQuality = &n
		} else {
			respondError(c, domain.ValidationErrorf("minQuality must be an integer"))
			return
		}
	}

	result, err := s.traces.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleGetTrace serves GET /api/traces/:id.
func (s *Server) handleGetTrace(c *gin.Context) {
	id := c.Param("id")
	trace, err := s.traces.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if trace == nil {
		respondError(c, &domain.NotFoundError{Kind: "trace", ID: id})
		return
	}
	c.JSON(http.StatusOK, trace)
}

// handleRateTrace serves POST /api/traces/:id/rate.
func (s *Server) handleRateTrace(c *gin.Context) {
	id := c.Param("id")

	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ValidationErrorf("invalid rate request: %v", err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, domain.ValidationErrorf("invalid rate request: %v", err))
		return
	}

	if err := s.traces.Rate(c.Request.Context(), id, req.Rating); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
