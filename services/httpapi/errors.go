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

// respondError translates err per the taxonomy in spec.md §7 and writes
// the matching HTTP status and body.
func respondError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case domain.IsDuplicate(err):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case domain.IsBusy(err):
		retryAfter := 1
		if busy, ok := err.(*domain.BusyError); ok && busy.RetryAfterSeconds > 0 {
			retryAfter = busy.RetryAfterSeconds
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusServiceUnavailable, retryAfterResponse{Error: err.Error(), RetryAfterSeconds: retryAfter})
	default:
		if _, ok := domain.IsInferenceError(err); ok {
			c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
