// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit rejects requests with 429 once the shared token bucket is empty.
//
// A nil limiter disables the check. The bucket is process-wide, not per
// client: scoring runs a full-graph inference per call and the limit
// protects the CPU rather than enforcing fairness.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// NewLimiter builds a limiter for maxRPS requests per second with an
// equal burst. Returns nil when maxRPS <= 0.
func NewLimiter(maxRPS int) *rate.Limiter {
	if maxRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(maxRPS), maxRPS)
}
