// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides Gin middleware shared by the MuleHunter services.
//
// # Internal Key Authentication
//
// Service-to-service routes (the analytics pipeline posting results back
// to the backend, the backend serving enriched nodes) are guarded by a
// shared key sent in the X-Internal-API-Key header. Validation is delegated
// to an extensions.AuthProvider so local runs can use NopAuthProvider.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
const authInfoKey = "mulehunter_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated caller info in the Gin context.
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated caller info from the Gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: Caller info, or nil if not authenticated
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// InternalKeyMiddleware creates a Gin middleware that checks the internal key.
//
// # Description
//
// Reads the X-Internal-API-Key header, validates it with the provider,
// and stores the resulting AuthInfo for downstream handlers. Any failure
// aborts with 403 {"error": "Forbidden"}.
//
// # Inputs
//
//   - provider: AuthProvider to validate keys. Must not be nil.
//
// # Examples
//
//	internal := router.Group("/api/visual")
//	internal.Use(middleware.InternalKeyMiddleware(opts.AuthProvider))
//
// # Limitations
//
//   - Single shared key, no per-caller identity
//   - Validates on every request
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func InternalKeyMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractInternalKey(c)

		authInfo, err := provider.Validate(c.Request.Context(), key)
		if err != nil {
			slog.Warn("Rejected internal request",
				"path", c.FullPath(),
				"client_ip", c.ClientIP(),
				"error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Forbidden",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated caller holds at
// least one of roles. It must run after InternalKeyMiddleware.
//
// # Examples
//
//	internal.Use(
//	    middleware.InternalKeyMiddleware(opts.AuthProvider),
//	    middleware.RequireRole(extensions.RoleInternal, extensions.RoleAdmin),
//	)
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		for _, role := range roles {
			if info.HasRole(role) {
				c.Next()
				return
			}
		}
		userID := ""
		if info != nil {
			userID = info.UserID
		}
		slog.Warn("Caller lacks required role",
			"path", c.FullPath(),
			"user_id", userID,
			"required", roles)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Forbidden",
		})
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractInternalKey returns the trimmed internal key header, or "".
func extractInternalKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(extensions.InternalAPIKeyHeader))
}
