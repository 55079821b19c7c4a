// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable security and compliance hooks
// shared by the MuleHunter services.
//
// Each service accepts a ServiceOptions value at construction time. The
// defaults are permissive no-ops so a single developer can run the whole
// stack locally. Production deployments inject an APIKeyProvider for the
// internal service-to-service endpoints and a recording AuditLogger for
// scoring decisions.
//
// # Extension Categories
//
//   - auth.go: Authentication (AuthProvider, APIKeyProvider)
//   - audit.go: Decision audit trail (AuditLogger, MemoryAuditLogger)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewAPIKeyProvider(os.Getenv("INTERNAL_API_KEY"))).
//	    WithAudit(extensions.NewMemoryAuditLogger(1000, slog.Default()))
//	svc, err := backend.New(cfg, &opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// All fields are optional; nil values are replaced with no-op defaults
// by Normalize().
type ServiceOptions struct {
	// AuthProvider validates the internal API key on protected routes.
	// Default: NopAuthProvider (accepts every caller)
	AuthProvider AuthProvider

	// AuditLogger records scoring and pipeline decisions.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// Normalize fills nil fields with their no-op defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
// Useful for fluent configuration.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
