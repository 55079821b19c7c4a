// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// InternalAPIKeyHeader is the header carrying the shared service key.
const InternalAPIKeyHeader = "X-Internal-API-Key"

// Roles granted by the built-in providers.
const (
	// RoleInternal is held by service-to-service callers.
	RoleInternal = "internal"

	// RoleAdmin is held by the local development identity.
	RoleAdmin = "admin"
)

// ErrUnauthorized is returned when credentials are missing or invalid.
//
// Implementations should wrap this error to provide context:
//
//	if key == "" {
//	    return nil, fmt.Errorf("missing api key: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful authentication.
//
// Required fields (always populated):
//   - UserID: Unique identifier for the caller
//
// Optional fields (may be empty):
//   - Roles: List of roles the caller holds
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated caller.
	// Service-to-service callers use "internal-service".
	UserID string

	// Roles contains the caller's role memberships.
	Roles []string
}

// HasRole checks if the caller has a specific role. A nil AuthInfo has
// no roles.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates credentials and returns caller identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the caller's identity.
	//
	// Returns ErrUnauthorized (or a wrapped form) if the token is rejected.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token and returns a local admin identity.
//
// Used for local development where internal endpoints are not exposed.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin},
	}, nil
}

// APIKeyProvider validates a single shared internal API key.
//
// # Description
//
// The backend and visual analytics services share one key. Callers send it
// in the X-Internal-API-Key header and the provider compares it in constant
// time.
//
// # Limitations
//
//   - An empty configured key rejects every request. A deployment that
//     forgets to set the key fails closed.
//   - No key rotation; restart the service to change the key.
//
// The key is held sealed in a memguard enclave and only decrypted into
// locked memory for the duration of a comparison.
//
// # Thread Safety
//
// Immutable after construction.
type APIKeyProvider struct {
	key *memguard.Enclave
}

// NewAPIKeyProvider creates a provider for the given shared key.
func NewAPIKeyProvider(key string) *APIKeyProvider {
	// NewEnclave wipes the slice it is given. An empty key yields a nil
	// enclave.
	return &APIKeyProvider{key: memguard.NewEnclave([]byte(key))}
}

// Validate compares token against the configured key.
func (p *APIKeyProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if p.key == nil {
		return nil, fmt.Errorf("internal api key not configured: %w", ErrUnauthorized)
	}
	if token == "" {
		return nil, fmt.Errorf("missing internal api key: %w", ErrUnauthorized)
	}
	buf, err := p.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open internal api key: %w", err)
	}
	defer buf.Destroy()
	if subtle.ConstantTimeCompare([]byte(token), buf.Bytes()) != 1 {
		return nil, fmt.Errorf("invalid internal api key: %w", ErrUnauthorized)
	}
	return &AuthInfo{
		UserID: "internal-service",
		Roles:  []string{RoleInternal},
	}, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*APIKeyProvider)(nil)
)
