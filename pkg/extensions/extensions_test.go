// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
}

func TestServiceOptions_WithAuth(t *testing.T) {
	original := DefaultOptions()
	custom := NewAPIKeyProvider("secret")

	newOpts := original.WithAuth(custom)

	if newOpts.AuthProvider != custom {
		t.Error("WithAuth should set the custom AuthProvider")
	}
	if _, ok := original.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("Original options should be unchanged after WithAuth")
	}
	if newOpts.AuditLogger == nil {
		t.Error("WithAuth should preserve AuditLogger")
	}
}

func TestServiceOptions_Normalize(t *testing.T) {
	opts := ServiceOptions{}.Normalize()
	if opts.AuthProvider == nil || opts.AuditLogger == nil {
		t.Fatal("Normalize should fill nil fields")
	}

	custom := NewMemoryAuditLogger(10, nil)
	opts = ServiceOptions{AuditLogger: custom}.Normalize()
	if opts.AuditLogger != custom {
		t.Error("Normalize should keep non-nil fields")
	}
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestNopAuthProvider_Validate(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.HasRole("admin") {
		t.Error("nop provider should grant admin")
	}
}

func TestAuthInfo_HasRole(t *testing.T) {
	info := &AuthInfo{UserID: "svc", Roles: []string{RoleInternal}}
	if !info.HasRole(RoleInternal) {
		t.Error("expected internal role")
	}
	if info.HasRole(RoleAdmin) {
		t.Error("unexpected admin role")
	}
	var missing *AuthInfo
	if missing.HasRole(RoleInternal) {
		t.Error("nil AuthInfo should have no roles")
	}
}

func TestAPIKeyProvider_Validate(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		token      string
		wantErr    bool
	}{
		{"matching key", "s3cret", "s3cret", false},
		{"wrong key", "s3cret", "guess", true},
		{"prefix of key", "s3cret", "s3c", true},
		{"missing token", "s3cret", "", true},
		{"unset key rejects everything", "", "", true},
		{"unset key rejects any token", "", "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewAPIKeyProvider(tt.configured)
			info, err := p.Validate(context.Background(), tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("expected ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info.UserID != "internal-service" || !info.HasRole("internal") {
				t.Errorf("unexpected identity: %+v", info)
			}
		})
	}
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	l := &NopAuditLogger{}
	ctx := context.Background()
	if err := l.Log(ctx, AuditEvent{EventType: "x"}); err != nil {
		t.Fatal(err)
	}
	events, err := l.Query(ctx, AuditFilter{})
	if err != nil || len(events) != 0 {
		t.Fatalf("expected empty result, got %v, %v", events, err)
	}
}

func TestMemoryAuditLogger_RingAndOrdering(t *testing.T) {
	l := NewMemoryAuditLogger(3, nil)
	base := time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = l.Log(ctx, AuditEvent{
			EventType:  "transaction.scored",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			ResourceID: string(rune('a' + i)),
		})
	}

	events, err := l.Query(ctx, AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(events))
	}
	if events[0].ResourceID != "e" || events[2].ResourceID != "c" {
		t.Errorf("expected newest first (e..c), got %s..%s", events[0].ResourceID, events[2].ResourceID)
	}
	if events[0].UserID != "system" {
		t.Errorf("expected default user id, got %q", events[0].UserID)
	}
}

func TestAuditFilter_Matches(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	event := AuditEvent{
		EventType:    "transaction.scored",
		Timestamp:    ts,
		UserID:       "system",
		ResourceType: "transaction",
		ResourceID:   "tx-1",
	}

	tests := []struct {
		name   string
		filter AuditFilter
		want   bool
	}{
		{"empty filter", AuditFilter{}, true},
		{"event type hit", AuditFilter{EventTypes: []string{"pipeline.run", "transaction.scored"}}, true},
		{"event type miss", AuditFilter{EventTypes: []string{"pipeline.run"}}, false},
		{"start inclusive", AuditFilter{StartTime: ts}, true},
		{"end exclusive", AuditFilter{EndTime: ts}, false},
		{"resource miss", AuditFilter{ResourceID: "tx-2"}, false},
		{"user hit", AuditFilter{UserID: "system", ResourceType: "transaction"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryAuditLogger_Limit(t *testing.T) {
	l := NewMemoryAuditLogger(0, nil)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = l.Log(ctx, AuditEvent{EventType: "pipeline.run"})
	}
	events, _ := l.Query(ctx, AuditFilter{Limit: 4})
	if len(events) != 4 {
		t.Errorf("expected 4 events, got %d", len(events))
	}
}
