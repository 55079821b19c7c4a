// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// AuditEvent represents a decision worth keeping a trail of.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "transaction.scored",
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       "system",
//	    Action:       "create",
//	    ResourceType: "transaction",
//	    ResourceID:   tx.ID,
//	    Outcome:      "blocked",
//	    Metadata: map[string]any{
//	        "risk_score": 0.91,
//	        "verdict":    "CRITICAL (MULE)",
//	    },
//	}
type AuditEvent struct {
	// EventType categorizes the event for filtering.
	// Format: "category.action" (e.g., "transaction.scored", "pipeline.run")
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	// Use "system" for automated actions.
	UserID string

	// Action describes what operation was attempted.
	Action string

	// ResourceType is the category of resource involved.
	// Examples: "transaction", "node", "model"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "failure", "flagged", "error"
	Outcome string

	// Metadata holds additional event-specific data.
	Metadata map[string]any
}

// AuditFilter defines criteria for querying audit events.
//
// All fields are optional - only non-zero values are used as filters.
// Multiple fields are combined with AND logic.
type AuditFilter struct {
	// EventTypes limits results to specific event types.
	EventTypes []string

	// UserID limits results to events from a specific caller.
	UserID string

	// StartTime is the earliest event timestamp to include (inclusive).
	StartTime time.Time

	// EndTime is the latest event timestamp to include (exclusive).
	EndTime time.Time

	// ResourceType limits results to a resource category.
	ResourceType string

	// ResourceID limits results to a specific resource.
	ResourceID string

	// Limit caps the number of returned events. Zero means no limit.
	Limit int
}

// Matches reports whether event satisfies every non-zero criterion.
func (f AuditFilter) Matches(event AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && f.UserID != event.UserID {
		return false
	}
	if !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !event.Timestamp.Before(f.EndTime) {
		return false
	}
	if f.ResourceType != "" && f.ResourceType != event.ResourceType {
		return false
	}
	if f.ResourceID != "" && f.ResourceID != event.ResourceID {
		return false
	}
	return true
}

// AuditLogger records decision events.
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	// Log records an event. Implementations set Timestamp if zero.
	Log(ctx context.Context, event AuditEvent) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush ensures all buffered events are persisted.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
//
// Thread-safe: This implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event without recording it.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query returns an empty slice (no events are stored).
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// MemoryAuditLogger keeps the most recent events in a bounded ring and
// mirrors each one to a structured logger.
//
// # Description
//
// Suited to the single-process deployment: the ring answers Query calls
// from the admin API while the slog mirror keeps a durable trail in the
// service log file.
//
// # Thread Safety
//
// Safe for concurrent use; a mutex guards the ring.
type MemoryAuditLogger struct {
	mu       sync.Mutex
	events   []AuditEvent
	next     int
	full     bool
	logger   *slog.Logger
	clockNow func() time.Time
}

// NewMemoryAuditLogger creates a logger retaining up to capacity events.
// A nil logger disables the slog mirror.
func NewMemoryAuditLogger(capacity int, logger *slog.Logger) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryAuditLogger{
		events:   make([]AuditEvent, capacity),
		logger:   logger,
		clockNow: func() time.Time { return time.Now().UTC() },
	}
}

// Log appends the event to the ring, evicting the oldest when full.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clockNow()
	}
	if event.UserID == "" {
		event.UserID = "system"
	}

	l.mu.Lock()
	l.events[l.next] = event
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("event_type", event.EventType),
			slog.String("user_id", event.UserID),
			slog.String("resource_type", event.ResourceType),
			slog.String("resource_id", event.ResourceID),
			slog.String("outcome", event.Outcome),
			slog.Any("metadata", event.Metadata),
		)
	}
	return nil
}

// Query returns matching events ordered by Timestamp descending.
func (l *MemoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	size := l.next
	if l.full {
		size = len(l.events)
	}
	snapshot := make([]AuditEvent, 0, size)
	for i := 0; i < size; i++ {
		snapshot = append(snapshot, l.events[i])
	}
	l.mu.Unlock()

	out := make([]AuditEvent, 0, len(snapshot))
	for _, e := range snapshot {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Flush is a no-op; events are held in memory.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
