package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit trail entries.
type AuditEventType string

const (
	AuditMemoryStore   AuditEventType = "memory_store"
	AuditMemoryRevise  AuditEventType = "memory_revise"
	AuditMemoryDelete  AuditEventType = "memory_delete"
	AuditMemoryClear   AuditEventType = "memory_clear"
	AuditMemoryExport  AuditEventType = "memory_export"
	AuditConsentGiven  AuditEventType = "consent_given"
	AuditConsentRevoke AuditEventType = "consent_revoke"
)

// AuditEvent is one line of the audit trail. Content never appears in it;
// only ids, sources and counts do.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	Actor     string            `json:"actor,omitempty"`    // app identity performing the action
	Resource  string            `json:"resource,omitempty"` // entry id or log path
	Outcome   string            `json:"outcome,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// AuditLogger writes audit events to a persistent trail.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
