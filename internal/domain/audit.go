package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditToolCall  AuditEventType = "tool_call"
	AuditJobStart  AuditEventType = "job_start"
	AuditJobKill   AuditEventType = "job_kill"
	AuditFileWrite AuditEventType = "file_write"
)

// AuditEvent represents a single auditable action.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	Tool      string            `json:"tool,omitempty"`
	Resource  string            `json:"resource,omitempty"` // command, job id, path or URL
	Outcome   string            `json:"outcome,omitempty"`  // "ok" or "error"
	Detail    map[string]string `json:"detail,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
