package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"nu-mcp/internal/domain"
)

// auditSubject is implemented by tools that can name what a call acts on
// (a command, a job id, a path or a URL).
type auditSubject interface {
	AuditResource(params json.RawMessage) string
}

// AuditedTool records every call of the wrapped tool in the audit log.
type AuditedTool struct {
	inner  domain.Tool
	audit  domain.AuditLogger
	logger *slog.Logger
}

// WithAudit wraps t so each Execute writes one tool_call event.
func WithAudit(t domain.Tool, audit domain.AuditLogger, logger *slog.Logger) domain.Tool {
	return &AuditedTool{inner: t, audit: audit, logger: logger}
}

func (a *AuditedTool) Name() string              { return a.inner.Name() }
func (a *AuditedTool) Description() string       { return a.inner.Description() }
func (a *AuditedTool) Schema() domain.ToolSchema { return a.inner.Schema() }

func (a *AuditedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	res, err := a.inner.Execute(ctx, params)

	event := domain.AuditEvent{
		Type:    domain.AuditToolCall,
		Tool:    a.inner.Name(),
		Outcome: "ok",
	}
	if s, ok := a.subject(); ok {
		event.Resource = s.AuditResource(params)
	}
	switch {
	case err != nil:
		event.Outcome = "error"
		event.Detail = map[string]string{"error": err.Error()}
	case res != nil && res.IsError:
		event.Outcome = "error"
		if res.Code != "" {
			event.Detail = map[string]string{"code": res.Code}
		}
	}

	if aerr := a.audit.Log(ctx, event); aerr != nil {
		a.logger.Warn("audit write failed", "tool", event.Tool, "error", aerr)
	}
	return res, err
}

// subject finds an auditSubject through a schema validation wrapper.
func (a *AuditedTool) subject() (auditSubject, bool) {
	t := a.inner
	if sv, ok := t.(*SchemaValidatingTool); ok {
		t = sv.inner
	}
	s, ok := t.(auditSubject)
	return s, ok
}

// recordAudit writes event when an audit log is configured. Failures are
// logged and never fail the tool call.
func recordAudit(ctx context.Context, audit domain.AuditLogger, logger *slog.Logger, event domain.AuditEvent) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event); err != nil {
		logger.Warn("audit write failed", "type", event.Type, "error", err)
	}
}

// jsonField extracts a top-level string field for audit resources.
func jsonField(params json.RawMessage, key string) string {
	var m map[string]any
	if err := json.Unmarshal(params, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
