package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/tracer"
	"nu-mcp/internal/usecase/process"
)

// KillTool terminates a background job and forgets it.
type KillTool struct {
	registry *process.Registry
	audit    domain.AuditLogger
	logger   *slog.Logger
}

// NewKillTool creates the nu.kill tool. audit may be nil.
func NewKillTool(registry *process.Registry, audit domain.AuditLogger, logger *slog.Logger) *KillTool {
	return &KillTool{registry: registry, audit: audit, logger: logger}
}

func (t *KillTool) Name() string        { return "nu.kill" }
func (t *KillTool) Description() string { return "Kill a background job by ID." }

func (t *KillTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {
					"type": "string",
					"description": "Job ID returned by nu.exec"
				}
			},
			"required": ["id"]
		}`),
	}
}

type killParams struct {
	ID string `json:"id"`
}

func (t *KillTool) AuditResource(params json.RawMessage) string {
	return jsonField(params, "id")
}

func (t *KillTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.nu.kill", t.logger, params,
		func(ctx context.Context, span trace.Span, p killParams) (any, error) {
			if err := RequireField("id", p.ID); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("job.id", p.ID))

			res, err := t.registry.Kill(p.ID)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("job.kill_status", string(res.Status)))
			recordAudit(ctx, t.audit, t.logger, domain.AuditEvent{
				Type:     domain.AuditJobKill,
				Tool:     t.Name(),
				Resource: res.ID,
				Outcome:  string(res.Status),
				Detail:   map[string]string{"command": res.Command},
			})
			return fmt.Sprintf("ID: %s\nStatus: %s\nCommand: %s", res.ID, res.Status, res.Command), nil
		},
	)
}
