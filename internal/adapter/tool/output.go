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

// OutputTool reads the buffered output of a background job.
type OutputTool struct {
	registry *process.Registry
	logger   *slog.Logger
}

// NewOutputTool creates the nu.output tool.
func NewOutputTool(registry *process.Registry, logger *slog.Logger) *OutputTool {
	return &OutputTool{registry: registry, logger: logger}
}

func (t *OutputTool) Name() string { return "nu.output" }
func (t *OutputTool) Description() string {
	return "Get output of a background job. Set block=true to wait until it finishes."
}

func (t *OutputTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {
					"type": "string",
					"description": "Job ID returned by nu.exec"
				},
				"block": {
					"type": "boolean",
					"description": "Wait for the job to finish before returning"
				}
			},
			"required": ["id"]
		}`),
	}
}

type outputParams struct {
	ID    string `json:"id"`
	Block bool   `json:"block"`
}

func (t *OutputTool) AuditResource(params json.RawMessage) string {
	return jsonField(params, "id")
}

func (t *OutputTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.nu.output", t.logger, params,
		func(ctx context.Context, span trace.Span, p outputParams) (any, error) {
			if err := RequireField("id", p.ID); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("job.id", p.ID), tracer.BoolAttr("job.block", p.Block))

			snap, err := t.registry.ReadOutput(ctx, p.ID, p.Block)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("job.status", string(snap.Status)))
			return FormatSnapshot(snap), nil
		},
	)
}

// FormatSnapshot renders a job snapshot the way nu.output reports it.
func FormatSnapshot(snap *domain.JobSnapshot) string {
	exit := "running"
	if snap.ExitCode != nil {
		exit = fmt.Sprintf("%d", *snap.ExitCode)
	}
	return fmt.Sprintf("ID: %s\nStatus: %s\nRunning for: %ds\nExit code: %s\n\n%s",
		snap.ID, snap.Status, snap.ElapsedSeconds, exit, snap.Output())
}
