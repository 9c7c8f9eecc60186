package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/tracer"
	"nu-mcp/internal/usecase/process"
)

// ExecTool runs a pipeline through the interpreter, blocking or in the background.
type ExecTool struct {
	executor *process.Executor
	audit    domain.AuditLogger
	logger   *slog.Logger
}

// NewExecTool creates the nu.exec tool. audit may be nil.
func NewExecTool(executor *process.Executor, audit domain.AuditLogger, logger *slog.Logger) *ExecTool {
	return &ExecTool{executor: executor, audit: audit, logger: logger}
}

func (t *ExecTool) Name() string { return "nu.exec" }
func (t *ExecTool) Description() string {
	return "Execute a Nushell pipeline. The working directory persists between blocking calls. " +
		"Set background=true to start a job and get an ID for nu.output and nu.kill."
}

func (t *ExecTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {
					"type": "string",
					"description": "Nushell pipeline to execute"
				},
				"env": {
					"type": "object",
					"additionalProperties": {"type": "string"},
					"description": "Extra environment variables"
				},
				"cwd": {
					"type": "string",
					"description": "Working directory; becomes the session directory"
				},
				"timeout": {
					"type": "integer",
					"description": "Timeout in seconds for blocking calls (default 60)"
				},
				"background": {
					"type": "boolean",
					"description": "Run as a background job and return its ID immediately"
				}
			},
			"required": ["command"]
		}`),
	}
}

type execParams struct {
	Command    string            `json:"command"`
	Env        map[string]string `json:"env"`
	Cwd        string            `json:"cwd"`
	Timeout    *int              `json:"timeout"`
	Background bool              `json:"background"`
}

func (t *ExecTool) AuditResource(params json.RawMessage) string {
	return jsonField(params, "command")
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.nu.exec", t.logger, params,
		func(ctx context.Context, span trace.Span, p execParams) (any, error) {
			if err := RequireField("command", p.Command); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.BoolAttr("exec.background", p.Background))

			req := domain.ExecRequest{
				Command:    p.Command,
				Env:        p.Env,
				Cwd:        p.Cwd,
				Timeout:    t.executor.ResolveTimeout(p.Timeout),
				Background: p.Background,
			}
			if p.Background {
				return t.background(ctx, span, req)
			}
			return t.blocking(ctx, span, req)
		},
	)
}

func (t *ExecTool) blocking(ctx context.Context, span trace.Span, req domain.ExecRequest) (any, error) {
	res, err := t.executor.ExecuteBlocking(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		tracer.IntAttr("exec.exit_code", res.ExitCode),
		tracer.Int64Attr("exec.elapsed_ms", res.ElapsedMs),
		tracer.BoolAttr("exec.timed_out", res.TimedOut),
	)
	return &domain.ToolResult{
		Content: FormatExecResult(res, req.Timeout),
		IsError: !res.Success,
	}, nil
}

func (t *ExecTool) background(ctx context.Context, span trace.Span, req domain.ExecRequest) (any, error) {
	res, err := t.executor.ExecuteBackground(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.StringAttr("job.id", res.ID))
	recordAudit(ctx, t.audit, t.logger, domain.AuditEvent{
		Type:     domain.AuditJobStart,
		Tool:     t.Name(),
		Resource: res.ID,
		Outcome:  "ok",
		Detail:   map[string]string{"command": req.Command},
	})
	return fmt.Sprintf("Background process started.\nID: %s\nStatus: %s\n%s", res.ID, res.Status, res.Message), nil
}

// FormatExecResult renders a blocking result the way nu.exec reports it.
func FormatExecResult(res *domain.ExecResult, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exit code: %d\nSuccess: %t\nTime: %dms\n", res.ExitCode, res.Success, res.ElapsedMs)
	if res.TimedOut {
		fmt.Fprintf(&b, "Timed out after %s\n", timeout)
	}
	b.WriteString("\n")
	b.WriteString(res.Output)
	return b.String()
}
