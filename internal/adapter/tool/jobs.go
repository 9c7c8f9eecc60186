package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/usecase/process"
)

// JobsTool lists tracked background jobs.
type JobsTool struct {
	registry *process.Registry
	logger   *slog.Logger
}

func NewJobsTool(registry *process.Registry, logger *slog.Logger) *JobsTool {
	return &JobsTool{registry: registry, logger: logger}
}

func (t *JobsTool) Name() string { return "nu.jobs" }
func (t *JobsTool) Description() string {
	return "List background jobs with their status, oldest first."
}

func (t *JobsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

type jobsParams struct{}

func (t *JobsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.nu.jobs", t.logger, params,
		func(_ context.Context, _ trace.Span, _ jobsParams) (any, error) {
			jobs := t.registry.List()
			if len(jobs) == 0 {
				return "No background jobs.", nil
			}
			var b strings.Builder
			for _, j := range jobs {
				exit := "-"
				if j.ExitCode != nil {
					exit = fmt.Sprintf("%d", *j.ExitCode)
				}
				fmt.Fprintf(&b, "%s  %-9s  exit=%s  %ds  %s\n", j.ID, j.Status, exit, j.ElapsedSeconds, j.Command)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	)
}
