package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/tracer"
	"nu-mcp/internal/security"
)

// editMarker is how edit snippets mark unchanged regions.
const editMarker = "... existing code ..."

var conversationalPatterns = []string{
	"here is the",
	"i've updated",
	"i have updated",
	"the code has been",
	"here's the",
	"below is the",
	"the updated code",
	"sure, here",
	"here you go",
}

// ApplyTool merges a partial edit into a file through an apply model.
type ApplyTool struct {
	backend ApplyBackend
	sandbox *security.Sandbox // nil = any absolute path
	audit   domain.AuditLogger
	logger  *slog.Logger
}

// NewApplyTool creates the nu.apply tool. sandbox and audit may be nil.
func NewApplyTool(backend ApplyBackend, sandbox *security.Sandbox, audit domain.AuditLogger, logger *slog.Logger) *ApplyTool {
	return &ApplyTool{backend: backend, sandbox: sandbox, audit: audit, logger: logger}
}

func (t *ApplyTool) Name() string { return "nu.apply" }
func (t *ApplyTool) Description() string {
	return "Edit a file using a partial code snippet. Use \"// ... existing code ...\" to represent " +
		"unchanged code blocks and include just enough surrounding context to locate each edit."
}

func (t *ApplyTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Absolute path of the file to edit"
				},
				"instructions": {
					"type": "string",
					"description": "One sentence describing the edit"
				},
				"code_edit": {
					"type": "string",
					"description": "The changed code with '// ... existing code ...' markers"
				}
			},
			"required": ["path", "instructions", "code_edit"]
		}`),
	}
}

type applyParams struct {
	Path         string `json:"path"`
	Instructions string `json:"instructions"`
	CodeEdit     string `json:"code_edit"`
}

func (t *ApplyTool) AuditResource(params json.RawMessage) string {
	return jsonField(params, "path")
}

func (t *ApplyTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.nu.apply", t.logger, params,
		func(ctx context.Context, span trace.Span, p applyParams) (any, error) {
			if err := ValidateAll(
				RequireField("path", p.Path),
				RequireField("instructions", p.Instructions),
				RequireField("code_edit", p.CodeEdit),
				ValidateAbsPath("path", p.Path),
			); err != nil {
				return nil, err
			}
			path := p.Path
			if t.sandbox != nil {
				resolved, err := t.sandbox.ValidatePath(path)
				if err != nil {
					return nil, err
				}
				path = resolved
			}
			span.SetAttributes(tracer.StringAttr("apply.path", path))

			msg, err := t.apply(ctx, path, p)
			t.recordWrite(ctx, path, err)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Path: %s\nStatus: %s\n%s", p.Path, "applied", msg), nil
		},
	)
}

func (t *ApplyTool) apply(ctx context.Context, path string, p applyParams) (string, error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return "", domain.NewSubSystemError("apply", "ApplyTool.read", domain.ErrInvalidInput, err.Error())
	}

	merged, err := t.backend.Apply(ctx, p.Instructions, string(original), p.CodeEdit)
	if err != nil {
		return "", err
	}

	result, err := SanitizeApplyResponse(merged, len(original))
	if err != nil {
		return "", err
	}
	if len(original) > 500 && !strings.Contains(result, editMarker) {
		t.logger.Warn("apply result has no existing-code marker", "path", path)
	}

	if err := writeWithBackup(path, result); err != nil {
		return "", err
	}
	t.logger.Info("applied edit", "path", path, "before", len(original), "after", len(result))
	return fmt.Sprintf("Code edit applied to %s", p.Path), nil
}

func (t *ApplyTool) recordWrite(ctx context.Context, path string, err error) {
	event := domain.AuditEvent{Type: domain.AuditFileWrite, Tool: t.Name(), Resource: path, Outcome: "ok"}
	if err != nil {
		event.Outcome = "error"
		event.Detail = map[string]string{"error": err.Error()}
	}
	recordAudit(ctx, t.audit, t.logger, event)
}

// SanitizeApplyResponse turns a raw model reply into file contents,
// rejecting replies that would corrupt the file.
func SanitizeApplyResponse(response string, originalLen int) (string, error) {
	content := strings.TrimSpace(response)
	if content == "" {
		return "", rejectf("API returned empty response")
	}

	if strings.Contains(content, "```") {
		content = largestFencedBlock(content)
	}
	content = strings.TrimSpace(content)

	if content == "" {
		return "", rejectf("sanitized response is empty, refusing to overwrite file")
	}
	if isConversational(content) {
		preview := []rune(content)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return "", rejectf("model returned conversational response instead of code. Response: %s", string(preview))
	}
	if len(content) < originalLen/10 {
		return "", rejectf("truncation guard: the resulting file is too small (%d chars vs %d original). "+
			"If this is a partial edit, you MUST include '// %s' markers to indicate skipped sections. "+
			"If you intended a full rewrite, ensure the content is complete.", len(content), originalLen, editMarker)
	}
	return content, nil
}

func rejectf(format string, args ...any) error {
	return domain.NewSubSystemError("apply", "SanitizeApplyResponse", domain.ErrApplyRejected, fmt.Sprintf(format, args...))
}

// largestFencedBlock returns the biggest ``` fenced block, fence lines
// excluded. Without a complete block it returns s unchanged.
func largestFencedBlock(s string) string {
	var (
		best    string
		current strings.Builder
		inBlock bool
	)
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				if block := current.String(); len(block) > len(best) {
					best = block
				}
				current.Reset()
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			current.WriteString(line)
			current.WriteByte('\n')
		}
	}
	if best == "" {
		return s
	}
	return best
}

func isConversational(content string) bool {
	lower := strings.ToLower(content)
	hasPattern := false
	for _, p := range conversationalPatterns {
		if strings.Contains(lower, p) {
			hasPattern = true
			break
		}
	}
	if !hasPattern {
		return false
	}
	if len(content) < 500 {
		return true
	}
	hasCode := strings.ContainsAny(content, "{}") ||
		strings.Contains(content, "fn ") ||
		strings.Contains(content, "function") ||
		strings.Contains(content, "return") ||
		strings.Contains(content, "// "+editMarker) ||
		strings.Contains(content, "-- "+editMarker)
	return !hasCode && len(content) < 2000
}

// writeWithBackup copies path to path.bak, writes data, then drops the
// backup. A failed write leaves the backup in place and names it.
func writeWithBackup(path, data string) error {
	info, err := os.Stat(path)
	if err != nil {
		return domain.NewDomainError("writeWithBackup", domain.ErrApplyWrite, err.Error())
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return domain.NewDomainError("writeWithBackup", domain.ErrApplyWrite, err.Error())
	}

	backup := path + ".bak"
	if err := os.WriteFile(backup, original, info.Mode().Perm()); err != nil {
		return domain.NewDomainError("writeWithBackup", domain.ErrApplyWrite,
			fmt.Sprintf("failed to create backup at %s: %v", backup, err))
	}
	if err := os.WriteFile(path, []byte(data), info.Mode().Perm()); err != nil {
		return domain.NewDomainError("writeWithBackup", domain.ErrApplyWrite,
			fmt.Sprintf("failed to write file %s: %v. Backup available at: %s", path, err, backup))
	}
	_ = os.Remove(backup)
	return nil
}
