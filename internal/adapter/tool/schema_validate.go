package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"nu-mcp/internal/domain"
)

// SchemaValidatingTool checks call arguments against the tool's declared
// parameter schema before the tool sees them.
type SchemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t. Tools without a parameter schema are
// returned as is.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	url := "mem://tools/" + t.Name() + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%s: load parameter schema: %w", t.Name(), err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s: compile parameter schema: %w", t.Name(), err)
	}
	return &SchemaValidatingTool{inner: t, schema: compiled}, nil
}

func (s *SchemaValidatingTool) Name() string              { return s.inner.Name() }
func (s *SchemaValidatingTool) Description() string       { return s.inner.Description() }
func (s *SchemaValidatingTool) Schema() domain.ToolSchema { return s.inner.Schema() }

// Unwrap returns the validated tool.
func (s *SchemaValidatingTool) Unwrap() domain.Tool { return s.inner }

func (s *SchemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return rejectParams(fmt.Sprintf("invalid JSON arguments for %s: %v", s.Name(), err)), nil
	}
	if err := s.schema.Validate(doc); err != nil {
		return rejectParams(fmt.Sprintf("schema validation failed for %s: %s", s.Name(), describeViolations(err))), nil
	}
	return s.inner.Execute(ctx, params)
}

func rejectParams(msg string) *domain.ToolResult {
	return &domain.ToolResult{
		Content: msg,
		IsError: true,
		Code:    string(domain.CodeInvalidInput),
	}
}

// describeViolations flattens a validation error into "location: message"
// pairs, one per failing leaf.
func describeViolations(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	var parts []string
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		parts = append(parts, loc+": "+e.Error)
	}
	if len(parts) == 0 {
		return ve.Error()
	}
	return strings.Join(parts, "; ")
}
