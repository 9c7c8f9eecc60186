package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/tracer"
)

// SearchBackend runs a metasearch query.
type SearchBackend interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchTool searches the web and package repositories.
type SearchTool struct {
	backend SearchBackend
	logger  *slog.Logger
}

func NewSearchTool(backend SearchBackend, logger *slog.Logger) *SearchTool {
	return &SearchTool{backend: backend, logger: logger}
}

func (t *SearchTool) Name() string { return "nu.search" }
func (t *SearchTool) Description() string {
	return "Search web, package repositories and code using a SearXNG metasearch engine. " +
		"Use category for a broad scope (general, packages, cargo, it, repos, code, news, science) " +
		"or engines for specific engines (e.g. \"npm,pypi\")."
}

func (t *SearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "Search query"
				},
				"category": {
					"type": "string",
					"description": "Search category (default: general)"
				},
				"limit": {
					"type": "integer",
					"minimum": 1,
					"maximum": 100,
					"description": "Maximum results to return (default: 10)"
				},
				"engines": {
					"type": "string",
					"description": "Comma-separated engine names"
				}
			},
			"required": ["query"]
		}`),
	}
}

type searchParams struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
	Engines  string `json:"engines"`
}

func (t *SearchTool) AuditResource(params json.RawMessage) string {
	return jsonField(params, "query")
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.nu.search", t.logger, params,
		func(ctx context.Context, span trace.Span, p searchParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			if p.Limit == 0 {
				p.Limit = 10
			}
			if err := ValidateRange("limit", p.Limit, 1, 100); err != nil {
				return nil, err
			}
			if p.Category == "" {
				p.Category = "general"
			}
			span.SetAttributes(
				tracer.StringAttr("search.category", p.Category),
				tracer.IntAttr("search.limit", p.Limit),
			)

			resp, err := t.backend.Search(ctx, SearchRequest{
				Query:    p.Query,
				Category: p.Category,
				Engines:  p.Engines,
				Limit:    p.Limit,
			})
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("search.returned", resp.Returned))
			return FormatSearchResponse(resp, p.Category), nil
		},
	)
}

// FormatSearchResponse renders results as numbered plain text.
func FormatSearchResponse(r *SearchResponse, category string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %q | Category: %s | Found: %d results | Showing: %d\n\n", r.Query, category, r.Total, r.Returned)

	for i, item := range r.Results {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, item.Title)
		fmt.Fprintf(&b, "    URL: %s\n", item.URL)
		fmt.Fprintf(&b, "    Engine: %s\n", item.Engine)
		if item.Content != "" {
			fmt.Fprintf(&b, "    Content: %s\n", item.Content)
		}
		b.WriteByte('\n')
	}

	if len(r.Answers) > 0 {
		b.WriteString("** Direct Answers:\n")
		for _, a := range r.Answers {
			fmt.Fprintf(&b, "    %s\n", a)
		}
		b.WriteByte('\n')
	}
	if len(r.Infoboxes) > 0 {
		b.WriteString("** Infoboxes:\n")
		for _, info := range r.Infoboxes {
			fmt.Fprintf(&b, "    %s\n", info)
		}
		b.WriteByte('\n')
	}
	if len(r.Suggestions) > 0 {
		b.WriteString("** Suggestions:\n")
		for _, s := range r.Suggestions {
			fmt.Fprintf(&b, "    - %s\n", s)
		}
	}
	return b.String()
}
