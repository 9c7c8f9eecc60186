// Package mcpserver exposes the registered tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"nu-mcp/internal/domain"
)

// DefaultInstructions describes the tool set to MCP clients.
const DefaultInstructions = "Nushell execution server with tools: nu.exec (run commands), " +
	"nu.output (read background job output), nu.kill (kill a background job), nu.jobs (list jobs), " +
	"nu.apply (fast code edits), nu.search (web/packages search), nu.fetch (fetch web content)."

// Info identifies the server to clients.
type Info struct {
	Name         string
	Version      string
	Instructions string
}

// Server adapts a tool registry to an mcp-go server.
type Server struct {
	mcp    *server.MCPServer
	tools  domain.ToolExecutor
	logger *slog.Logger
}

// New builds the MCP server and registers every tool the executor lists.
func New(info Info, tools domain.ToolExecutor, logger *slog.Logger) *Server {
	if info.Instructions == "" {
		info.Instructions = DefaultInstructions
	}
	s := &Server{
		mcp: server.NewMCPServer(info.Name, info.Version,
			server.WithToolCapabilities(false),
			server.WithInstructions(info.Instructions),
			server.WithRecovery(),
		),
		tools:  tools,
		logger: logger,
	}
	for _, schema := range tools.Schemas() {
		s.mcp.AddTool(mcp.NewToolWithRawSchema(schema.Name, schema.Description, schema.Parameters), s.handler(schema.Name))
	}
	return s
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is done or in reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(io.Discard, "", 0))
	s.logger.Info("mcp server listening on stdio", "tools", len(s.tools.Schemas()))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := s.tools.Get(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		s.logger.Debug("tool call", "tool", name)
		res, err := t.Execute(ctx, raw)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toCallResult(res), nil
	}
}

func toCallResult(res *domain.ToolResult) *mcp.CallToolResult {
	if res == nil {
		return mcp.NewToolResultText("")
	}
	if !res.IsError {
		return mcp.NewToolResultText(res.Content)
	}
	msg := res.Content
	if res.Code != "" && res.Code != string(domain.CodeUnknown) {
		msg = fmt.Sprintf("[%s] %s", res.Code, msg)
	}
	return mcp.NewToolResultError(msg)
}
