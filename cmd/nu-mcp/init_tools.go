package main

import (
	"context"
	"log/slog"
	"net/http"

	"nu-mcp/internal/adapter/tool"
	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/config"
	"nu-mcp/internal/infra/middleware"
	"nu-mcp/internal/usecase/process"
)

// initTools registers the process tools and whichever optional tools the
// config enables.
func initTools(ctx context.Context, cfg *config.Config, executor *process.Executor, sec *SecurityComponents, log *slog.Logger) *tool.Registry {
	toolLog := log.With("component", "tools")
	reg := tool.NewRegistry(toolLog, sec.AuditLogger)

	tools := []domain.Tool{
		tool.NewExecTool(executor, sec.AuditLogger, toolLog),
		tool.NewOutputTool(executor.Registry(), toolLog),
		tool.NewKillTool(executor.Registry(), sec.AuditLogger, toolLog),
		tool.NewJobsTool(executor.Registry(), toolLog),
	}

	if cfg.Apply.Enabled {
		backend := tool.NewOpenAIApplyBackend(tool.OpenAIApplyConfig{
			APIURL:  cfg.Apply.APIURL,
			APIKey:  cfg.Apply.APIKey,
			Model:   cfg.Apply.Model,
			Timeout: cfg.Apply.Timeout,
		}, toolLog)
		tools = append(tools, tool.NewApplyTool(backend, sec.Sandbox, sec.AuditLogger, toolLog))
	}

	if cfg.Search.Enabled {
		limiter := middleware.NewHostLimiter(ctx, middleware.RateLimitConfig{
			RequestsPerMin: cfg.Search.RateLimit,
		})
		transport := middleware.RateLimitTransport(limiter, http.DefaultTransport)
		backend := tool.NewSearXNGBackend(cfg.Search.SearXNGURL, cfg.Search.Timeout, transport, toolLog)
		tools = append(tools, tool.NewSearchTool(backend, toolLog))
	}

	if cfg.Fetch.Enabled {
		var limiter *middleware.HostLimiter
		if cfg.Fetch.RateLimit > 0 {
			limiter = middleware.NewHostLimiter(ctx, middleware.RateLimitConfig{
				RequestsPerMin: cfg.Fetch.RateLimit,
			})
		}
		tools = append(tools, tool.NewFetchTool(tool.FetchConfig{
			AllowPrivate:   cfg.Fetch.AllowPrivate,
			MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
			DefaultTimeout: cfg.Fetch.DefaultTimeout,
			UserAgent:      cfg.Fetch.UserAgent,
		}, limiter, toolLog))
	}

	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			log.Warn("tool registration failed", "tool", t.Name(), "error", err)
		}
	}

	log.Info("tools registered", "count", len(reg.List()))
	return reg
}
