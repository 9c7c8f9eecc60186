package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"go.opentelemetry.io/otel/trace"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/middleware"
	"nu-mcp/internal/infra/tracer"
	"nu-mcp/internal/security"
)

const (
	defaultFetchUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultFetchMaxBody   = 2 << 20
	maxFetchRedirects     = 5
)

// FetchConfig configures FetchTool.
type FetchConfig struct {
	AllowPrivate   bool
	MaxBodyBytes   int64
	DefaultTimeout time.Duration
	UserAgent      string
}

// FetchResult is what nu.fetch reports for one URL.
type FetchResult struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Format      string `json:"format"`
	Truncated   bool   `json:"truncated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// FetchTool downloads a page and converts HTML to Markdown.
type FetchTool struct {
	client *http.Client
	guard  *security.URLGuard
	config FetchConfig
	logger *slog.Logger
}

// NewFetchTool creates the nu.fetch tool. limiter may be nil.
func NewFetchTool(cfg FetchConfig, limiter *middleware.HostLimiter, logger *slog.Logger) *FetchTool {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultFetchMaxBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultFetchUserAgent
	}

	guard := &security.URLGuard{AllowPrivate: cfg.AllowPrivate}
	var transport http.RoundTripper = guard.Transport()
	if limiter != nil {
		transport = middleware.RateLimitTransport(limiter, transport)
	}

	return &FetchTool{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxFetchRedirects {
					return fmt.Errorf("too many redirects")
				}
				return guard.ValidateURL(req.Context(), req.URL.String())
			},
		},
		guard:  guard,
		config: cfg,
		logger: logger,
	}
}

func (t *FetchTool) Name() string { return "nu.fetch" }
func (t *FetchTool) Description() string {
	return "Fetch web content with browser-like headers. HTML is converted to Markdown, " +
		"everything else is returned as text."
}

func (t *FetchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {
					"type": "string",
					"description": "URL to fetch"
				},
				"headers": {
					"type": "object",
					"additionalProperties": {"type": "string"},
					"description": "Extra request headers"
				},
				"timeout": {
					"type": "integer",
					"description": "Timeout in seconds (default 30)"
				}
			},
			"required": ["url"]
		}`),
	}
}

type fetchParams struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Timeout int               `json:"timeout"`
}

func (t *FetchTool) AuditResource(params json.RawMessage) string {
	return jsonField(params, "url")
}

func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.nu.fetch", t.logger, params,
		func(ctx context.Context, span trace.Span, p fetchParams) (any, error) {
			if err := ValidateAll(
				RequireField("url", p.URL),
				ValidateURL("url", p.URL),
				ValidateHeaders(p.Headers),
			); err != nil {
				return nil, err
			}
			if err := t.guard.ValidateURL(ctx, p.URL); err != nil {
				return nil, err
			}

			res, err := t.fetch(ctx, p)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.IntAttr("http.status_code", res.Status),
				tracer.StringAttr("fetch.format", res.Format),
			)
			return FormatFetchResult(res), nil
		},
	)
}

func (t *FetchTool) fetch(ctx context.Context, p fetchParams) (*FetchResult, error) {
	timeout := t.config.DefaultTimeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, domain.NewSubSystemError("fetch", "FetchTool.fetch", domain.ErrInvalidInput, err.Error())
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.requestError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxBodyBytes+1))
	if err != nil {
		return nil, t.requestError(ctx, err)
	}
	truncated := int64(len(body)) > t.config.MaxBodyBytes
	if truncated {
		body = body[:t.config.MaxBodyBytes]
	}

	res := &FetchResult{
		URL:         p.URL,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Format:      "text",
		Truncated:   truncated,
	}
	if res.ContentType == "" {
		res.ContentType = "application/octet-stream"
	}
	text := strings.ToValidUTF8(string(body), "\uFFFD")
	res.Content = text
	if strings.Contains(strings.ToLower(res.ContentType), "html") {
		md, err := htmltomarkdown.ConvertString(text)
		if err != nil {
			t.logger.Warn("html conversion failed, returning raw body", "url", p.URL, "error", err)
		} else {
			res.Content = md
			res.Format = "markdown"
		}
	}
	if res.Status >= 400 {
		res.Error = fmt.Sprintf("HTTP %d error", res.Status)
	}

	t.logger.Debug("fetch completed", "url", p.URL, "status", res.Status, "bytes", len(body), "format", res.Format)
	return res, nil
}

func (t *FetchTool) requestError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrSSRFBlocked), errors.Is(err, domain.ErrRateLimit):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.NewSubSystemError("fetch", "FetchTool.fetch", domain.ErrTimeout, err.Error())
	default:
		return domain.NewSubSystemError("fetch", "FetchTool.fetch", domain.ErrProviderError, "HTTP request failed: "+err.Error())
	}
}

// FormatFetchResult renders a fetch the way nu.fetch reports it.
func FormatFetchResult(r *FetchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nStatus: %d\nContent-Type: %s\nFormat: %s\n", r.URL, r.Status, r.ContentType, r.Format)
	if r.Truncated {
		b.WriteString("Truncated: true\n")
	}
	b.WriteString("\n")
	b.WriteString(r.Content)
	if r.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", r.Error)
	}
	return b.String()
}
