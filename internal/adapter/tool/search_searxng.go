package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"

	"nu-mcp/internal/domain"
)

const maxSearchBodySize = 2 << 20

// SearchRequest is one SearXNG query.
type SearchRequest struct {
	Query    string
	Category string // "" or "general" searches the default categories
	Engines  string // comma separated engine names
	Limit    int
}

// SearchItem is a single SearXNG hit.
type SearchItem struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Content  string `json:"content"`
	Engine   string `json:"engine"`
	Category string `json:"category"`
}

// SearchResponse is the trimmed SearXNG payload. Answers and infoboxes are
// kept as raw JSON since their shape varies by engine.
type SearchResponse struct {
	Query       string       `json:"query"`
	Results     []SearchItem `json:"results"`
	Total       int          `json:"total"`
	Returned    int          `json:"returned"`
	Answers     []string     `json:"answers"`
	Infoboxes   []string     `json:"infoboxes"`
	Suggestions []string     `json:"suggestions"`
}

// SearXNGBackend searches via a SearXNG instance's JSON API.
type SearXNGBackend struct {
	client      *http.Client
	instanceURL string
	breaker     *gobreaker.CircuitBreaker[*SearchResponse]
	logger      *slog.Logger
}

// NewSearXNGBackend creates a search backend. transport may be nil.
func NewSearXNGBackend(instanceURL string, timeout time.Duration, transport http.RoundTripper, logger *slog.Logger) *SearXNGBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNGBackend{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		instanceURL: strings.TrimRight(instanceURL, "/"),
		breaker:     newBreaker[*SearchResponse]("search:searxng", logger),
		logger:      logger,
	}
}

func (b *SearXNGBackend) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	resp, err := b.breaker.Execute(func() (*SearchResponse, error) {
		return b.search(ctx, req)
	})
	if err != nil {
		return nil, breakerError("search", "SearXNGBackend.Search", err)
	}
	return resp, nil
}

func (b *SearXNGBackend) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	category := req.Category
	if category == "" {
		category = "general"
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("format", "json")
	if category != "general" {
		q.Set("categories", category)
	}
	if req.Engines != "" {
		q.Set("engines", req.Engines)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.instanceURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, b.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, domain.NewSubSystemError("search", "SearXNGBackend.Search", domain.ErrProviderError, "read response: "+err.Error())
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("searxng: %w", domain.ErrRateLimit)
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewSubSystemError("search", "SearXNGBackend.Search", domain.ErrProviderError,
			fmt.Sprintf("SearXNG returned error: HTTP %d", resp.StatusCode))
	}

	out, err := parseSearXNG(body, req.Query, category, limit)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("searxng search completed", "query", req.Query, "category", category, "results", out.Returned)
	return out, nil
}

func (b *SearXNGBackend) transportError(err error) error {
	if errors.Is(err, domain.ErrRateLimit) {
		return fmt.Errorf("searxng: %w", domain.ErrRateLimit)
	}
	return domain.NewSubSystemError("search", "SearXNGBackend.Search", domain.ErrProviderError,
		"SearXNG request failed: "+err.Error())
}

// parseSearXNG takes the first limit results, then drops those without a
// title or URL.
func parseSearXNG(body []byte, query, category string, limit int) (*SearchResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, domain.NewSubSystemError("search", "parseSearXNG", domain.ErrProviderError, "failed to parse SearXNG response")
	}
	doc := gjson.ParseBytes(body)
	results := doc.Get("results")
	if !results.IsArray() {
		return nil, domain.NewSubSystemError("search", "parseSearXNG", domain.ErrProviderError, "invalid SearXNG response: missing results")
	}

	out := &SearchResponse{
		Query:       query,
		Results:     []SearchItem{},
		Total:       int(doc.Get("number_of_results").Int()),
		Answers:     []string{},
		Infoboxes:   []string{},
		Suggestions: []string{},
	}

	for i, r := range results.Array() {
		if i >= limit {
			break
		}
		title, link := r.Get("title"), r.Get("url")
		if title.Type != gjson.String || link.Type != gjson.String {
			continue
		}
		item := SearchItem{
			Title:    title.String(),
			URL:      link.String(),
			Content:  r.Get("content").String(),
			Engine:   "unknown",
			Category: category,
		}
		if e := r.Get("engine"); e.Type == gjson.String {
			item.Engine = e.String()
		}
		if c := r.Get("category"); c.Type == gjson.String {
			item.Category = c.String()
		}
		out.Results = append(out.Results, item)
	}
	out.Returned = len(out.Results)

	doc.Get("answers").ForEach(func(_, v gjson.Result) bool {
		out.Answers = append(out.Answers, v.Raw)
		return true
	})
	doc.Get("infoboxes").ForEach(func(_, v gjson.Result) bool {
		out.Infoboxes = append(out.Infoboxes, v.Raw)
		return true
	})
	doc.Get("suggestions").ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out.Suggestions = append(out.Suggestions, v.String())
		}
		return true
	})
	return out, nil
}
