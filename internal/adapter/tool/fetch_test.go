package tool

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/middleware"
)

func newFetchServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><h1>Hello</h1><p>World <b>bold</b></p></body></html>"))
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a":1}`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &gotUA
}

func fetchParamsJSON(url string, headers map[string]string) string {
	b, _ := json.Marshal(map[string]any{"url": url, "headers": headers})
	return string(b)
}

func TestFetchTool_HTMLToMarkdown(t *testing.T) {
	srv, gotUA := newFetchServer(t)
	tl := NewFetchTool(FetchConfig{AllowPrivate: true}, nil, nopLogger())

	res := run(t, tl, fetchParamsJSON(srv.URL+"/page", nil))
	require.False(t, res.IsError, res.Content)
	assert.True(t, strings.HasPrefix(res.Content,
		"URL: "+srv.URL+"/page\nStatus: 200\nContent-Type: text/html; charset=utf-8\nFormat: markdown\n\n"), res.Content)
	assert.Contains(t, res.Content, "# Hello")
	assert.Contains(t, res.Content, "**bold**")
	assert.NotContains(t, res.Content, "<h1>")
	assert.Equal(t, defaultFetchUserAgent, *gotUA)
}

func TestFetchTool_CustomUserAgent(t *testing.T) {
	srv, gotUA := newFetchServer(t)
	tl := NewFetchTool(FetchConfig{AllowPrivate: true}, nil, nopLogger())

	run(t, tl, fetchParamsJSON(srv.URL+"/page", map[string]string{"User-Agent": "nu-test/1.0"}))
	assert.Equal(t, "nu-test/1.0", *gotUA)
}

func TestFetchTool_TextPassthrough(t *testing.T) {
	srv, _ := newFetchServer(t)
	tl := NewFetchTool(FetchConfig{AllowPrivate: true}, nil, nopLogger())

	res := run(t, tl, fetchParamsJSON(srv.URL+"/data.json", nil))
	assert.Contains(t, res.Content, "Format: text\n\n{\"a\":1}")
}

func TestFetchTool_HTTPErrorReported(t *testing.T) {
	srv, _ := newFetchServer(t)
	tl := NewFetchTool(FetchConfig{AllowPrivate: true}, nil, nopLogger())

	res := run(t, tl, fetchParamsJSON(srv.URL+"/missing", nil))
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "Status: 404")
	assert.True(t, strings.HasSuffix(res.Content, "nope\nError: HTTP 404 error"), res.Content)
}

func TestFetchTool_BodyCap(t *testing.T) {
	srv, _ := newFetchServer(t)
	tl := NewFetchTool(FetchConfig{AllowPrivate: true, MaxBodyBytes: 10}, nil, nopLogger())

	res := run(t, tl, fetchParamsJSON(srv.URL+"/big", nil))
	assert.Contains(t, res.Content, "Truncated: true\n")
	assert.True(t, strings.HasSuffix(res.Content, "\n\n"+strings.Repeat("x", 10)), res.Content)
}

func TestFetchTool_BlocksPrivateTargets(t *testing.T) {
	srv, _ := newFetchServer(t)
	tl := NewFetchTool(FetchConfig{}, nil, nopLogger())

	res := run(t, tl, fetchParamsJSON(srv.URL+"/page", nil))
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.CodeSSRFBlocked), res.Code)
}

func TestFetchTool_RedirectToPrivateBlocked(t *testing.T) {
	target, _ := newFetchServer(t)
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/page", http.StatusFound)
	}))
	defer redirector.Close()

	// The transport still dials loopback; only redirect validation is strict.
	tl := NewFetchTool(FetchConfig{AllowPrivate: true}, nil, nopLogger())
	tl.guard.AllowPrivate = false

	_, err := tl.client.Get(redirector.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSSRFBlocked)
}

func TestFetchTool_RejectsHeaderInjection(t *testing.T) {
	tl := NewFetchTool(FetchConfig{AllowPrivate: true}, nil, nopLogger())

	res := run(t, tl, fetchParamsJSON("http://example.com", map[string]string{"X-A": "v\r\nHost: evil"}))
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.CodeInvalidInput), res.Code)
}

func TestFetchTool_RateLimited(t *testing.T) {
	srv, _ := newFetchServer(t)
	limiter := middleware.NewHostLimiter(t.Context(), middleware.RateLimitConfig{RequestsPerMin: 1})
	tl := NewFetchTool(FetchConfig{AllowPrivate: true}, limiter, nopLogger())

	res := run(t, tl, fetchParamsJSON(srv.URL+"/data.json", nil))
	require.False(t, res.IsError, res.Content)

	res = run(t, tl, fetchParamsJSON(srv.URL+"/data.json", nil))
	assert.True(t, res.IsError)
	assert.True(t, res.IsRetryable)
	assert.Equal(t, string(domain.CodeRateLimit), res.Code)
}
