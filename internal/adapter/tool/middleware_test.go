package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"nu-mcp/internal/domain"
)

// nopLogger returns a logger that discards output.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Execute tests ---

func TestExecute_Success_JSON(t *testing.T) {
	type params struct {
		ID string `json:"id"`
	}
	raw := json.RawMessage(`{"id":"job_1"}`)

	result, err := Execute(context.Background(), "test.tool", nopLogger(), raw,
		func(_ context.Context, _ trace.Span, p params) (any, error) {
			return map[string]string{"id": p.ID, "status": "running"}, nil
		},
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, `"status": "running"`) {
		t.Errorf("expected indented JSON, got: %s", result.Content)
	}
}

func TestExecute_Success_String(t *testing.T) {
	type params struct{}

	result, err := Execute(context.Background(), "test.tool", nopLogger(), json.RawMessage(`{}`),
		func(_ context.Context, _ trace.Span, _ params) (any, error) {
			return "Exit code: 0", nil
		},
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != "Exit code: 0" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestExecute_Success_CustomToolResult(t *testing.T) {
	type params struct{}

	custom := &domain.ToolResult{Content: "custom", IsError: true}
	result, err := Execute(context.Background(), "test.tool", nopLogger(), nil,
		func(_ context.Context, _ trace.Span, _ params) (any, error) {
			return custom, nil
		},
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != custom {
		t.Error("expected the handler's ToolResult to be returned as-is")
	}
}

func TestExecute_InvalidJSON(t *testing.T) {
	type params struct {
		Command string `json:"command"`
	}
	called := false

	result, err := Execute(context.Background(), "test.tool", nopLogger(), json.RawMessage(`{bad`),
		func(_ context.Context, _ trace.Span, _ params) (any, error) {
			called = true
			return nil, nil
		},
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("handler should not run on invalid params")
	}
	if !result.IsError || !strings.Contains(result.Content, "invalid params") {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Code != string(domain.CodeInvalidInput) {
		t.Errorf("Code = %q", result.Code)
	}
}

func TestExecute_HandlerError_Permanent(t *testing.T) {
	type params struct{}

	result, err := Execute(context.Background(), "nu.output", nopLogger(), nil,
		func(_ context.Context, _ trace.Span, _ params) (any, error) {
			return nil, domain.NewSubSystemError("process", "Registry.Snapshot", domain.ErrNotFound, "job_x")
		},
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if result.IsRetryable {
		t.Error("not found should not be retryable")
	}
	if result.Code != string(domain.CodeProcessNotFound) {
		t.Errorf("Code = %q, want %q", result.Code, domain.CodeProcessNotFound)
	}
	if strings.Contains(result.Content, "retry") {
		t.Errorf("permanent error should carry no retry hint: %s", result.Content)
	}
}

func TestExecute_HandlerError_Retryable(t *testing.T) {
	type params struct{}

	result, _ := Execute(context.Background(), "nu.search", nopLogger(), nil,
		func(_ context.Context, _ trace.Span, _ params) (any, error) {
			return nil, fmt.Errorf("searxng: %w", domain.ErrRateLimit)
		},
	)

	if !result.IsError || !result.IsRetryable {
		t.Fatalf("expected retryable error, got %+v", result)
	}
	if !strings.Contains(result.Content, "may succeed on retry") {
		t.Errorf("missing retry hint: %s", result.Content)
	}
	if result.Code != string(domain.CodeRateLimit) {
		t.Errorf("Code = %q", result.Code)
	}
}

func TestExecute_HandlerError_Unknown(t *testing.T) {
	type params struct{}

	result, _ := Execute(context.Background(), "test.tool", nopLogger(), nil,
		func(_ context.Context, _ trace.Span, _ params) (any, error) {
			return nil, errors.New("boom")
		},
	)
	if result.Code != string(domain.CodeUnknown) || result.Content != "boom" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestExecute_UnmarshalableResult(t *testing.T) {
	type params struct{}

	result, _ := Execute(context.Background(), "test.tool", nopLogger(), nil,
		func(_ context.Context, _ trace.Span, _ params) (any, error) {
			return map[string]any{"ch": make(chan int)}, nil
		},
	)
	if !result.IsError || !strings.Contains(result.Content, "failed to format response") {
		t.Errorf("unexpected result: %+v", result)
	}
}

// --- ParseParams tests ---

func TestParseParams(t *testing.T) {
	type params struct {
		Block bool `json:"block"`
	}

	p, bad := ParseParams[params](json.RawMessage(`{"block":true}`))
	if bad != nil || !p.Block {
		t.Errorf("got %+v, %+v", p, bad)
	}

	p, bad = ParseParams[params](nil)
	if bad != nil || p.Block {
		t.Errorf("empty input should decode to zero value, got %+v, %+v", p, bad)
	}

	_, bad = ParseParams[params](json.RawMessage(`{"block":"yes"}`))
	if bad == nil || !bad.IsError {
		t.Error("expected error result for wrong type")
	}
}

func TestTextResult(t *testing.T) {
	r := TextResult("hello")
	if r.Content != "hello" || r.IsError {
		t.Errorf("unexpected result: %+v", r)
	}
}
