package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/security"
)

type fakeApplyBackend struct {
	reply string
	err   error
	got   []string
}

func (f *fakeApplyBackend) Apply(_ context.Context, instructions, code, edit string) (string, error) {
	f.got = []string{instructions, code, edit}
	return f.reply, f.err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func applyParamsJSON(path string) string {
	b, _ := json.Marshal(map[string]string{
		"path":         path,
		"instructions": "rename the function",
		"code_edit":    "// ... existing code ...\nfunc b() {}\n// ... existing code ...",
	})
	return string(b)
}

func TestSanitizeApplyResponse(t *testing.T) {
	code := "package main\n\nfunc main() {\n\treturn\n}"
	tests := []struct {
		name        string
		response    string
		originalLen int
		want        string
		wantErr     string
	}{
		{"plain code", "  " + code + "\n\n", len(code), code, ""},
		{"fenced", "```go\n" + code + "\n```", len(code), code, ""},
		{"largest fence wins", "```\nx\n```\ntext\n```go\n" + code + "\n```", len(code), code, ""},
		{"unterminated fence kept", "```go\n" + code, 10, "```go\n" + code, ""},
		{"empty", " \n\t", 10, "", "empty response"},
		{"conversational short", "Sure, here is the updated file.", 10, "", "conversational"},
		{"conversational long without code", strings.Repeat("Here is the change you asked for. ", 30), 10, "", "conversational"},
		{"truncated", "x := 1", 1000, "", "truncation guard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeApplyResponse(tt.response, tt.originalLen)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.Is(err, domain.ErrApplyRejected))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeApplyResponse_LongCodeWithPhraseAccepted(t *testing.T) {
	body := "// Here is the parser.\n" + strings.Repeat("func f() { return }\n", 40)
	got, err := SanitizeApplyResponse(body, len(body))
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(body), got)
}

func TestApplyTool_WritesAndRemovesBackup(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "func a() {}\n")
	backend := &fakeApplyBackend{reply: "func b() {}\n"}
	audit := &recordingAudit{}
	tl := NewApplyTool(backend, nil, audit, nopLogger())

	res := run(t, tl, applyParamsJSON(path))
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "Path: "+path+"\nStatus: applied\nCode edit applied to "+path, res.Content)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "func b() {}", string(data))
	assert.NoFileExists(t, path+".bak")

	assert.Equal(t, "rename the function", backend.got[0])
	assert.Equal(t, "func a() {}\n", backend.got[1])

	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.AuditFileWrite, events[0].Type)
	assert.Equal(t, "ok", events[0].Outcome)
}

func TestApplyTool_RejectedReplyLeavesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "func a() {}\n")
	tl := NewApplyTool(&fakeApplyBackend{reply: "Here you go!"}, nil, nil, nopLogger())

	res := run(t, tl, applyParamsJSON(path))
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.CodeApplyRejected), res.Code)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "func a() {}\n", string(data))
}

func TestApplyTool_MissingFile(t *testing.T) {
	tl := NewApplyTool(&fakeApplyBackend{reply: "x"}, nil, nil, nopLogger())
	res := run(t, tl, applyParamsJSON(filepath.Join(t.TempDir(), "nope.go")))
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.CodeApplyInvalid), res.Code)
}

func TestApplyTool_RelativePathRejected(t *testing.T) {
	tl := NewApplyTool(&fakeApplyBackend{reply: "x"}, nil, nil, nopLogger())
	res := run(t, tl, applyParamsJSON("main.go"))
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.CodeInvalidInput), res.Code)
}

func TestApplyTool_SandboxRejectsOutsidePath(t *testing.T) {
	root := t.TempDir()
	sb, err := security.NewSandbox(root)
	require.NoError(t, err)
	outside := writeFile(t, t.TempDir(), "x.go", "func a() {}\n")
	backend := &fakeApplyBackend{reply: "func b() {}"}
	tl := NewApplyTool(backend, sb, nil, nopLogger())

	res := run(t, tl, applyParamsJSON(outside))
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.CodePathOutside), res.Code)
	assert.Nil(t, backend.got, "backend must not be called")
}

func TestOpenAIApplyBackend_ChatCompletions(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"morph-v3-fast",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"merged code"}}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIApplyBackend(OpenAIApplyConfig{APIURL: srv.URL + "/v1", APIKey: "k", Model: "morph-v3-fast"}, nopLogger())
	out, err := b.Apply(context.Background(), "do it", "old", "new")
	require.NoError(t, err)
	assert.Equal(t, "merged code", out)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "morph-v3-fast", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "<instruction>do it</instruction>\n<code>old</code>\n<update>new</update>", gotBody.Messages[0].Content)
}

func TestOpenAIApplyBackend_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer srv.Close()

	b := NewOpenAIApplyBackend(OpenAIApplyConfig{APIURL: srv.URL, APIKey: "k", Model: "morph-v3-fast"}, nopLogger())
	_, err := b.Apply(context.Background(), "i", "c", "e")
	require.Error(t, err)
	assert.Equal(t, domain.CodeApplyProvider, domain.ErrorCodeOf(err))
}
