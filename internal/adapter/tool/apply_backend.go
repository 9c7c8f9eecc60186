package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker/v2"

	"nu-mcp/internal/domain"
)

// ApplyBackend merges an edit snippet into a file's contents.
type ApplyBackend interface {
	Apply(ctx context.Context, instructions, code, edit string) (string, error)
}

// OpenAIApplyBackend calls a fast-apply model over an OpenAI-compatible
// chat completions API.
type OpenAIApplyBackend struct {
	client  openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// OpenAIApplyConfig configures OpenAIApplyBackend.
type OpenAIApplyConfig struct {
	APIURL     string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client // nil = default client
}

// NewOpenAIApplyBackend creates an apply backend. Model names that do not
// look like fast-apply models are accepted with a warning.
func NewOpenAIApplyBackend(cfg OpenAIApplyConfig, logger *slog.Logger) *OpenAIApplyBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	base := strings.TrimRight(cfg.APIURL, "/") + "/"

	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	lower := strings.ToLower(cfg.Model)
	if !strings.Contains(lower, "morph") && !strings.Contains(lower, "fast") {
		logger.Warn("apply model does not look like a fast-apply model", "model", cfg.Model)
	}

	return &OpenAIApplyBackend{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		breaker: newBreaker[string]("apply:"+cfg.Model, logger),
		logger:  logger,
	}
}

// BuildApplyPrompt builds the single user message sent to the apply model.
func BuildApplyPrompt(instructions, code, edit string) string {
	return fmt.Sprintf("<instruction>%s</instruction>\n<code>%s</code>\n<update>%s</update>", instructions, code, edit)
}

func (b *OpenAIApplyBackend) Apply(ctx context.Context, instructions, code, edit string) (string, error) {
	out, err := b.breaker.Execute(func() (string, error) {
		resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(b.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(BuildApplyPrompt(instructions, code, edit)),
			},
		})
		if err != nil {
			return "", b.classify(err)
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", breakerError("apply", "OpenAIApplyBackend.Apply", err)
	}
	b.logger.Debug("apply model responded", "model", b.model, "bytes", len(out))
	return out, nil
}

func (b *OpenAIApplyBackend) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("apply API: %w", domain.ErrRateLimit)
		}
		return domain.NewSubSystemError("apply", "OpenAIApplyBackend.Apply", domain.ErrProviderError,
			fmt.Sprintf("HTTP %d: %v", apiErr.StatusCode, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewSubSystemError("apply", "OpenAIApplyBackend.Apply", domain.ErrTimeout, err.Error())
	}
	return domain.NewSubSystemError("apply", "OpenAIApplyBackend.Apply", domain.ErrProviderError, err.Error())
}
