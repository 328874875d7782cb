package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend serves the full tier through an OpenAI-compatible chat
// completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// OpenAIOption configures the OpenAI backend.
type OpenAIOption func(*openaiSettings)

type openaiSettings struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL points the client at an OpenAI-compatible endpoint other than
// api.openai.com.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(s *openaiSettings) {
		s.baseURL = baseURL
	}
}

// WithTimeout bounds each completion call at the HTTP client level.
func WithTimeout(timeout time.Duration) OpenAIOption {
	return func(s *openaiSettings) {
		s.timeout = timeout
	}
}

// NewOpenAIBackend creates the full-tier backend.
func NewOpenAIBackend(apiKey, model string, options ...OpenAIOption) *OpenAIBackend {
	var settings openaiSettings
	for _, option := range options {
		option(&settings)
	}

	cfg := openai.DefaultConfig(apiKey)
	if settings.baseURL != "" {
		cfg.BaseURL = settings.baseURL
	}
	if settings.timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: settings.timeout}
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Model() string { return b.model }

// Generate runs one chat completion. Usage comes straight from the API
// response; OpenAI always reports it for non-streaming calls.
func (b *OpenAIBackend) Generate(ctx context.Context, prompt string) (*Result, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, &Failure{Transient: isTransientOpenAIError(err), Err: err}
	}

	if len(resp.Choices) == 0 {
		return nil, &Failure{Transient: false, Err: fmt.Errorf("empty choices in completion response")}
	}

	res := &Result{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	if res.Model == "" {
		res.Model = b.model
	}
	fillMissingUsage(res, prompt)

	log.Debug().
		Str("backend", b.Name()).
		Str("model", res.Model).
		Int("prompt_tokens", res.Usage.PromptTokens).
		Int("completion_tokens", res.Usage.CompletionTokens).
		Msg("backend: completion received")

	return res, nil
}

// isTransientOpenAIError classifies API errors: 429 and 5xx are worth a
// caller-side retry, as are timeouts and connection errors.
func isTransientOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var _ Backend = (*OpenAIBackend)(nil)
