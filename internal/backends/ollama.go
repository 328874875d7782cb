package backends

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxOllamaResponseSize caps the response body read (10MB).
const maxOllamaResponseSize = 10 * 1024 * 1024

// OllamaBackend serves the downgraded tier from a local Ollama instance.
// Priced at zero, so it stays usable after budget exhaustion degrades the
// caller's tier.
type OllamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaBackend creates the downgraded-tier backend.
// baseURL defaults to the standard local Ollama address.
func NewOllamaBackend(baseURL, model string, timeout time.Duration) *OllamaBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *OllamaBackend) Name() string { return "ollama" }

func (b *OllamaBackend) Model() string { return b.model }

// Generate calls Ollama's /api/generate in non-streaming mode. Usage comes
// from prompt_eval_count/eval_count; some Ollama builds omit them, so any
// missing count is estimated from the text.
func (b *OllamaBackend) Generate(ctx context.Context, prompt string) (*Result, error) {
	body, _ := sjson.Set("", "model", b.model)
	body, _ = sjson.Set(body, "prompt", prompt)
	body, _ = sjson.Set(body, "stream", false)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", strings.NewReader(body))
	if err != nil {
		return nil, &Failure{Transient: false, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &Failure{Transient: true, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponseSize))
	if err != nil {
		return nil, &Failure{Transient: true, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{
			Transient: resp.StatusCode >= 500,
			Err:       fmt.Errorf("ollama returned status %d", resp.StatusCode),
		}
	}

	parsed := gjson.ParseBytes(respBody)
	res := &Result{
		Text:  parsed.Get("response").String(),
		Model: b.model,
		Usage: Usage{
			PromptTokens:     int(parsed.Get("prompt_eval_count").Int()),
			CompletionTokens: int(parsed.Get("eval_count").Int()),
		},
	}
	fillMissingUsage(res, prompt)

	log.Debug().
		Str("backend", b.Name()).
		Str("model", b.model).
		Int("prompt_tokens", res.Usage.PromptTokens).
		Int("completion_tokens", res.Usage.CompletionTokens).
		Msg("backend: completion received")

	return res, nil
}

var _ Backend = (*OllamaBackend)(nil)
