package backends

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// charsPerToken is the rough fallback ratio when no encoder is available.
const charsPerToken = 4

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text for backends that omit
// usage metadata (some local Ollama builds). Tries the model's tiktoken
// encoding, then cl100k_base, then a characters/4 heuristic.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}

	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return len(enc.Encode(text, nil, nil))
	}

	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Debug().Err(err).Msg("backends: tiktoken unavailable, using char ratio")
			return
		}
		encoder = enc
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}

	return (len(text) + charsPerToken - 1) / charsPerToken
}

// fillMissingUsage estimates any token counts the backend did not report.
func fillMissingUsage(res *Result, prompt string) {
	if res.Usage.PromptTokens == 0 {
		res.Usage.PromptTokens = EstimateTokens(res.Model, prompt)
	}
	if res.Usage.CompletionTokens == 0 && res.Text != "" {
		res.Usage.CompletionTokens = EstimateTokens(res.Model, res.Text)
	}
}
