// Package backends defines the opaque generation capability the gateway
// invokes, plus the concrete clients for each tier: an OpenAI-compatible
// API for the full tier and a local Ollama instance for the downgraded tier.
//
// The gateway does not retry backend failures; it surfaces a classified
// error and records it. Retry policy belongs to the calling application.
package backends

import (
	"context"
	"errors"
	"fmt"
)

// Usage is the token accounting a backend reports for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result is the outcome of one successful generation.
type Result struct {
	Text  string
	Model string
	Usage Usage
}

// Backend is the opaque generate capability.
type Backend interface {
	// Name identifies the backend in logs and the audit trail.
	Name() string
	// Model is the model this backend invokes.
	Model() string
	// Generate produces a completion for the final (post-guardrail) prompt.
	Generate(ctx context.Context, prompt string) (*Result, error)
}

// Failure classifies a backend error as transient (worth a caller-side
// retry) or permanent. The wrapped error never crosses the gateway boundary
// verbatim.
type Failure struct {
	Transient bool
	Err       error
}

func (f *Failure) Error() string {
	kind := "permanent"
	if f.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("backend failure (%s): %v", kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsTransient reports whether err is a transient backend failure.
func IsTransient(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Transient
}
