// Package chain composes guardrails and a backend call into a single
// invocable pipeline.
//
// DESIGN: Ordering is a fixed static table, not data-driven priority:
//
//	pre:  pii_redaction -> prompt_injection
//	post: json_enforcement -> rbac
//
// PII redaction precedes the injection heuristic so injected text cannot be
// scored differently against redacted content, and JSON enforcement precedes
// RBAC because RBAC inspects the parsed plan. Guardrails disabled by the
// request config are resolved away at build time; they do not run as no-ops
// and never appear in the applied list.
//
// The usage recorder always runs after a backend call, even when a
// post-stage guardrail rejects, so consumed tokens are accounted. It never
// runs on a pre-stage rejection, since no backend call occurred.
package chain

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tollgate/policy-gateway/internal/backends"
	"github.com/tollgate/policy-gateway/internal/guardrails"
)

// Outcome is everything one chain invocation produced.
type Outcome struct {
	// Text is the final response text. Empty on any rejection or failure.
	Text string

	// Applied lists the guardrails that actually ran, in execution order.
	Applied []string

	// BackendCalled reports whether the backend was invoked, successful or
	// not. Drives whether usage must be recorded.
	BackendCalled bool

	// Result is the backend result when the call succeeded.
	Result *backends.Result

	// Rejection is set when a guardrail halted the chain.
	Rejection *guardrails.Rejection
}

// Func is an assembled pipeline. The returned error is a backend failure;
// guardrail rejections travel in the Outcome.
type Func func(ctx context.Context, prompt string) (*Outcome, error)

// Recorder is called once per backend invocation with the tokens actually
// consumed. Wired in by the gateway; kept as a function so the chain does
// not depend on the ledger.
type Recorder func(ctx context.Context, result *backends.Result)

// Build assembles the pipeline for one request. The enabled guardrails are
// resolved from cfg here, at build time, into two fixed-order slices.
func Build(cfg guardrails.Config, backend backends.Backend, record Recorder) Func {
	var pre, post []guardrails.Guardrail

	if cfg.PIIRedaction {
		pre = append(pre, guardrails.NewPIIRedaction())
	}
	if cfg.InjectionCheck {
		pre = append(pre, guardrails.NewInjectionHeuristic())
	}
	if cfg.JSONEnforcement {
		post = append(post, guardrails.NewJSONEnforcement())
	}
	if cfg.RBACLevel != "" && cfg.RBACLevel != guardrails.RBACNone {
		post = append(post, guardrails.NewRBACCheck(cfg.RBACLevel))
	}

	return func(ctx context.Context, prompt string) (*Outcome, error) {
		out := &Outcome{Applied: make([]string, 0, len(pre)+len(post))}

		text := prompt
		for _, g := range pre {
			out.Applied = append(out.Applied, g.Name())
			next, rej := g.Check(ctx, text)
			if rej != nil {
				out.Rejection = rej
				return out, nil
			}
			text = next
		}

		out.BackendCalled = true
		result, err := backend.Generate(ctx, text)
		if err != nil {
			log.Debug().Err(err).Str("backend", backend.Name()).Msg("chain: backend call failed")
			return out, err
		}
		out.Result = result
		if record != nil {
			record(ctx, result)
		}

		text = result.Text
		for _, g := range post {
			out.Applied = append(out.Applied, g.Name())
			next, rej := g.Check(ctx, text)
			if rej != nil {
				out.Rejection = rej
				return out, nil
			}
			text = next
		}

		out.Text = text
		return out, nil
	}
}
