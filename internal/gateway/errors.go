package gateway

import (
	"errors"
	"fmt"

	"github.com/tollgate/policy-gateway/internal/guardrails"
)

// ErrorKind classifies gateway failures so the application can distinguish
// "try a different prompt" from "out of budget" from "infrastructure down".
type ErrorKind string

const (
	// KindBudgetExceeded is terminal for the window; the caller must wait
	// for rollover or a policy override.
	KindBudgetExceeded ErrorKind = "budget_exceeded"
	// KindGuardrailRejected is request-specific; the caller may retry with
	// modified input.
	KindGuardrailRejected ErrorKind = "guardrail_rejected"
	// KindBackendFailure is collaborator-reported; the gateway never retries.
	KindBackendFailure ErrorKind = "backend_failure"
	// KindLedgerUnavailable means accounting infrastructure is degraded.
	KindLedgerUnavailable ErrorKind = "ledger_unavailable"
	// KindMalformedResponse means JSON enforcement exhausted its repair
	// attempt.
	KindMalformedResponse ErrorKind = "malformed_response"
)

// GatewayError is the structured failure surfaced to the application. No raw
// backend error detail crosses this boundary.
type GatewayError struct {
	Kind      ErrorKind        `json:"kind"`
	Stage     guardrails.Stage `json:"stage,omitempty"`
	Guardrail string           `json:"guardrail,omitempty"`
	Reason    string           `json:"reason"`
	Transient bool             `json:"transient,omitempty"`
}

func (e *GatewayError) Error() string {
	if e.Guardrail != "" {
		return fmt.Sprintf("%s: %s guardrail %q: %s", e.Kind, e.Stage, e.Guardrail, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// newBudgetExceeded builds the terminal refusal for an exhausted window.
func newBudgetExceeded(cost, limit float64) *GatewayError {
	return &GatewayError{
		Kind:   KindBudgetExceeded,
		Reason: fmt.Sprintf("accumulated cost $%.4f has reached the window limit $%.4f", cost, limit),
	}
}

// newGuardrailRejected maps a chain rejection to the caller-visible error.
// JSON-enforcement rejections get their own kind per the error taxonomy.
func newGuardrailRejected(rej *guardrails.Rejection) *GatewayError {
	if rej.Guardrail == guardrails.NameJSONEnforce {
		return &GatewayError{
			Kind:      KindMalformedResponse,
			Stage:     rej.Stage,
			Guardrail: rej.Guardrail,
			Reason:    rej.Reason,
		}
	}
	return &GatewayError{
		Kind:      KindGuardrailRejected,
		Stage:     rej.Stage,
		Guardrail: rej.Guardrail,
		Reason:    rej.Reason,
	}
}

func newBackendFailure(transient bool) *GatewayError {
	reason := "backend reported a permanent failure"
	if transient {
		reason = "backend reported a transient failure"
	}
	return &GatewayError{Kind: KindBackendFailure, Reason: reason, Transient: transient}
}

func newLedgerUnavailable() *GatewayError {
	return &GatewayError{Kind: KindLedgerUnavailable, Reason: "usage ledger is unavailable"}
}

// AsGatewayError extracts a *GatewayError from an error chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	ok := errors.As(err, &ge)
	return ge, ok
}

// IsKind reports whether err is a GatewayError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ge, ok := AsGatewayError(err)
	return ok && ge.Kind == kind
}
