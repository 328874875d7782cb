// Package guardrails implements the policy checks composed around a model
// invocation: PII redaction, prompt-injection heuristics, JSON enforcement,
// and RBAC action gating.
//
// DESIGN: Each guardrail is a fast in-memory transform over prompt text
// (pre-stage) or response text (post-stage). It either returns transformed
// text for the next stage or a Rejection that halts the chain. Guardrails
// never mutate shared state and never block.
package guardrails

import "context"

// Stage identifies where in the chain a guardrail runs.
type Stage string

const (
	// StagePre runs on the prompt before the backend call.
	StagePre Stage = "pre"
	// StagePost runs on the response after the backend call.
	StagePost Stage = "post"
)

// Canonical guardrail names as they appear in the audit log.
const (
	NamePIIRedaction = "pii_redaction"
	NameInjection    = "prompt_injection"
	NameJSONEnforce  = "json_enforcement"
	NameRBAC         = "rbac"
)

// Rejection halts the chain. Reason is a stable code, not prose.
type Rejection struct {
	Guardrail string
	Stage     Stage
	Reason    string
}

// Guardrail is one policy check. Check returns the (possibly transformed)
// text to pass onward, or a non-nil Rejection.
type Guardrail interface {
	Name() string
	Stage() Stage
	Check(ctx context.Context, text string) (string, *Rejection)
}

// RBACLevel is a caller's capability level for action gating.
type RBACLevel string

const (
	// RBACNone disables the RBAC guardrail entirely.
	RBACNone RBACLevel = "none"
	// RBACReadOnly blocks responses proposing mutating actions.
	RBACReadOnly RBACLevel = "read_only"
	// RBACAdmin permits every action.
	RBACAdmin RBACLevel = "admin"
)

// Config selects which guardrails are active for one request. Supplied by
// the caller, immutable for the request's lifetime.
type Config struct {
	PIIRedaction    bool      `json:"pii_redaction" yaml:"pii_redaction"`
	InjectionCheck  bool      `json:"injection_check" yaml:"injection_check"`
	JSONEnforcement bool      `json:"json_enforcement" yaml:"json_enforcement"`
	RBACLevel       RBACLevel `json:"rbac_level" yaml:"rbac_level"`
}
