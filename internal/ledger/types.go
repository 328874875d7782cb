// Package ledger implements the usage accounting store for the policy gateway.
//
// DESIGN: Two independent record streams, both owned by this package:
//   - UsageRecord:  per-caller, per-window accumulation used for budget decisions.
//     Durable in SQLite, cached in memory with a lock per caller so unrelated
//     callers never contend.
//   - CallLogEntry: append-only audit trail, one entry per completed or
//     rejected invocation, written as JSONL with an in-process fanout for
//     live consumers.
package ledger

import "time"

// UsageRecord is the accumulated consumption for one caller in one window.
// There is exactly one active record per (caller, window) pair. Records are
// never deleted, only superseded when the window rolls over.
type UsageRecord struct {
	CallerID         string    `json:"caller_id"`
	WindowStart      time.Time `json:"window_start"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	CostAccumulated  float64   `json:"cost_accumulated"`
}

// CallLogEntry is one audit record. The budgeting window does not apply here;
// the log is a flat stream.
type CallLogEntry struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestID         string    `json:"request_id"`
	CallerID          string    `json:"caller_id"`
	BackendUsed       string    `json:"backend_used,omitempty"`
	Model             string    `json:"model,omitempty"`
	GuardrailsApplied []string  `json:"guardrails_applied"`
	PromptTokens      int       `json:"prompt_tokens"`
	CompletionTokens  int       `json:"completion_tokens"`
	Cost              float64   `json:"cost"`
	Outcome           string    `json:"outcome"`
	Reason            string    `json:"reason,omitempty"`
}

// Outcome values for CallLogEntry.
const (
	OutcomeSuccess           = "success"
	OutcomeBudgetExceeded    = "budget_exceeded"
	OutcomeGuardrailRejected = "guardrail_rejected"
	OutcomeBackendFailure    = "backend_failure"
)

// ModelTotals aggregates consumption per model across all callers and windows.
type ModelTotals struct {
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// windowStart truncates now to the start of the window containing it.
// Windows are aligned to the Unix epoch in UTC, so a 24h period gives
// calendar days in UTC.
func windowStart(now time.Time, period time.Duration) time.Time {
	return now.UTC().Truncate(period)
}
