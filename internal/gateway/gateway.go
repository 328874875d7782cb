// Package gateway is the public entry point of the policy gateway.
//
// DESIGN: Handle() orchestrates one request end to end:
//
//	selector (one ledger snapshot) -> chain build -> invocation -> accounting
//
// Budget reads fail closed: if the ledger cannot answer, generation is
// blocked. Audit writes fail open by default: accounting is advisory, the
// budget is not. The contract is all-or-nothing per request; no partial or
// garbled text ever reaches the caller.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tollgate/policy-gateway/internal/backends"
	"github.com/tollgate/policy-gateway/internal/budget"
	"github.com/tollgate/policy-gateway/internal/chain"
	"github.com/tollgate/policy-gateway/internal/guardrails"
	"github.com/tollgate/policy-gateway/internal/ledger"
)

// Ledger is the accounting surface the gateway needs. *ledger.Ledger
// satisfies it; tests substitute fakes.
type Ledger interface {
	Read(ctx context.Context, callerID string) (ledger.UsageRecord, error)
	GlobalCost(ctx context.Context) (float64, error)
	Record(ctx context.Context, callerID string, promptTokens, completionTokens int64, cost float64) (ledger.UsageRecord, error)
	RecordModel(ctx context.Context, model string, promptTokens, completionTokens int64, cost float64) error
	AppendLog(entry ledger.CallLogEntry) error
}

// Request is one generation request. Policy and guardrail config are passed
// by value for the duration of the request; the gateway never retains them.
type Request struct {
	Prompt     string
	CallerID   string
	Guardrails guardrails.Config
	Policy     budget.Policy
}

// Response is a successful generation.
type Response struct {
	RequestID         string         `json:"request_id"`
	Text              string         `json:"text"`
	Tier              budget.Tier    `json:"tier"`
	Backend           string         `json:"backend"`
	Model             string         `json:"model"`
	GuardrailsApplied []string       `json:"guardrails_applied"`
	Usage             backends.Usage `json:"usage"`
	Cost              float64        `json:"cost"`
}

// Option configures the gateway.
type Option func(*Gateway)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithFailClosedAudit makes a failed audit write fail the whole request
// instead of being logged and tolerated.
func WithFailClosedAudit() Option {
	return func(g *Gateway) { g.failClosedAudit = true }
}

// Gateway wraps model invocations in budget selection and guardrail chains.
type Gateway struct {
	ledger   Ledger
	selector *budget.Selector
	backends map[budget.Tier]backends.Backend

	metrics         *Metrics
	failClosedAudit bool
	now             func() time.Time
}

// New creates a gateway. tierBackends must cover both tiers.
func New(led Ledger, tierBackends map[budget.Tier]backends.Backend, options ...Option) *Gateway {
	g := &Gateway{
		ledger:   led,
		selector: budget.NewSelector(led),
		backends: tierBackends,
		now:      time.Now,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Handle runs one request through selection, the guardrail chain, and
// accounting. All failures come back as *GatewayError.
func (g *Gateway) Handle(ctx context.Context, req Request) (*Response, error) {
	start := g.now()
	requestID := uuid.NewString()

	logger := log.With().Str("request_id", requestID).Str("caller_id", req.CallerID).Logger()

	sel, err := g.selector.SelectBackend(ctx, req.CallerID, req.Policy)
	if err != nil {
		// Budget reads fail closed.
		logger.Error().Err(err).Msg("gateway: budget read failed, blocking generation")
		g.metrics.observeRequest("ledger_unavailable", "", g.now().Sub(start).Seconds())
		return nil, newLedgerUnavailable()
	}

	if !sel.Allowed {
		gerr := newBudgetExceeded(sel.CallerCost, sel.LimitCost)
		if err := g.appendAudit(ledger.CallLogEntry{
			Timestamp:         g.now(),
			RequestID:         requestID,
			CallerID:          req.CallerID,
			GuardrailsApplied: []string{},
			Outcome:           ledger.OutcomeBudgetExceeded,
			Reason:            gerr.Reason,
		}); err != nil {
			return nil, err
		}
		g.metrics.observeRequest(ledger.OutcomeBudgetExceeded, string(sel.Tier), g.now().Sub(start).Seconds())
		return nil, gerr
	}

	backend, ok := g.backends[sel.Tier]
	if !ok {
		logger.Error().Str("tier", string(sel.Tier)).Msg("gateway: no backend configured for tier")
		g.metrics.observeRequest(ledger.OutcomeBackendFailure, string(sel.Tier), g.now().Sub(start).Seconds())
		return nil, newBackendFailure(false)
	}

	logger.Debug().
		Str("tier", string(sel.Tier)).
		Str("backend", backend.Name()).
		Float64("caller_cost", sel.CallerCost).
		Msg("gateway: request admitted")

	var recordedUsage backends.Usage
	var recordedCost float64

	invoke := chain.Build(req.Guardrails, backend, func(ctx context.Context, result *backends.Result) {
		cost := budget.CostForModel(result.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
		recordedUsage = result.Usage
		recordedCost = cost
		g.recordUsage(ctx, logger, req.CallerID, result, cost)
	})

	out, err := invoke(ctx, req.Prompt)
	elapsed := g.now().Sub(start).Seconds()

	switch {
	case err != nil:
		transient := backends.IsTransient(err)
		logger.Warn().Err(err).Bool("transient", transient).Msg("gateway: backend failure")
		if aerr := g.appendAudit(ledger.CallLogEntry{
			Timestamp:         g.now(),
			RequestID:         requestID,
			CallerID:          req.CallerID,
			BackendUsed:       backend.Name(),
			Model:             backend.Model(),
			GuardrailsApplied: out.Applied,
			Outcome:           ledger.OutcomeBackendFailure,
			Reason:            "backend error",
		}); aerr != nil {
			return nil, aerr
		}
		g.metrics.observeRequest(ledger.OutcomeBackendFailure, string(sel.Tier), elapsed)
		return nil, newBackendFailure(transient)

	case out.Rejection != nil:
		gerr := newGuardrailRejected(out.Rejection)
		logger.Info().
			Str("guardrail", out.Rejection.Guardrail).
			Str("stage", string(out.Rejection.Stage)).
			Str("reason", out.Rejection.Reason).
			Msg("gateway: guardrail rejected request")
		entry := ledger.CallLogEntry{
			Timestamp:         g.now(),
			RequestID:         requestID,
			CallerID:          req.CallerID,
			GuardrailsApplied: out.Applied,
			Outcome:           ledger.OutcomeGuardrailRejected,
			Reason:            gerr.Reason,
		}
		if out.BackendCalled {
			entry.BackendUsed = backend.Name()
			entry.Model = backend.Model()
			entry.PromptTokens = recordedUsage.PromptTokens
			entry.CompletionTokens = recordedUsage.CompletionTokens
			entry.Cost = recordedCost
		}
		if aerr := g.appendAudit(entry); aerr != nil {
			return nil, aerr
		}
		g.metrics.observeRejection(out.Rejection.Guardrail)
		g.metrics.observeRequest(ledger.OutcomeGuardrailRejected, string(sel.Tier), elapsed)
		return nil, gerr
	}

	if aerr := g.appendAudit(ledger.CallLogEntry{
		Timestamp:         g.now(),
		RequestID:         requestID,
		CallerID:          req.CallerID,
		BackendUsed:       backend.Name(),
		Model:             out.Result.Model,
		GuardrailsApplied: out.Applied,
		PromptTokens:      recordedUsage.PromptTokens,
		CompletionTokens:  recordedUsage.CompletionTokens,
		Cost:              recordedCost,
		Outcome:           ledger.OutcomeSuccess,
	}); aerr != nil {
		return nil, aerr
	}

	g.metrics.observeUsage(recordedUsage.PromptTokens, recordedUsage.CompletionTokens, recordedCost)
	g.metrics.observeRequest(ledger.OutcomeSuccess, string(sel.Tier), elapsed)

	return &Response{
		RequestID:         requestID,
		Text:              out.Text,
		Tier:              sel.Tier,
		Backend:           backend.Name(),
		Model:             out.Result.Model,
		GuardrailsApplied: out.Applied,
		Usage:             recordedUsage,
		Cost:              recordedCost,
	}, nil
}

// recordUsage writes consumed tokens to the ledger. A write failure after a
// completed generation is logged, never surfaced: accounting is advisory,
// the answer already exists. If the caller has abandoned the request the
// write is detached and fired asynchronously so cancellation is not blocked;
// tokens were consumed either way and the budget must not leak.
func (g *Gateway) recordUsage(ctx context.Context, logger zerolog.Logger, callerID string, result *backends.Result, cost float64) {
	write := func(ctx context.Context) {
		if _, err := g.ledger.Record(ctx, callerID,
			int64(result.Usage.PromptTokens), int64(result.Usage.CompletionTokens), cost); err != nil {
			logger.Error().Err(err).Msg("gateway: usage record write failed")
		}
		if err := g.ledger.RecordModel(ctx, result.Model,
			int64(result.Usage.PromptTokens), int64(result.Usage.CompletionTokens), cost); err != nil {
			logger.Error().Err(err).Msg("gateway: model totals write failed")
		}
	}

	if ctx.Err() != nil {
		go write(context.WithoutCancel(ctx))
		return
	}
	write(ctx)
}

// appendAudit writes one audit entry, honoring the fail-open/fail-closed
// policy for the audit stream.
func (g *Gateway) appendAudit(entry ledger.CallLogEntry) error {
	if err := g.ledger.AppendLog(entry); err != nil {
		if g.failClosedAudit {
			log.Error().Err(err).Msg("gateway: audit write failed (fail-closed)")
			return newLedgerUnavailable()
		}
		log.Warn().Err(err).Msg("gateway: audit write failed (fail-open, continuing)")
	}
	return nil
}
