package budget

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tollgate/policy-gateway/internal/ledger"
)

// UsageReader is the slice of the ledger the selector needs.
type UsageReader interface {
	Read(ctx context.Context, callerID string) (ledger.UsageRecord, error)
	GlobalCost(ctx context.Context) (float64, error)
}

// Selection is the result of one budget decision.
type Selection struct {
	Tier    Tier
	Allowed bool

	// Snapshot values the decision was made on, for logging and the
	// rejection message.
	CallerCost float64
	GlobalCost float64
	LimitCost  float64
}

// Selector picks the backend tier for a request from one ledger snapshot.
type Selector struct {
	usage UsageReader
}

// NewSelector creates a selector reading from the given ledger.
func NewSelector(usage UsageReader) *Selector {
	return &Selector{usage: usage}
}

// SelectBackend reads the caller's current window once and decides.
//
//   - accumulated >= limit:               refused (terminal for the window)
//   - accumulated >= limit * threshold:   downgraded tier
//   - global limit breached:              downgraded tier for everyone
//   - otherwise:                          full tier
//
// Ties favor the conservative branch: at exactly the threshold we downgrade,
// at exactly the limit we refuse. A zero LimitCost means the caller has no
// per-window cap.
func (s *Selector) SelectBackend(ctx context.Context, callerID string, policy Policy) (Selection, error) {
	rec, err := s.usage.Read(ctx, callerID)
	if err != nil {
		return Selection{}, err
	}

	sel := Selection{
		Tier:       TierFull,
		Allowed:    true,
		CallerCost: rec.CostAccumulated,
		LimitCost:  policy.LimitCost,
	}

	if policy.GlobalLimitCost > 0 {
		global, err := s.usage.GlobalCost(ctx)
		if err != nil {
			return Selection{}, err
		}
		sel.GlobalCost = global
		if global >= policy.GlobalLimitCost {
			log.Warn().
				Float64("global_cost", global).
				Float64("global_limit", policy.GlobalLimitCost).
				Msg("budget: global limit breached, degrading tier")
			sel.Tier = TierDowngraded
		}
	}

	if policy.LimitCost > 0 {
		switch {
		case rec.CostAccumulated >= policy.LimitCost:
			sel.Allowed = false
			sel.Tier = TierDowngraded
			log.Warn().
				Str("caller_id", callerID).
				Float64("cost", rec.CostAccumulated).
				Float64("limit", policy.LimitCost).
				Msg("budget: caller limit breached, refusing generation")
		case rec.CostAccumulated >= policy.LimitCost*policy.DowngradeThreshold:
			sel.Tier = TierDowngraded
			log.Info().
				Str("caller_id", callerID).
				Float64("cost", rec.CostAccumulated).
				Float64("threshold", policy.LimitCost*policy.DowngradeThreshold).
				Msg("budget: downgrade threshold crossed")
		}
	}

	return sel, nil
}
