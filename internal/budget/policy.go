// Package budget implements budget policies, model pricing, and the
// budget-aware backend selector.
//
// DESIGN: Selection is a pure function of one ledger snapshot taken at
// request start. A request admitted on that snapshot runs to completion on
// its chosen tier even if concurrent requests cross the limit meanwhile;
// the budget is a soft near-real-time control, not a transactional cap.
package budget

import "fmt"

// Tier is the model-capability class chosen for a request.
type Tier string

const (
	// TierFull is the full-capability backend.
	TierFull Tier = "full"
	// TierDowngraded is the cheaper fallback backend used near budget
	// exhaustion.
	TierDowngraded Tier = "downgraded"
)

// Policy is the spending policy applied to one caller's requests.
// Read-only at request time; the gateway never retains it past a request.
type Policy struct {
	CallerID string `yaml:"caller_id" json:"caller_id"`

	// LimitCost is the hard per-window cap in USD. At or above it,
	// generation is refused until the window rolls over.
	LimitCost float64 `yaml:"limit_cost" json:"limit_cost"`

	// DowngradeThreshold is the fraction of LimitCost at which selection
	// switches to the downgraded tier. Must be in (0, 1].
	DowngradeThreshold float64 `yaml:"downgrade_threshold" json:"downgrade_threshold"`

	// GlobalLimitCost caps aggregate spend across all callers. Breaching it
	// degrades every caller to the downgraded tier rather than refusing,
	// since the downgraded tier is priced at zero. 0 = unlimited.
	GlobalLimitCost float64 `yaml:"global_limit_cost" json:"global_limit_cost"`
}

// Validate checks policy invariants.
func (p *Policy) Validate() error {
	if p.LimitCost < 0 {
		return fmt.Errorf("budget.limit_cost must be >= 0, got %f", p.LimitCost)
	}
	if p.DowngradeThreshold <= 0 || p.DowngradeThreshold > 1 {
		return fmt.Errorf("budget.downgrade_threshold must be in (0,1], got %f", p.DowngradeThreshold)
	}
	if p.GlobalLimitCost < 0 {
		return fmt.Errorf("budget.global_limit_cost must be >= 0, got %f", p.GlobalLimitCost)
	}
	return nil
}
