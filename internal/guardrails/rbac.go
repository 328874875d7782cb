package guardrails

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// restrictedActions maps a capability level to the actions its callers may
// not receive in a plan. Admin has no restrictions.
var restrictedActions = map[RBACLevel]map[string]bool{
	RBACReadOnly: {
		"reboot_tool":             true,
		"config_push_tool":        true,
		"outage_remediation_tool": true,
	},
}

// ReasonRestrictedAction prefixes the rejection reason with the offending
// action appended after a colon.
const ReasonRestrictedAction = "restricted_action"

// RBACCheck inspects the parsed structured response for declared actions the
// caller's capability level does not permit. It runs after JSON enforcement
// so the plan shape is already validated when both are enabled; responses
// that are not JSON objects pass through untouched.
type RBACCheck struct {
	level RBACLevel
}

// NewRBACCheck creates the action-gating guardrail for one caller level.
func NewRBACCheck(level RBACLevel) *RBACCheck {
	return &RBACCheck{level: level}
}

func (r *RBACCheck) Name() string { return NameRBAC }

func (r *RBACCheck) Stage() Stage { return StagePost }

func (r *RBACCheck) Check(ctx context.Context, text string) (string, *Rejection) {
	if r.level == RBACAdmin {
		return text, nil
	}

	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return text, nil
	}

	disallowed := restrictedActions[r.level]

	var rejection *Rejection
	parsed.Get("steps").ForEach(func(_, step gjson.Result) bool {
		tool := step.Get("tool").String()
		if tool == "" {
			return true
		}
		if disallowed[tool] {
			log.Warn().
				Str("guardrail", NameRBAC).
				Str("rbac_level", string(r.level)).
				Str("tool", tool).
				Msg("guardrail: restricted action in response")
			rejection = &Rejection{
				Guardrail: NameRBAC,
				Stage:     StagePost,
				Reason:    ReasonRestrictedAction + ":" + tool,
			}
			return false
		}
		return true
	})

	if rejection != nil {
		return "", rejection
	}
	return text, nil
}

var _ Guardrail = (*RBACCheck)(nil)
