package guardrails

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ReasonInvalidJSON is returned when the repair attempt is exhausted.
const ReasonInvalidJSON = "invalid_json"

// fencePattern matches a markdown code fence with optional json tag.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?(.*?)```")

// JSONEnforcement validates that the response is a JSON object. On parse
// failure it makes one bounded repair attempt: strip markdown code fences,
// then trim leading/trailing prose outside the outermost braces, and
// re-parse. A response that still fails is rejected; no partial text flows
// onward.
type JSONEnforcement struct{}

// NewJSONEnforcement creates the JSON-enforcement guardrail.
func NewJSONEnforcement() *JSONEnforcement {
	return &JSONEnforcement{}
}

func (j *JSONEnforcement) Name() string { return NameJSONEnforce }

func (j *JSONEnforcement) Stage() Stage { return StagePost }

func (j *JSONEnforcement) Check(ctx context.Context, text string) (string, *Rejection) {
	if candidate := strings.TrimSpace(text); isJSONObject(candidate) {
		return candidate, nil
	}

	repaired := repair(text)
	if isJSONObject(repaired) {
		log.Debug().Str("guardrail", NameJSONEnforce).Msg("guardrail: repaired malformed response")
		return repaired, nil
	}

	log.Warn().Str("guardrail", NameJSONEnforce).Msg("guardrail: response is not valid JSON after repair")
	return "", &Rejection{Guardrail: NameJSONEnforce, Stage: StagePost, Reason: ReasonInvalidJSON}
}

// repair is the single bounded repair pass: fence stripping, then trimming
// to the outermost object braces.
func repair(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		text = text[start : end+1]
	}
	return text
}

func isJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && gjson.Valid(s)
}

var _ Guardrail = (*JSONEnforcement)(nil)
