package guardrails

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// injectionSignals are hard signals: any single match rejects the prompt.
var injectionSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(previous\s+)?(instructions|directions|prompts)\b`),
	regexp.MustCompile(`(?i)\b(system\s+prompt|initial\s+prompt|core\s+instructions)\b`),
	regexp.MustCompile(`(?i)\b(you\s+are\s+now|act\s+as|from\s+now\s+on\s+you)\b`),
	regexp.MustCompile(`(?i)\b(dan\b|do\s+anything\s+now|developer\s+mode|unfiltered\s+mode)\b`),
	regexp.MustCompile(`(?i)\bdisregard\s+the\s+above\b`),
	regexp.MustCompile(`(?i)\b(print\s+your\s+instructions|output\s+initial\s+prompt)\b`),
	regexp.MustCompile(`(?i)\bforget\s+everything\b`),
}

// suspiciousKeywords feed the soft score that catches variants the hard
// signals miss. Three or more distinct keywords reject the prompt.
var suspiciousKeywords = []string{
	"ignore", "prompt", "system", "instruction", "bypass", "override", "developer",
}

const keywordScoreThreshold = 3

// ReasonInjectionSuspected is the rejection reason code for this guardrail.
const ReasonInjectionSuspected = "prompt_injection_suspected"

// InjectionHeuristic scores prompts against a fixed signal set and rejects
// suspected injection attempts. It never modifies the text.
type InjectionHeuristic struct{}

// NewInjectionHeuristic creates the prompt-injection guardrail.
func NewInjectionHeuristic() *InjectionHeuristic {
	return &InjectionHeuristic{}
}

func (h *InjectionHeuristic) Name() string { return NameInjection }

func (h *InjectionHeuristic) Stage() Stage { return StagePre }

func (h *InjectionHeuristic) Check(ctx context.Context, text string) (string, *Rejection) {
	for _, pattern := range injectionSignals {
		if pattern.MatchString(text) {
			log.Warn().Str("guardrail", NameInjection).Msg("guardrail: injection signal matched")
			return "", &Rejection{Guardrail: NameInjection, Stage: StagePre, Reason: ReasonInjectionSuspected}
		}
	}

	lower := strings.ToLower(text)
	score := 0
	for _, word := range suspiciousKeywords {
		if strings.Contains(lower, word) {
			score++
		}
	}
	if score >= keywordScoreThreshold {
		log.Warn().Str("guardrail", NameInjection).Int("keyword_score", score).Msg("guardrail: keyword score over threshold")
		return "", &Rejection{Guardrail: NameInjection, Stage: StagePre, Reason: ReasonInjectionSuspected}
	}

	return text, nil
}

var _ Guardrail = (*InjectionHeuristic)(nil)
