package guardrails

import (
	"context"
	"regexp"
)

// piiPattern is one PII category with its redaction placeholder.
type piiPattern struct {
	category    string
	pattern     *regexp.Regexp
	replacement string
}

// piiPatterns is ordered: SSN before credit card so the narrower pattern
// claims its spans first. Placeholders never re-match any pattern, which is
// what makes redaction idempotent.
var piiPatterns = []piiPattern{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{"credit_card", regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), "[REDACTED_CREDIT_CARD]"},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
}

// PIIRedaction replaces matched PII spans with fixed placeholders,
// preserving the surrounding text. It never rejects.
type PIIRedaction struct{}

// NewPIIRedaction creates the PII redaction guardrail.
func NewPIIRedaction() *PIIRedaction {
	return &PIIRedaction{}
}

func (p *PIIRedaction) Name() string { return NamePIIRedaction }

func (p *PIIRedaction) Stage() Stage { return StagePre }

// Check redacts in place. Redacting already-redacted text is a no-op.
func (p *PIIRedaction) Check(ctx context.Context, text string) (string, *Rejection) {
	for _, pp := range piiPatterns {
		text = pp.pattern.ReplaceAllString(text, pp.replacement)
	}
	return text, nil
}

var _ Guardrail = (*PIIRedaction)(nil)
