package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)
	jwtPattern    = regexp.MustCompile(`\beyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\b`)
	clickupKey    = regexp.MustCompile(`\bpk_[0-9]+_[A-Z0-9]{16,}\b`)
)

// RedactPII masks common high-risk PII patterns and credentials in free text
// such as chat messages before they are stored.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	steps := []struct {
		pattern *regexp.Regexp
		repl    string
	}{
		{jwtPattern, "[REDACTED_TOKEN]"},
		{bearerPattern, "Bearer [REDACTED_TOKEN]"},
		{clickupKey, "[REDACTED_TOKEN]"},
		{emailPattern, "[REDACTED_EMAIL]"},
		// Run card redaction before phone to avoid card numbers being classified as phone.
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	}
	for _, step := range steps {
		next := step.pattern.ReplaceAllString(out, step.repl)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactEmail keeps the first character of the local part and the domain,
// which is enough to tell accounts apart in logs.
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// RedactToken shortens a credential to a stable, non-secret fingerprint.
func RedactToken(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 8 {
		if token == "" {
			return ""
		}
		return "***"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
