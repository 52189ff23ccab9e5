package guardrail

import "regexp"

// defaultRedactPatterns flags the kind of values the event store must
// never persist verbatim: API keys, bearer tokens, private key material.
var defaultRedactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*\S+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact strips sensitive substrings from a string value. It is the single
// redactor function spec.md §9 calls for: one place applied at the event
// store boundary rather than scattered helpers.
func (e *Engine) Redact(value string) string {
	cfg := e.config()
	patterns := cfg.RedactPatterns
	if len(patterns) == 0 {
		patterns = defaultRedactPatterns
	}
	out := value
	for _, re := range patterns {
		out = re.ReplaceAllString(out, redactedPlaceholder)
	}
	return out
}

// RedactPayload walks a payload map and redacts any string values in place,
// returning a new map so the caller's original is left untouched.
func (e *Engine) RedactPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch vv := v.(type) {
		case string:
			out[k] = e.Redact(vv)
		case map[string]any:
			out[k] = e.RedactPayload(vv)
		default:
			out[k] = v
		}
	}
	return out
}
