package logging

import "strings"

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"bearer":        {},
	"token":         {},
	"signature":     {},
	"secret":        {},
}

// IsSensitive reports whether a log key must be masked before emission.
// Claim signatures and bearer credentials never reach the log stream.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// Redact returns the value unchanged unless the key is sensitive.
func Redact(key, value string) string {
	if IsSensitive(key) {
		return RedactedValue
	}
	return value
}
