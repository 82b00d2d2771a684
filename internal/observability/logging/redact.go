package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// MaskValue hides non-empty values. Empty values stay empty so a missing
// secret is still visible as missing.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// Secret is a slog attribute whose value never reaches the log.
func Secret(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// MaskEmail keeps the domain and the first letter of the local part.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return MaskValue(email)
	}
	return local[:1] + "***@" + domain
}
