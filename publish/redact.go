package publish

import (
	"regexp"
	"unicode/utf8"
)

// Provider error bodies can echo request headers or URLs back; strip
// anything that looks like credential material before recording them.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)(access_token=)[^&\s"]+`),
	regexp.MustCompile(`(?i)(refresh_token=)[^&\s"]+`),
	regexp.MustCompile(`(?i)("(?:access|refresh)_token"\s*:\s*")[^"]+`),
}

const maxErrorLen = 500

// Redact removes credential material from a provider message and bounds
// its length.
func Redact(message string) string {
	for _, pattern := range redactPatterns {
		message = pattern.ReplaceAllString(message, "${1}[REDACTED]")
	}
	if len(message) > maxErrorLen {
		cut := maxErrorLen
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}
	return message
}
