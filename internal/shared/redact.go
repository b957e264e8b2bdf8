package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches secret-bearing fragments in log and error strings.
var secretPatterns = []*regexp.Regexp{
	// key=value and key: value forms.
	regexp.MustCompile(`(?i)((?:api[_-]?key|apikey|secret|auth[_-]?token|password)\s*[:=]\s*"?)([A-Za-z0-9_\-./+=]{6,})"?`),
	// JSON bodies echoed into errors: "secret":"...".
	regexp.MustCompile(`(?i)("(?:secret|api_key|token|password)"\s*:\s*")([^"]+)"`),
	// Bearer tokens in Authorization headers.
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// OpenAI/DeepSeek style keys.
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`),
	// Gemini keys.
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	// Telegram bot tokens.
	regexp.MustCompile(`\b\d{6,12}:[A-Za-z0-9_\-]{30,}\b`),
}

// Redact replaces secret-bearing patterns in the input string with [REDACTED].
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				if strings.HasSuffix(match, `"`) && strings.HasSuffix(submatch[1], `"`) {
					return submatch[1] + redactedPlaceholder + `"`
				}
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// RedactEnvValue checks if a key name looks secret and returns redacted value if so.
func RedactEnvValue(key, value string) string {
	keyLower := strings.ToLower(key)
	sensitiveKeys := []string{"api_key", "apikey", "secret", "token", "password", "credential"}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return redactedPlaceholder
		}
	}
	return value
}
