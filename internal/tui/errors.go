package tui

import (
	"errors"
	"net/http"
	"strings"
)

// humanError turns an error into one short line for the transcript.
// "POST /api/chat: dial tcp: connection refused" → "Connection refused"
func humanError(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusForbidden {
			return "The server rejected this device. Run `genie register` first."
		}
		return capitalize(apiErr.Message)
	}
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx != -1 && idx+2 < len(msg) {
		return capitalize(msg[idx+2:])
	}
	return msg
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
