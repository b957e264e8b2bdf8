package engine

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass buckets model provider failures for logs and metrics.
type ErrorClass string

const (
	ErrorClassAuth      ErrorClass = "AUTH"
	ErrorClassRateLimit ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout   ErrorClass = "TIMEOUT"
	ErrorClassBilling   ErrorClass = "BILLING"
	ErrorClassOverflow  ErrorClass = "CONTEXT_OVERFLOW"
	ErrorClassUnknown   ErrorClass = "UNKNOWN"
)

var errorPatterns = []struct {
	class   ErrorClass
	needles []string
}{
	{ErrorClassAuth, []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "invalid key"}},
	{ErrorClassRateLimit, []string{"429", "rate limit", "rate_limit", "quota", "too many requests"}},
	{ErrorClassTimeout, []string{"deadline exceeded", "timeout", "timed out"}},
	{ErrorClassBilling, []string{"billing", "payment", "insufficient"}},
	{ErrorClassOverflow, []string{"context_length", "context length", "context window", "maximum context", "token limit"}},
}

// ClassifyError returns the first class whose pattern matches err.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		for _, n := range p.needles {
			if strings.Contains(msg, n) {
				return p.class
			}
		}
	}
	return ErrorClassUnknown
}
