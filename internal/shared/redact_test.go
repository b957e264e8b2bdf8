package shared

import (
	"strings"
	"testing"
)

func TestRedact_BearerToken(t *testing.T) {
	input := "Bearer abc123def456ghi789jkl0"
	result := Redact(input)
	if result != "Bearer [REDACTED]" {
		t.Fatalf("expected 'Bearer [REDACTED]', got %q", result)
	}
}

func TestRedact_KeyValue(t *testing.T) {
	input := `secret=hunter22abc`
	result := Redact(input)
	if result != "secret=[REDACTED]" {
		t.Fatalf("got %q", result)
	}
}

func TestRedact_JSONSecretField(t *testing.T) {
	input := `decode body {"client_id":"c1","secret":"s3cr3t-value"}`
	result := Redact(input)
	if strings.Contains(result, "s3cr3t-value") {
		t.Fatalf("secret leaked: %q", result)
	}
	if !strings.Contains(result, `"client_id":"c1"`) {
		t.Fatalf("non-secret field was altered: %q", result)
	}
	if !strings.Contains(result, `"secret":"[REDACTED]"`) {
		t.Fatalf("expected quoted placeholder, got %q", result)
	}
}

func TestRedact_ProviderKeys(t *testing.T) {
	cases := []string{
		"using sk-abcdefghijklmnopqrstuvwxyz012345",
		"key is AIzaSyA1234567890abcdefghijklmnopqrstuvwx",
		"bot 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawq",
	}
	for _, in := range cases {
		if got := Redact(in); got == in || !strings.Contains(got, "[REDACTED]") {
			t.Errorf("Redact(%q) = %q, want redaction", in, got)
		}
	}
}

func TestRedact_NoSecret(t *testing.T) {
	input := "Event 'Standup' scheduled for 2026-02-10T09:00:00"
	if result := Redact(input); result != input {
		t.Fatalf("expected no redaction, got %q", result)
	}
}

func TestRedact_Empty(t *testing.T) {
	if result := Redact(""); result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestRedactEnvValue_Sensitive(t *testing.T) {
	cases := []struct {
		key, value string
		expect     string
	}{
		{"DEEPSEEK_API_KEY", "some-secret", "[REDACTED]"},
		{"TELEGRAM_TOKEN", "abc123", "[REDACTED]"},
		{"password", "s3cret", "[REDACTED]"},
		{"GENIE_BIND_ADDR", "127.0.0.1:8000", "127.0.0.1:8000"},
		{"GENIE_LOG_LEVEL", "info", "info"},
	}
	for _, tc := range cases {
		if got := RedactEnvValue(tc.key, tc.value); got != tc.expect {
			t.Errorf("RedactEnvValue(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.expect)
		}
	}
}
