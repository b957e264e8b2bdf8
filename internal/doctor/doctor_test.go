package doctor

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/genie/internal/config"
)

func stubNetwork(t *testing.T, lookupErr, dialErr error) {
	t.Helper()
	origLookup, origDial := lookupHost, dialTimeout
	lookupHost = func(_ context.Context, host string) ([]string, error) {
		if lookupErr != nil {
			return nil, lookupErr
		}
		return []string{"192.0.2.1"}, nil
	}
	dialTimeout = func(network, addr string, _ time.Duration) (net.Conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		c1, c2 := net.Pipe()
		_ = c2.Close()
		return c1, nil
	}
	t.Cleanup(func() { lookupHost, dialTimeout = origLookup, origDial })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	return &config.Config{
		HomeDir:  home,
		Database: config.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(home, "genie.db")},
		LLM:      config.LLMConfig{Provider: "openai_compatible"},
	}
}

func statuses(d Diagnosis) map[string]string {
	out := map[string]string{}
	for _, r := range d.Results {
		out[r.Name] = r.Status
	}
	return out
}

func TestRun_HealthyInstall(t *testing.T) {
	stubNetwork(t, nil, nil)
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:6379"

	d := Run(context.Background(), cfg, "v-test")
	want := map[string]string{
		"Config":      StatusPass,
		"API Key":     StatusPass,
		"Database":    StatusPass,
		"Permissions": StatusPass,
		"Redis":       StatusPass,
		"Network":     StatusPass,
	}
	got := statuses(d)
	for name, status := range want {
		if got[name] != status {
			t.Errorf("%s = %s, want %s", name, got[name], status)
		}
	}
	if d.Failed() {
		t.Fatal("healthy install reported failure")
	}
	if d.System.Version != "v-test" {
		t.Fatalf("version = %q", d.System.Version)
	}
}

func TestRun_Degraded(t *testing.T) {
	stubNetwork(t, errors.New("no such host"), errors.New("connection refused"))
	t.Setenv("DEEPSEEK_API_KEY", "")
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"

	got := statuses(Run(context.Background(), cfg, ""))
	if got["API Key"] != StatusWarn {
		t.Errorf("API Key = %s", got["API Key"])
	}
	if got["Redis"] != StatusWarn {
		t.Errorf("Redis = %s", got["Redis"])
	}
	if got["Network"] != StatusFail {
		t.Errorf("Network = %s", got["Network"])
	}
}

func TestRun_NilConfig(t *testing.T) {
	d := Run(context.Background(), nil, "")
	got := statuses(d)
	if got["Config"] != StatusFail {
		t.Fatalf("Config = %s", got["Config"])
	}
	for _, name := range []string{"API Key", "Database", "Permissions", "Redis", "Network"} {
		if got[name] != StatusSkip {
			t.Errorf("%s = %s, want SKIP", name, got[name])
		}
	}
	if !d.Failed() {
		t.Fatal("nil config should fail")
	}
}

func TestCheckDatabase_BadDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	if r := checkDatabase(context.Background(), cfg); r.Status != StatusFail {
		t.Fatalf("status = %s (%s)", r.Status, r.Message)
	}
}

func TestLLMHost(t *testing.T) {
	tests := []struct {
		llm  config.LLMConfig
		want string
	}{
		{config.LLMConfig{Provider: "openai_compatible"}, "api.deepseek.com"},
		{config.LLMConfig{Provider: "openai_compatible", BaseURL: "http://localhost:11434/v1"}, "localhost"},
		{config.LLMConfig{Provider: "anthropic"}, "api.anthropic.com"},
		{config.LLMConfig{Provider: "google"}, "generativelanguage.googleapis.com"},
		{config.LLMConfig{Provider: "OpenAI"}, "api.openai.com"},
	}
	for _, tc := range tests {
		if got := llmHost(tc.llm); got != tc.want {
			t.Errorf("llmHost(%+v) = %q, want %q", tc.llm, got, tc.want)
		}
	}
}
