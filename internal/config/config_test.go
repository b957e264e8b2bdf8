package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/genie/internal/config"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_FromGenieHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "genie")
	writeConfig(t, home, "worker_count: 3\nmax_steps: 7\nhistory_limit: 12\n")
	if err := os.WriteFile(config.PersonaPath(home), []byte("persona text\n"), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	t.Setenv("GENIE_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.WorkerCount != 3 || cfg.MaxSteps != 7 || cfg.HistoryLimit != 12 {
		t.Fatalf("unexpected values: workers=%d steps=%d history=%d", cfg.WorkerCount, cfg.MaxSteps, cfg.HistoryLimit)
	}
	if cfg.Persona != "persona text" {
		t.Fatalf("unexpected persona: %q", cfg.Persona)
	}
	if cfg.HomeDir != home {
		t.Fatalf("HomeDir = %q, want %q", cfg.HomeDir, home)
	}
}

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSteps != 25 {
		t.Fatalf("MaxSteps = %d, want 25", cfg.MaxSteps)
	}
	if cfg.HistoryLimit != 20 {
		t.Fatalf("HistoryLimit = %d, want 20", cfg.HistoryLimit)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN != filepath.Join(home, "genie.db") {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.LLM.Provider != "openai_compatible" || cfg.LLM.Model != "deepseek-chat" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != 1.3 {
		t.Fatalf("temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.Persona != "" {
		t.Fatalf("expected empty persona, got %q", cfg.Persona)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "bind_addr: 0.0.0.0:9000\nworker_count: 2\n")
	t.Setenv("GENIE_BIND_ADDR", "127.0.0.1:7777")
	t.Setenv("GENIE_WORKER_COUNT", "9")
	t.Setenv("GENIE_MAX_STEPS", "not-a-number")
	t.Setenv("GENIE_REDIS_ADDR", "localhost:6379")

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:7777" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.WorkerCount != 9 {
		t.Fatalf("WorkerCount = %d", cfg.WorkerCount)
	}
	if cfg.MaxSteps != 25 {
		t.Fatalf("invalid env should be ignored, MaxSteps = %d", cfg.MaxSteps)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestLoad_NormalizesDriverAndProvider(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "database:\n  driver: PostgreSQL\n  dsn: postgres://u:p@localhost/genie\nllm:\n  provider: gemini\n")
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("provider = %q", cfg.LLM.Provider)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad driver", "database:\n  driver: mysql\n", "unsupported database driver"},
		{"postgres without dsn", "database:\n  driver: postgres\n", "database.dsn is required"},
		{"bad provider", "llm:\n  provider: mystery\n", "unsupported llm provider"},
		{"telegram link", "telegram:\n  enabled: true\n  links:\n    - client_id: c1\n", "telegram link"},
		{"history limit too large", "history_limit: 1500\n", "history_limit 1500 exceeds 1000"},
		{"negative token budget", "history_max_tokens: -1\n", "history_max_tokens must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			home := t.TempDir()
			writeConfig(t, home, tc.body)
			_, err := config.LoadFrom(home)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "worker_count: [\n")
	if _, err := config.LoadFrom(home); err == nil || !strings.Contains(err.Error(), "parse config.yaml") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLLMAPIKey_EnvPrecedence(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "llm:\n  api_key: from-file\n")
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Setenv("DEEPSEEK_API_KEY", "")
	if got := cfg.LLMAPIKey(); got != "from-file" {
		t.Fatalf("LLMAPIKey = %q, want from-file", got)
	}
	t.Setenv("DEEPSEEK_API_KEY", "from-env")
	if got := cfg.LLMAPIKey(); got != "from-env" {
		t.Fatalf("LLMAPIKey = %q, want from-env", got)
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	home := t.TempDir()
	a, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := a
	b.MaxSteps = a.MaxSteps + 1
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprint should change when max_steps changes")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatal("fingerprint should be stable")
	}
}
