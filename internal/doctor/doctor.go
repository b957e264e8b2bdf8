// Package doctor runs local diagnostics for a genie installation.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/genie/internal/config"
	"github.com/basket/genie/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed outright.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// lookupHost and dialTimeout are swapped out in tests.
var (
	lookupHost  = net.DefaultResolver.LookupHost
	dialTimeout = net.DialTimeout
)

// Run executes all diagnostic checks against cfg.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkDatabase,
		checkPermissions,
		checkRedis,
		checkNetwork,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	return CheckResult{
		Name:    "Config",
		Status:  StatusPass,
		Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir),
		Detail:  "fingerprint " + cfg.Fingerprint(),
	}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.LLMAPIKey() != "" {
		return CheckResult{Name: "API Key", Status: StatusPass, Message: fmt.Sprintf("Key configured for %s", cfg.LLM.Provider)}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  StatusWarn,
		Message: fmt.Sprintf("No API key for provider %q; chat will reply offline", cfg.LLM.Provider),
		Detail:  "Set llm.api_key in config.yaml or the provider's environment variable",
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}
	store, err := persistence.Open(cfg.Database.Driver, cfg.Database.DSN, 1)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Ping failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: StatusPass, Message: "Connection and schema valid", Detail: store.Driver()}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	_ = os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

func checkRedis(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Redis.Addr == "" {
		return CheckResult{Name: "Redis", Status: StatusSkip, Message: "Relay not configured"}
	}
	conn, err := dialTimeout("tcp", cfg.Redis.Addr, 3*time.Second)
	if err != nil {
		return CheckResult{
			Name:    "Redis",
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s unreachable", cfg.Redis.Addr),
			Detail:  "Notifications will stay local to this instance: " + err.Error(),
		}
	}
	_ = conn.Close()
	return CheckResult{Name: "Redis", Status: StatusPass, Message: fmt.Sprintf("%s reachable", cfg.Redis.Addr)}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	host := llmHost(cfg.LLM)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	addrs, err := lookupHost(ctx, host)
	if err != nil {
		return CheckResult{Name: "Network", Status: StatusFail, Message: fmt.Sprintf("DNS lookup failed for %s", host), Detail: err.Error()}
	}
	return CheckResult{Name: "Network", Status: StatusPass, Message: fmt.Sprintf("Resolved %s", host), Detail: strings.Join(addrs, ", ")}
}

// llmHost returns the hostname chat requests will be sent to.
func llmHost(llm config.LLMConfig) string {
	if llm.BaseURL != "" {
		if u, err := url.Parse(llm.BaseURL); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	switch strings.ToLower(llm.Provider) {
	case "openai":
		return "api.openai.com"
	case "anthropic":
		return "api.anthropic.com"
	case "google":
		return "generativelanguage.googleapis.com"
	default:
		return "api.deepseek.com"
	}
}
