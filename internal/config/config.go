package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	otelPkg "github.com/basket/genie/internal/otel"
)

// DatabaseConfig selects the storage driver.
type DatabaseConfig struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite3 or a connection URL for postgres.
	// Empty sqlite3 DSN means <home>/genie.db.
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LLMConfig holds the model provider settings.
type LLMConfig struct {
	// Provider names the active LLM provider: "openai_compatible", "openai", "anthropic", "google".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// BaseURL applies to openai_compatible (e.g. https://api.deepseek.com).
	BaseURL string `yaml:"base_url"`
	// ProviderName is the model prefix registered for openai_compatible.
	ProviderName string  `yaml:"provider_name"`
	APIKey       string  `yaml:"api_key"`
	Temperature  float64 `yaml:"temperature"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// RedisConfig enables cross-process fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// RetentionConfig controls the chat history pruning job.
type RetentionConfig struct {
	// Schedule is a 5-field cron expression. Empty disables the job.
	Schedule string `yaml:"schedule"`
	// ChatDays is the maximum chat turn age. 0 keeps history forever.
	ChatDays int `yaml:"chat_days"`
}

// TelegramLink pairs a Telegram user with a registered device credential.
type TelegramLink struct {
	UserID   int64  `yaml:"user_id"`
	ClientID string `yaml:"client_id"`
	Secret   string `yaml:"secret"`
}

type TelegramConfig struct {
	Enabled bool           `yaml:"enabled"`
	Token   string         `yaml:"token"`
	Links   []TelegramLink `yaml:"links"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr            string `yaml:"bind_addr"`
	LogLevel            string `yaml:"log_level"`
	WorkerCount         int    `yaml:"worker_count"`
	MaxQueueDepth       int    `yaml:"max_queue_depth"`
	MaxSteps            int    `yaml:"max_steps"`
	HistoryLimit        int    `yaml:"history_limit"`
	// HistoryMaxTokens bounds the replayed window by estimated tokens. 0 disables it.
	HistoryMaxTokens    int    `yaml:"history_max_tokens"`
	DrainTimeoutSeconds int    `yaml:"drain_timeout_seconds"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes"`

	// AllowOrigins controls which Origin headers are accepted for browser WS connections.
	// Empty means same-origin only.
	AllowOrigins []string `yaml:"allow_origins"`

	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	OTel      otelPkg.Config  `yaml:"otel"`
	Redis     RedisConfig     `yaml:"redis"`
	Retention RetentionConfig `yaml:"retention"`
	Telegram  TelegramConfig  `yaml:"telegram"`

	// Persona is the contents of <home>/persona.md, if present.
	Persona string `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// PersonaPath returns the path to the persona override file.
func PersonaPath(homeDir string) string {
	return filepath.Join(homeDir, "persona.md")
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "workers=%d|steps=%d|history=%d/%d|bind=%s|log=%s|db=%s|llm=%s/%s|origins=%v",
		c.WorkerCount, c.MaxSteps, c.HistoryLimit, c.HistoryMaxTokens, c.BindAddr, c.LogLevel,
		c.Database.Driver, c.LLM.Provider, c.LLM.Model, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// DrainTimeout returns the bounded shutdown drain window.
func (c Config) DrainTimeout() time.Duration {
	if c.DrainTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// LLMAPIKey returns the API key for the active provider. Env vars take precedence.
func (c Config) LLMAPIKey() string {
	envMap := map[string]string{
		"openai_compatible": "DEEPSEEK_API_KEY",
		"openai":            "OPENAI_API_KEY",
		"anthropic":         "ANTHROPIC_API_KEY",
		"google":            "GEMINI_API_KEY",
	}
	if envVar, ok := envMap[c.LLM.Provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return c.LLM.APIKey
}

func defaultConfig() Config {
	return Config{
		BindAddr:            "127.0.0.1:8000",
		LogLevel:            "info",
		WorkerCount:         4,
		MaxQueueDepth:       64,
		MaxSteps:            25,
		HistoryLimit:        20,
		DrainTimeoutSeconds: 5,
		MaxBodyBytes:        1 << 20,
		Database: DatabaseConfig{
			Driver:       "sqlite3",
			MaxOpenConns: 10,
		},
		LLM: LLMConfig{
			Provider:     "openai_compatible",
			ProviderName: "deepseek",
			Model:        "deepseek-chat",
			BaseURL:      "https://api.deepseek.com",
			Temperature:  1.3,
		},
		Redis: RedisConfig{
			Channel: "genie:fanout",
		},
		Retention: RetentionConfig{
			Schedule: "30 3 * * *",
			ChatDays: 0,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("GENIE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".genie")
}

// Load reads <GENIE_HOME>/config.yaml over defaults and applies env overrides.
// A missing config.yaml is not an error.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create genie home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Persona = LoadPersona(cfg.HomeDir)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadPersona returns the persona override, or "" when none exists.
func LoadPersona(homeDir string) string {
	b, err := os.ReadFile(PersonaPath(homeDir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// MaxHistoryLimit is the largest history_limit storage will serve in one read.
const MaxHistoryLimit = 1000

func normalize(cfg *Config) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 25
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	switch cfg.Database.Driver {
	case "", "sqlite":
		cfg.Database.Driver = "sqlite3"
	case "postgresql", "pg":
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Driver == "sqlite3" && cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.HomeDir, "genie.db")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "deepseek" {
		cfg.LLM.Provider = "openai_compatible"
	}
	if cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "genie:fanout"
	}
}

func validate(cfg Config) error {
	if cfg.HistoryMaxTokens < 0 {
		return fmt.Errorf("history_max_tokens must not be negative")
	}
	if cfg.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("history_limit %d exceeds %d", cfg.HistoryLimit, MaxHistoryLimit)
	}
	switch cfg.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (supported: sqlite3, postgres)", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	switch cfg.LLM.Provider {
	case "openai_compatible", "openai", "anthropic", "google":
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	if cfg.Telegram.Enabled {
		for _, l := range cfg.Telegram.Links {
			if l.UserID == 0 || l.ClientID == "" {
				return fmt.Errorf("telegram link requires user_id and client_id")
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("GENIE_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("GENIE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("GENIE_WORKER_COUNT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.WorkerCount = v
		}
	}
	if raw := os.Getenv("GENIE_MAX_STEPS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxSteps = v
		}
	}
	if raw := os.Getenv("GENIE_HISTORY_LIMIT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HistoryLimit = v
		}
	}
	if raw := os.Getenv("GENIE_HISTORY_MAX_TOKENS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HistoryMaxTokens = v
		}
	}
	if raw := os.Getenv("GENIE_DB_DRIVER"); raw != "" {
		cfg.Database.Driver = raw
	}
	if raw := os.Getenv("GENIE_DB_DSN"); raw != "" {
		cfg.Database.DSN = raw
	}
	if raw := os.Getenv("GENIE_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("GENIE_LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("GENIE_REDIS_ADDR"); raw != "" {
		cfg.Redis.Addr = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
}
