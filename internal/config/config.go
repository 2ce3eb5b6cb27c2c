// Package config loads the gateway's ambient configuration (server,
// logging, database, admin) from a YAML file, then overlays the
// provider credentials and pricing knobs that are deliberately kept out
// of the YAML file and read straight from the environment instead,
// since they are usually injected by a secrets manager.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Admin      AdminConfig      `yaml:"admin"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Prometheus PrometheusConfig `yaml:"prometheus"`

	// LLMBackend is the provider used when a request names none
	// explicitly (LLM_BACKEND).
	LLMBackend string `yaml:"-"`

	// Providers holds one entry per provider this process knows how to
	// build a driver for, populated entirely from the environment.
	Providers map[string]ProviderConfig `yaml:"-"`

	Pricing PricingConfig `yaml:"-"`

	// AdminAPIKey gates the /api/v1/admin/* surface (ADMIN_API_KEY).
	AdminAPIKey string `yaml:"-"`

	RateLimit RateLimitConfig `yaml:"-"`

	Debug bool `yaml:"-"`
}

// RateLimitConfig controls the DID-keyed client rate limiter (spec
// §5 SUPPLEMENTED FEATURES): optional so it never contradicts the
// "core does not manage balances" Non-goal — it only throttles HTTP
// calls, not billing.
type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
	PerHour   int
	PerDay    int
}

// ProviderConfig is the unified configuration for any upstream LLM
// backend: base URL, credential, and the default model used when a
// client's request omits "model".
type ProviderConfig struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	TimeoutSeconds int
}

// PricingConfig carries the pricing registry's construction knobs
// (spec §4.5): the active rate-table version tag, a JSON override
// blob, and a global markup multiplier.
type PricingConfig struct {
	Version       string
	OverridesJSON string
	Multiplier    float64
}

type ServerConfig struct {
	Host  string      `yaml:"host"`
	Port  int         `yaml:"port"`
	HTTPS HTTPSConfig `yaml:"https"`
}

type HTTPSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AdminConfig covers the admin dashboard's own login, distinct from
// AdminAPIKey which gates the JSON admin API.
type AdminConfig struct {
	Username      string `yaml:"username"`
	PasswordHash  string `yaml:"password_hash"`
	SessionSecret string `yaml:"session_secret"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func (c *LoggingConfig) IsDebug() bool { return c.Level == "debug" }

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var configPath string

// Load reads the YAML ambient config (creating a default one with
// generated admin credentials if absent), then overlays provider
// secrets and pricing knobs from the environment.
func Load(path string) (*Config, error) {
	configPath = path
	cfg, err := loadYAML(path)
	if err != nil {
		return nil, err
	}

	cfg.Providers = loadProvidersFromEnv()
	cfg.LLMBackend = envOr("LLM_BACKEND", "openai")
	cfg.Pricing = PricingConfig{
		Version:       envOr("OPENAI_PRICING_VERSION", "2025-01"),
		OverridesJSON: os.Getenv("PRICING_OVERRIDES"),
		Multiplier:    envFloatOr("PRICING_MULTIPLIER", 1.0),
	}
	cfg.AdminAPIKey = os.Getenv("ADMIN_API_KEY")
	cfg.Debug = os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true"
	cfg.RateLimit = RateLimitConfig{
		Enabled:   os.Getenv("RATE_LIMIT_ENABLED") == "1" || os.Getenv("RATE_LIMIT_ENABLED") == "true",
		PerMinute: envIntOr("RATE_LIMIT_PER_MINUTE", 60),
		PerHour:   envIntOr("RATE_LIMIT_PER_HOUR", 1000),
		PerDay:    envIntOr("RATE_LIMIT_PER_DAY", 10000),
	}

	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultConfig(path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	cfg, err = ensureDefaults(cfg, path)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadProvidersFromEnv builds one ProviderConfig per provider the
// gateway supports, reading the per-provider API key, base URL,
// default model and timeout env vars.
// A provider with no API key configured is still populated (its
// DefaultModel/BaseURL may still be useful for Google, whose free tier
// needs no key) — providers.Build decides whether to actually register it.
func loadProvidersFromEnv() map[string]ProviderConfig {
	providers := map[string]ProviderConfig{
		"openai": {
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			BaseURL:        envOr("OPENAI_BASE_URL", ""),
			DefaultModel:   envOr("OPENAI_DEFAULT_MODEL", "gpt-4o-mini"),
			TimeoutSeconds: envIntOr("OPENAI_TIMEOUT_SECONDS", 120),
		},
		"claude": {
			APIKey:         os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:        envOr("ANTHROPIC_BASE_URL", ""),
			DefaultModel:   envOr("ANTHROPIC_DEFAULT_MODEL", "claude-3-5-haiku-20241022"),
			TimeoutSeconds: envIntOr("ANTHROPIC_TIMEOUT_SECONDS", 120),
		},
		"google": {
			APIKey:         os.Getenv("GOOGLE_API_KEY"),
			BaseURL:        envOr("GOOGLE_BASE_URL", ""),
			DefaultModel:   envOr("GOOGLE_DEFAULT_MODEL", "gemini-2.0-flash"),
			TimeoutSeconds: envIntOr("GOOGLE_TIMEOUT_SECONDS", 120),
		},
		"openrouter": {
			APIKey:         os.Getenv("OPENROUTER_API_KEY"),
			BaseURL:        envOr("OPENROUTER_BASE_URL", ""),
			DefaultModel:   envOr("OPENROUTER_DEFAULT_MODEL", "openrouter/auto"),
			TimeoutSeconds: envIntOr("OPENROUTER_TIMEOUT_SECONDS", 120),
		},
		"litellm": {
			APIKey:         os.Getenv("LITELLM_MASTER_KEY"),
			BaseURL:        envOr("LITELLM_BASE_URL", ""),
			DefaultModel:   envOr("LITELLM_DEFAULT_MODEL", ""),
			TimeoutSeconds: envIntOr("LITELLM_TIMEOUT_SECONDS", 120),
		},
	}
	return providers
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func createDefaultConfig(path string) (*Config, error) {
	secret := generateRandomString(32)
	defaultPassword := generateRandomString(16)
	hash, err := bcrypt.GenerateFromPassword([]byte(defaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Admin: AdminConfig{
			Username:      "admin",
			PasswordHash:  string(hash),
			SessionSecret: secret,
		},
		Database: DatabaseConfig{
			Path: "./data/gateway.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./logs/gateway.log",
		},
	}

	if err := saveConfig(cfg, path); err != nil {
		return nil, err
	}

	fmt.Printf("\n===========================================\n")
	fmt.Printf("  Default admin credentials generated!\n")
	fmt.Printf("===========================================\n")
	fmt.Printf("  Username: admin\n")
	fmt.Printf("  Password: %s\n", defaultPassword)
	fmt.Printf("  (Save this - it will not be shown again)\n")
	fmt.Printf("===========================================\n\n")

	return cfg, nil
}

func ensureDefaults(cfg Config, path string) (Config, error) {
	changed := false

	if cfg.Admin.SessionSecret == "" {
		cfg.Admin.SessionSecret = generateRandomString(32)
		changed = true
	}

	if cfg.Prometheus.Enabled && cfg.Prometheus.Username == "" {
		cfg.Prometheus.Username = "prometheus"
		cfg.Prometheus.Password = generateRandomString(20)
		changed = true
	}

	if changed {
		if err := saveConfig(&cfg, path); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func saveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// SaveConfig exports saveConfig for external use (admin hot-reload).
func SaveConfig(cfg *Config, path string) error {
	return saveConfig(cfg, path)
}

func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return hex.EncodeToString(b)[:length]
}

// Save persists cfg back to the path it was loaded from, if any.
func Save(cfg *Config) {
	if configPath == "" {
		return
	}
	saveConfig(cfg, configPath)
}
