// Package config loads service configuration from an optional YAML file and
// COUNCIL_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use "__":
// COUNCIL_SERVER__PORT sets server.port.
const EnvPrefix = "COUNCIL_"

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Backend      BackendConfig      `koanf:"backend"`
	Models       ModelsConfig       `koanf:"models"`
	Conversation ConversationConfig `koanf:"conversation"`
	Storage      StorageConfig      `koanf:"storage"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int      `koanf:"port"`
	RequestTimeout string   `koanf:"request_timeout"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// BackendConfig selects and configures the generation backend.
type BackendConfig struct {
	Type    string `koanf:"type"` // openai, gemini, mock
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

// ModelConfig is a model identifier plus sampling temperature.
type ModelConfig struct {
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
}

type ModelsConfig struct {
	Default    ModelConfig `koanf:"default"`
	Integrator ModelConfig `koanf:"integrator"`
	Chat       ModelConfig `koanf:"chat"`
}

type ConversationConfig struct {
	// AutoEscalate applies the escalation heuristic when a turn arrives
	// without agent mode enabled.
	AutoEscalate bool             `koanf:"auto_escalate"`
	Escalation   EscalationConfig `koanf:"escalation"`
}

type EscalationConfig struct {
	Keywords      []string `koanf:"keywords"`
	MaxWords      int      `koanf:"max_words"`
	MaxChars      int      `koanf:"max_chars"`
	FirstRunWords int      `koanf:"first_run_words"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	StdoutTraces bool `koanf:"stdout_traces"`
	Metrics      bool `koanf:"metrics"`
}

// DefaultKeywords are the escalation keywords used when none are configured.
var DefaultKeywords = []string{
	"analysis",
	"analyze",
	"council",
	"debate",
	"full plan",
	"im guide",
	"intervention design",
	"mapping",
	"multi-agent",
	"run council",
	"strategy",
	"theory",
}

var defaults = map[string]any{
	"server.port":                             8000,
	"server.request_timeout":                  "10m",
	"server.allowed_origins":                  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	"backend.type":                            "openai",
	"backend.timeout":                         "120s",
	"models.default.model":                    "gpt-4o-mini",
	"models.default.temperature":              0.35,
	"models.integrator.model":                 "gpt-4.1",
	"models.integrator.temperature":           0.4,
	"models.chat.temperature":                 0.3,
	"conversation.escalation.keywords":        DefaultKeywords,
	"conversation.escalation.max_words":       120,
	"conversation.escalation.max_chars":       800,
	"conversation.escalation.first_run_words": 40,
	"storage.type":                            "memory",
	"storage.sqlite.path":                     ":memory:",
	"telemetry.metrics":                       true,
}

// Load reads path (DefaultPath when empty), then environment overrides, then
// defaults for anything still unset. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyLegacyEnv(k)

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Backend.APIKey = substituteEnvVars(cfg.Backend.APIKey)
	cfg.Backend.BaseURL = substituteEnvVars(cfg.Backend.BaseURL)
	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = apiKeyFromEnv(cfg.Backend.Type)
	}
	if cfg.Models.Chat.Model == "" {
		cfg.Models.Chat.Model = defaultChatModel(cfg.Backend.Type, cfg.Models.Default.Model)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv maps the flat variable names used by earlier deployments.
func applyLegacyEnv(k *koanf.Koanf) {
	if v := os.Getenv("COUNCIL_ALLOWED_ORIGINS"); v != "" {
		k.Set("server.allowed_origins", splitList(v))
	}
	if v := os.Getenv("COUNCIL_MODEL"); v != "" {
		k.Set("models.default.model", v)
	}
	if v, err := strconv.ParseFloat(os.Getenv("COUNCIL_TEMPERATURE"), 64); err == nil {
		k.Set("models.default.temperature", v)
	}
	if v := os.Getenv("INTEGRATOR_MODEL"); v != "" {
		k.Set("models.integrator.model", v)
	}
	if v, err := strconv.ParseFloat(os.Getenv("INTEGRATOR_TEMPERATURE"), 64); err == nil {
		k.Set("models.integrator.temperature", v)
	}
	// Environment values arrive as strings; normalize list keys.
	if v, ok := k.Get("server.allowed_origins").(string); ok {
		k.Set("server.allowed_origins", splitList(v))
	}
	if v, ok := k.Get("conversation.escalation.keywords").(string); ok {
		k.Set("conversation.escalation.keywords", splitList(v))
	}
}

func apiKeyFromEnv(backendType string) string {
	switch backendType {
	case "gemini":
		if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
			return v
		}
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func defaultChatModel(backendType, fallback string) string {
	if backendType == "gemini" {
		return "gemini-2.5-flash"
	}
	return fallback
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if _, err := c.Server.RequestTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Backend.TimeoutDuration(); err != nil {
		return err
	}
	if c.Models.Default.Model == "" {
		return fmt.Errorf("models.default.model must be set")
	}
	return nil
}

// RequestTimeoutDuration parses server.request_timeout. Zero disables the
// timeout.
func (s ServerConfig) RequestTimeoutDuration() (time.Duration, error) {
	return parseDuration("server.request_timeout", s.RequestTimeout)
}

// TimeoutDuration parses backend.timeout. Zero disables the timeout.
func (b BackendConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("backend.timeout", b.Timeout)
}

// IntegratorOrDefault returns the integrator model, falling back to the
// default model when unset.
func (m ModelsConfig) IntegratorOrDefault() ModelConfig {
	if m.Integrator.Model == "" {
		return m.Default
	}
	return m.Integrator
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, value)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
