package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	envConfigPath        = "CAREBOT_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envStorePath         = "CAREBOT_STORE_PATH"
)

// Config is the root runtime configuration loaded from config.json or config.toml.
type Config struct {
	Pipeline  PipelineConfig  `json:"pipeline" toml:"pipeline"`
	Providers ProvidersConfig `json:"providers" toml:"providers"`
	Language  LanguageConfig  `json:"language" toml:"language"`
	Channels  ChannelsConfig  `json:"channels" toml:"channels"`
	Gateway   GatewayConfig   `json:"gateway" toml:"gateway"`
	Store     StoreConfig     `json:"store" toml:"store"`
	Logging   LoggingConfig   `json:"logging,omitempty" toml:"logging"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" toml:"format" validate:"omitempty,oneof=text json"`
	Level     string `json:"level,omitempty" toml:"level"`
	AddSource bool   `json:"add_source,omitempty" toml:"add_source"`
}

// PipelineConfig holds the message pipeline budget, lexicons and fixed texts.
type PipelineConfig struct {
	DeadlineMs                  int               `json:"deadline_ms" toml:"deadline_ms" validate:"gte=0"`
	LanguageConfidenceThreshold *float64          `json:"language_confidence_threshold" toml:"language_confidence_threshold" validate:"omitnil,gte=0,lte=1"`
	EmergencyLexicon            []string          `json:"emergency_lexicon" toml:"emergency_lexicon" validate:"min=1,dive,required"`
	SearchLexicon               []string          `json:"search_lexicon" toml:"search_lexicon" validate:"dive,required"`
	Disclaimer                  string            `json:"disclaimer" toml:"disclaimer" validate:"required"`
	EmergencyBanner             string            `json:"emergency_banner" toml:"emergency_banner" validate:"required"`
	LocalizedBanners            map[string]string `json:"localized_banners,omitempty" toml:"localized_banners"`
	EmergencyTemplate           string            `json:"emergency_template" toml:"emergency_template" validate:"required"`
	FallbackTemplate            string            `json:"fallback_template" toml:"fallback_template" validate:"required"`
}

// Deadline returns the global budget for the pipelined stage.
func (c PipelineConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMs) * time.Millisecond
}

// ConfidenceThreshold returns the minimum detection confidence. An explicit
// zero accepts every detection.
func (c PipelineConfig) ConfidenceThreshold() float64 {
	if c.LanguageConfidenceThreshold == nil {
		return DefaultConfidenceThreshold
	}
	return *c.LanguageConfidenceThreshold
}

// ProvidersConfig stores per-upstream connection settings.
type ProvidersConfig struct {
	Reasoning  UpstreamConfig `json:"reasoning" toml:"reasoning"`
	Search     UpstreamConfig `json:"search" toml:"search"`
	Summarizer UpstreamConfig `json:"summarizer" toml:"summarizer"`
}

// UpstreamConfig configures one upstream AI client.
type UpstreamConfig struct {
	BaseURL   string          `json:"base_url" toml:"base_url" validate:"omitempty,url"`
	Model     string          `json:"model" toml:"model"`
	APIKeyEnv string          `json:"api_key_env" toml:"api_key_env"`
	TimeoutMs int             `json:"timeout_ms" toml:"timeout_ms" validate:"gte=0"`
	Attempts  int             `json:"attempts" toml:"attempts" validate:"gte=0,lte=5"`
	RateLimit RateLimitConfig `json:"rate_limit" toml:"rate_limit"`
}

// Timeout returns the per-attempt timeout.
func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// APIKey resolves the key from the configured environment variable.
func (c UpstreamConfig) APIKey() string {
	if name := strings.TrimSpace(c.APIKeyEnv); name != "" {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ""
}

// RateLimitConfig is a sliding-window quota.
type RateLimitConfig struct {
	WindowMs int `json:"window_ms" toml:"window_ms" validate:"gte=0"`
	Quota    int `json:"quota" toml:"quota" validate:"gte=0"`
}

// Window returns the sliding window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// LanguageConfig configures the translation provider.
type LanguageConfig struct {
	BaseURL   string `json:"base_url" toml:"base_url" validate:"omitempty,url"`
	APIKeyEnv string `json:"api_key_env" toml:"api_key_env"`
	TimeoutMs int    `json:"timeout_ms" toml:"timeout_ms" validate:"gte=0"`
}

// Timeout returns the per-call translation timeout.
func (c LanguageConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// APIKey resolves the translation key from the configured environment variable.
func (c LanguageConfig) APIKey() string {
	if name := strings.TrimSpace(c.APIKeyEnv); name != "" {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ""
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" toml:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled          bool     `json:"enabled" toml:"enabled"`
	Token            string   `json:"token" toml:"token"`
	AllowFrom        []string `json:"allow_from" toml:"allow_from"`
	BroadcastChatIDs []string `json:"broadcast_chat_ids,omitempty" toml:"broadcast_chat_ids"`
	BroadcastMessage string   `json:"broadcast_message,omitempty" toml:"broadcast_message"`
}

// GatewayConfig configures the status server bind settings and sender throttling.
type GatewayConfig struct {
	Host                string  `json:"host" toml:"host"`
	Port                int     `json:"port" toml:"port" validate:"gte=0,lte=65535"`
	SenderRatePerMinute float64 `json:"sender_rate_per_minute" toml:"sender_rate_per_minute" validate:"gte=0"`
	SenderBurst         int     `json:"sender_burst" toml:"sender_burst" validate:"gte=0"`
	ProbeIntervalSecs   int     `json:"probe_interval_seconds" toml:"probe_interval_seconds" validate:"gte=0"`
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	Path string `json:"path" toml:"path"`
}

// LoadConfig resolves the config file, unmarshals it, applies defaults and
// environment overrides, and validates the result.
//
// Without any config file the built-in defaults are used.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configPath != "" {
		if err := decodeFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks struct constraints on a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

func decodeFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if path := strings.TrimSpace(os.Getenv(envStorePath)); path != "" {
		cfg.Store.Path = path
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is CAREBOT_CONFIG first, then cwd-local fallback paths. An empty
// path with a nil error means no file exists and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config.toml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.toml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
