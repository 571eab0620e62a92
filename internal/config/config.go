// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transient switch policies applied when the current session changes while a
// reply is still being revealed.
const (
	SwitchFinalize = "finalize"
	SwitchDiscard  = "discard"
	SwitchBlock    = "block"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	// AllowAnonymous gives requests without a user id a per-device cookie identity.
	AllowAnonymous bool
	HistoryWindow  int
	SwitchPolicy   string // one of SwitchFinalize, SwitchDiscard, SwitchBlock
	EngineIdleTTL  time.Duration
	Completion     CompletionConfig
	Typing         TypingConfig
	RateLimit      RateLimitConfig
}

// CompletionConfig selects and tunes the completion provider.
type CompletionConfig struct {
	Provider  string // "openai" or "mock"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// TypingConfig controls the simulated typing reveal of assistant replies.
type TypingConfig struct {
	CharDelay time.Duration // 0 reveals instantly
	ChunkSize int
}

// RateLimitConfig bounds utterances per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	apiKey := getEnv("COMPLETION_API_KEY", "")
	defaultProvider := "mock"
	if apiKey != "" {
		defaultProvider = "openai"
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/brokernomex.db"),
		AllowAnonymous: getEnvBool("ALLOW_ANONYMOUS", false),
		HistoryWindow:  getEnvInt("CHAT_HISTORY_WINDOW", 10),
		SwitchPolicy:   strings.ToLower(getEnv("TRANSIENT_SWITCH_POLICY", SwitchFinalize)),
		EngineIdleTTL:  getEnvDuration("ENGINE_IDLE_TTL", 30*time.Minute),
		Completion: CompletionConfig{
			Provider:  strings.ToLower(getEnv("COMPLETION_PROVIDER", defaultProvider)),
			APIKey:    apiKey,
			BaseURL:   getEnv("COMPLETION_BASE_URL", ""),
			Model:     getEnv("COMPLETION_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("COMPLETION_MAX_TOKENS", 4000),
			Timeout:   getEnvDuration("COMPLETION_TIMEOUT", 60*time.Second),
		},
		Typing: TypingConfig{
			CharDelay: getEnvDuration("TYPING_CHAR_DELAY", 4*time.Millisecond),
			ChunkSize: getEnvInt("TYPING_CHUNK_SIZE", 1),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must be > 0")
	}
	switch c.SwitchPolicy {
	case SwitchFinalize, SwitchDiscard, SwitchBlock:
	default:
		return fmt.Errorf("TRANSIENT_SWITCH_POLICY must be one of finalize, discard, block (got %q)", c.SwitchPolicy)
	}
	switch c.Completion.Provider {
	case "mock":
	case "openai":
		if c.Completion.APIKey == "" {
			return fmt.Errorf("COMPLETION_API_KEY is required for the openai provider")
		}
	default:
		return fmt.Errorf("COMPLETION_PROVIDER must be openai or mock (got %q)", c.Completion.Provider)
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("COMPLETION_MODEL cannot be empty")
	}
	if c.Typing.CharDelay < 0 {
		return fmt.Errorf("TYPING_CHAR_DELAY cannot be negative")
	}
	if c.Typing.ChunkSize <= 0 {
		return fmt.Errorf("TYPING_CHUNK_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.EngineIdleTTL <= 0 {
		return fmt.Errorf("ENGINE_IDLE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}
