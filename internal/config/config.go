// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends.
const (
	SessionStoreSQLite = "sqlite"
	SessionStoreBadger = "badger"
	SessionStoreMemory = "memory"
)

// Extraction providers. "rules" needs no API key.
const (
	ProviderRules     = "rules"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	JWTSecret          string
	TokenTTL           time.Duration
	SessionStore       string
	BadgerPath         string
	LLM                LLMConfig
	ExtractionTimeout  time.Duration
	UnknownSlotPolicy  string
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxRequestBodySize int64
	GRPCHealthPort     string
	ConversationLog    ConversationLogConfig
}

// LLMConfig selects the extraction backend.
type LLMConfig struct {
	Provider        string
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	BaseURL         string
	MaxRetries      int
}

// APIKey returns the key for the selected provider.
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	}
	return ""
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/advisor.db"),
		JWTSecret:          getEnv("JWT_SECRET_KEY", ""),
		TokenTTL:           getEnvDuration("TOKEN_TTL", 24*time.Hour),
		SessionStore:       strings.ToLower(getEnv("SESSION_STORE", SessionStoreSQLite)),
		BadgerPath:         getEnv("BADGER_PATH", "./data/sessions"),
		ExtractionTimeout:  getEnvDuration("EXTRACTION_TIMEOUT", 15*time.Second),
		UnknownSlotPolicy:  strings.ToLower(getEnv("SLOT_UNKNOWN_POLICY", "ignore")),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 5),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 64*1024)),
		GRPCHealthPort:     getEnv("GRPC_HEALTH_PORT", ""),
		LLM: LLMConfig{
			Provider:        strings.ToLower(getEnv("LLM_PROVIDER", "")),
			Model:           getEnv("LLM_MODEL", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL:         getEnv("LLM_BASE_URL", ""),
			MaxRetries:      getEnvInt("LLM_MAX_RETRIES", 2),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = defaultProvider(cfg.LLM)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultProvider picks the first provider with a key, falling back to rules.
func defaultProvider(c LLMConfig) string {
	switch {
	case c.OpenAIAPIKey != "":
		return ProviderOpenAI
	case c.AnthropicAPIKey != "":
		return ProviderAnthropic
	}
	return ProviderRules
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 16 characters")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	switch c.SessionStore {
	case SessionStoreSQLite, SessionStoreMemory:
	case SessionStoreBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH cannot be empty when SESSION_STORE=badger")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be sqlite, badger or memory, got %q", c.SessionStore)
	}
	switch c.LLM.Provider {
	case ProviderRules:
	case ProviderOpenAI, ProviderAnthropic:
		if c.LLM.APIKey() == "" {
			return fmt.Errorf("LLM_PROVIDER=%s requires its API key", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be rules, openai or anthropic, got %q", c.LLM.Provider)
	}
	switch c.UnknownSlotPolicy {
	case "ignore", "fail":
	default:
		return fmt.Errorf("SLOT_UNKNOWN_POLICY must be ignore or fail, got %q", c.UnknownSlotPolicy)
	}
	if c.ExtractionTimeout <= 0 {
		return fmt.Errorf("EXTRACTION_TIMEOUT must be > 0")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:3000"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
