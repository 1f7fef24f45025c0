// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/smartfin/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Agents         SweepConfig
	Datasets       SweepConfig
	GraphRetention time.Duration

	MaxUploadBytes int64
	MaxImageBytes  int64

	LLMCallTimeout    time.Duration
	CorrectionTimeout time.Duration

	Providers       ProviderConfig
	VectorStore     VectorStoreConfig
	OCRAddr         string
	SMTP            SMTPConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// SweepConfig parameterizes one eviction scheduler.
type SweepConfig struct {
	Interval time.Duration
	TTL      time.Duration
}

// ProviderConfig holds the process-wide default credentials and the
// OpenAI-compatible endpoints.
type ProviderConfig struct {
	GroqAPIKey      string
	GoogleAPIKey    string
	AnthropicAPIKey string
	GroqBaseURL     string
	GoogleBaseURL   string
}

// VectorStoreConfig selects the vector store and embedder. An empty
// QdrantURL keeps points in memory; an empty EmbeddingAPIKey uses the local
// hashed embedder.
type VectorStoreConfig struct {
	QdrantURL           string
	QdrantAPIKey        string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// SMTPConfig holds the report sender account.
type SMTPConfig struct {
	Host     string
	Port     int
	Sender   string
	Password string
}

// RateLimitConfig throttles prompts per session.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
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
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/smartfin.db"),
		Agents: SweepConfig{
			Interval: getEnvDuration("AGENT_SWEEP_INTERVAL", 5*time.Minute),
			TTL:      getEnvDuration("AGENT_TTL", 30*time.Minute),
		},
		Datasets: SweepConfig{
			Interval: getEnvDuration("DATASET_SWEEP_INTERVAL", 5*time.Minute),
			TTL:      getEnvDuration("DATASET_TTL", 10*time.Minute),
		},
		GraphRetention:    getEnvDuration("GRAPH_RETENTION", 7*24*time.Hour),
		MaxUploadBytes:    getEnvInt64("MAX_UPLOAD_BYTES", 100<<20),
		MaxImageBytes:     getEnvInt64("MAX_IMAGE_BYTES", 10<<20),
		LLMCallTimeout:    getEnvDuration("LLM_CALL_TIMEOUT", 60*time.Second),
		CorrectionTimeout: getEnvDuration("CORRECTION_TIMEOUT", 30*time.Second),
		Providers: ProviderConfig{
			GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
			GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			GroqBaseURL:     getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1/"),
			GoogleBaseURL:   getEnv("GOOGLE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		},
		VectorStore: VectorStoreConfig{
			QdrantURL:           getEnv("QDRANT_URL", ""),
			QdrantAPIKey:        getEnv("QDRANT_API_KEY", ""),
			EmbeddingAPIKey:     getEnv("EMBEDDING_API_KEY", ""),
			EmbeddingBaseURL:    getEnv("EMBEDDING_BASE_URL", ""),
			EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		},
		OCRAddr: getEnv("OCR_ADDR", ""),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Sender:   getEnv("SENDER_EMAIL", ""),
			Password: getEnv("SENDER_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
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
	if c.Agents.Interval <= 0 || c.Agents.TTL <= 0 {
		return fmt.Errorf("AGENT_SWEEP_INTERVAL and AGENT_TTL must be > 0")
	}
	if c.Datasets.Interval <= 0 || c.Datasets.TTL <= 0 {
		return fmt.Errorf("DATASET_SWEEP_INTERVAL and DATASET_TTL must be > 0")
	}
	if c.GraphRetention <= 0 {
		return fmt.Errorf("GRAPH_RETENTION must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0")
	}
	if c.LLMCallTimeout <= 0 || c.CorrectionTimeout <= 0 {
		return fmt.Errorf("LLM_CALL_TIMEOUT and CORRECTION_TIMEOUT must be > 0")
	}
	if c.VectorStore.EmbeddingAPIKey != "" && c.VectorStore.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be > 0 when EMBEDDING_API_KEY is set")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port)
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
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

// DefaultCredentials returns the process-wide provider keys that are set.
func (c *Config) DefaultCredentials() map[domain.Provider]string {
	out := make(map[domain.Provider]string, 3)
	for p, key := range map[domain.Provider]string{
		domain.ProviderGroq:      c.Providers.GroqAPIKey,
		domain.ProviderGoogle:    c.Providers.GoogleAPIKey,
		domain.ProviderAnthropic: c.Providers.AnthropicAPIKey,
	} {
		if key != "" {
			out[p] = key
		}
	}
	return out
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

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
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
