package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM provider identifiers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Chat gateway
	ListenAddr string

	// LLM
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	BedrockModelID  string

	// File uploads
	FilesDir string

	// Session expiry
	SessionTTL   time.Duration
	ReapInterval time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Default reply language for new sessions
	DefaultLanguage string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "stepflow"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "bot"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		ListenAddr: getEnv("STEPFLOW_LISTEN_ADDR", ":8080"),

		LLMProvider:     getEnv("STEPFLOW_LLM_PROVIDER", ProviderOllama),
		LLMModel:        getEnv("STEPFLOW_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		BedrockModelID:  getEnv("STEPFLOW_BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),

		FilesDir: getEnv("STEPFLOW_FILES_DIR", "/tmp/stepflow-files"),

		SessionTTL:   parseDuration(getEnv("STEPFLOW_SESSION_TTL", "30m"), 30*time.Minute),
		ReapInterval: parseDuration(getEnv("STEPFLOW_REAP_INTERVAL", "1m"), time.Minute),

		LogFile:  getEnv("STEPFLOW_LOG_FILE", "/tmp/stepflow.log"),
		LogLevel: parseLogLevel(getEnv("STEPFLOW_LOG_LEVEL", "INFO")),

		DefaultLanguage: getEnv("STEPFLOW_DEFAULT_LANGUAGE", "en"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseDuration accepts Go duration strings, with a bare-seconds fallback.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
