package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	JWKSURL     string
	CORSOrigins string
	TablePrefix string
	// Backend configuration
	AnthropicAPIKey  string
	OpenRouterAPIKey string
	DefaultBackend   string
	DefaultModel     string
	ModelMapPath     string
	// Turn engine tunables
	MaxIterations    int
	EventBufferLimit int
	BufferGrace      time.Duration
	// Debug flags
	Debug bool // Enables debug conveniences like file logging
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWKSURL:     getEnv("JWKS_URL", ""),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix: getTablePrefix(env),
		// Backend configuration
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		DefaultBackend:   getEnv("DEFAULT_BACKEND", ""),
		DefaultModel:     getEnv("DEFAULT_MODEL", "lorem-fast"),
		ModelMapPath:     getEnv("MODEL_MAP_PATH", "models.yaml"),
		// Turn engine tunables
		MaxIterations:    getEnvInt("MAX_TURN_ITERATIONS", 200),
		EventBufferLimit: getEnvInt("EVENT_BUFFER_LIMIT", 4096),
		BufferGrace:      time.Duration(getEnvInt("BUFFER_GRACE_SECONDS", 120)) * time.Second,
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	// Auto-generate based on environment
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
