package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port        string
	BackendURL  string
	DatabaseURL string
	RedisURL    string
	LogLevel    string

	// API key credential format: <KeyPrefix>_<KeyEnv>_<year>_<random>
	KeyPrefix string
	KeyEnv    string

	// Admission defaults. Per-key quota overrides live on the key row.
	DefaultMonthlyQuota int
	RateLimitPerMinute  int
	RateLimitBurst      int
	MaxKeysPerDeveloper int

	ProxyTimeout    time.Duration
	ProxyMaxRetries int
	CacheTTL        time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		BackendURL:  getEnv("BACKEND_URL", "http://localhost:9000"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/moderation_gateway?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		KeyPrefix: getEnv("KEY_PREFIX", "bal"),
		KeyEnv:    getEnv("KEY_ENV", "prod"),

		DefaultMonthlyQuota: getEnvInt("DEFAULT_MONTHLY_QUOTA", 100),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 20),
		MaxKeysPerDeveloper: getEnvInt("MAX_KEYS_PER_DEVELOPER", 3),

		ProxyTimeout:    time.Duration(getEnvInt("PROXY_TIMEOUT_SECONDS", 30)) * time.Second,
		ProxyMaxRetries: getEnvInt("PROXY_MAX_RETRIES", 2),
		CacheTTL:        time.Duration(getEnvInt("CACHE_TTL_SECONDS", 60)) * time.Second,
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
