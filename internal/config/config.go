package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"companion/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port     string
	MongoURI string
	RedisURL string

	// Completion provider (OpenRouter-compatible)
	ProviderBaseURL string
	ProviderAPIKey  string
	ProvidersFile   string // providers.json path, hot-reloaded

	// Chat orchestration tuning
	MaxHistoryMessages int // hard cap on the history tail sent to the model
	MaxToolIterations  int

	// Autonomy scheduler
	AutonomyEnabled bool
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3001"),
		MongoURI: getEnv("MONGODB_URI", "mongodb://localhost:27017/companion"),
		RedisURL: getEnv("REDIS_URL", ""),

		ProviderBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		ProviderAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		ProvidersFile:   getEnv("PROVIDERS_FILE", "./providers.json"),

		MaxHistoryMessages: getIntEnv("MAX_HISTORY_MESSAGES", 40),
		MaxToolIterations:  getIntEnv("MAX_TOOL_ITERATIONS", 3),

		AutonomyEnabled: getBoolEnv("AUTONOMY_ENABLED", true),
	}
}

// LoadProviders loads the provider configuration from a JSON file.
func LoadProviders(filePath string) (*models.ProviderConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var config models.ProviderConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse providers JSON: %w", err)
	}

	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
