// Package config loads the service's environment-driven configuration,
// following the same requireEnv/getEnvOrDefault pattern the teacher's
// entrypoint used to wire its database and HTTP settings.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-driven setting the server needs.
type Config struct {
	DatabaseURL     string
	StorageRoot     string
	SchemaPath      string
	Port            string
	AuthToken       string
	GinMode         string
	RateLimitPerMin int
	RateLimitBurst  int
}

// Load reads Config from the environment, applying defaults for optional
// settings and failing loudly if a required one is missing.
func Load() (*Config, error) {
	dbURL, err := requireEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	rateLimit, err := getEnvIntOrDefault("RATE_LIMIT_PER_MIN", 120)
	if err != nil {
		return nil, err
	}
	burst, err := getEnvIntOrDefault("RATE_LIMIT_BURST", 30)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:     dbURL,
		StorageRoot:     getEnvOrDefault("STORAGE_ROOT", "./data"),
		SchemaPath:      getEnvOrDefault("SCHEMA_PATH", "internal/db/schema.sql"),
		Port:            getEnvOrDefault("PORT", "8080"),
		AuthToken:       os.Getenv("API_AUTH_TOKEN"),
		GinMode:         getEnvOrDefault("GIN_MODE", "debug"),
		RateLimitPerMin: rateLimit,
		RateLimitBurst:  burst,
	}, nil
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return v, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}
