package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Strava API configuration (pull-style provider)
	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string

	// Garmin API configuration (push-style provider)
	GarminClientID     string
	GarminClientSecret string

	// Secret for session tokens on the caller-facing endpoints
	SessionSecret string

	// Error reporting (optional)
	SentryDSN string

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables
// It fails fast if required variables are missing
func Load() (*Config, error) {
	cfg := &Config{
		// Optional values with defaults
		Host:           getEnv("HOST", "localhost"),
		Port:           getEnvInt("PORT", 4201),
		DatabasePath:   getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsHost:    getEnv("METRICS_HOST", "localhost"),
		MetricsPort:    getEnvInt("METRICS_PORT", 9201),
	}

	// Required values
	var missingVars []string

	required := []struct {
		name   string
		target *string
	}{
		{"STRAVA_CLIENT_ID", &cfg.StravaClientID},
		{"STRAVA_CLIENT_SECRET", &cfg.StravaClientSecret},
		{"STRAVA_VERIFY_TOKEN", &cfg.StravaVerifyToken},
		{"GARMIN_CLIENT_ID", &cfg.GarminClientID},
		{"GARMIN_CLIENT_SECRET", &cfg.GarminClientSecret},
		{"SESSION_SECRET", &cfg.SessionSecret},
	}

	for _, v := range required {
		*v.target = os.Getenv(v.name)
		if *v.target == "" {
			missingVars = append(missingVars, v.name)
		}
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
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
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
