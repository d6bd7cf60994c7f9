package config

import (
	"os"
	"strconv"
	"time"
)

const (
	appNameVar        = "APP_NAME"
	apiBaseURLVar     = "API_BASE_URL"
	credentialsDirVar = "CREDENTIALS_DIR"
	logLevelVar       = "LOG_LEVEL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Collab Client")
}

// GetAPIBaseURL returns the REST API root, e.g. "https://kms.example.com/api".
// Auth and collaboration endpoints are resolved relative to it.
func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, "http://localhost:5000/api")
}

// GetCredentialsDir is where the persistent credential store lives.
// An empty value keeps credentials in memory only.
func (EnvVars) GetCredentialsDir() string {
	return GetEnv(credentialsDirVar, "./data/credentials")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a Go duration ("1500ms", "30s"); malformed values fall back to the default
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvFloat parses a float; malformed values fall back to the default
func GetEnvFloat(envVar string, defaultValue float64) float64 {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}
