// Package config loads engine configuration from the environment and
// destination-policy profiles from YAML files.
package config

import (
	"os"
	"strconv"
)

// Config holds engine configuration.
type Config struct {
	LogLevel       string
	DatabasePath   string
	RedisAddr      string
	CDPEndpoint    string
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	MaxSessions    int
	SnapshotKeyHex string
	ProfilesDir    string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("AUTOFLOW_DB")
	if dbPath == "" {
		dbPath = "autoflow.db"
	}

	cdp := os.Getenv("CDP_ENDPOINT")
	if cdp == "" {
		cdp = "ws://localhost:9222"
	}

	llmURL := os.Getenv("LLM_BASE_URL")
	if llmURL == "" {
		llmURL = "https://api.openai.com/v1"
	}

	llmModel := os.Getenv("LLM_MODEL")
	if llmModel == "" {
		llmModel = "gpt-4o-mini"
	}

	maxSessions := 5
	if v := os.Getenv("MAX_CAPTURE_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxSessions = n
		}
	}

	profilesDir := os.Getenv("AUTOFLOW_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	return &Config{
		LogLevel:       logLevel,
		DatabasePath:   dbPath,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		CDPEndpoint:    cdp,
		LLMBaseURL:     llmURL,
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMModel:       llmModel,
		MaxSessions:    maxSessions,
		SnapshotKeyHex: os.Getenv("SNAPSHOT_KEY"),
		ProfilesDir:    profilesDir,
	}
}
