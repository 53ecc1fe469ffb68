package config

import (
	"fmt"
	"os"
	"strconv"

	"invoicemap/internal/logger"
)

type Config struct {
	// Provider Selection
	Provider       string // openai or gemini; the mapping (embedding + synthesis) backend
	VisionProvider string // backend used for invoice OCR; defaults to Provider

	// Provider Credentials (process-level defaults; an explicit per-invocation
	// key always takes precedence over these)
	OpenAIAPIKey string
	GeminiAPIKey string

	// Extraction Backend
	Extractor string // vision-llm (default) or documentai

	// Google Cloud Configuration (documentai extractor and ocr command)
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Pipeline Tuning
	RetrievalK     int // candidates fetched per raw item
	MaxConcurrency int // concurrently in-flight invoice jobs

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		Provider:              getEnv("PROVIDER", "gemini"),
		VisionProvider:        getEnv("VISION_PROVIDER", ""),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		Extractor:             getEnv("EXTRACTOR", "vision-llm"),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		RetrievalK:            getEnvInt("RETRIEVAL_K", 5),
		MaxConcurrency:        getEnvInt("MAX_CONCURRENCY", 3),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
	}

	// The vision backend follows the mapping backend unless overridden. Vision
	// quality and reasoning quality are independently selectable; this is the
	// one place the hybrid rule is expressed.
	if config.VisionProvider == "" {
		config.VisionProvider = config.Provider
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("PROVIDER must be openai or gemini, got %q", c.Provider)
	}
	switch c.Extractor {
	case "vision-llm", "documentai":
	default:
		return fmt.Errorf("EXTRACTOR must be vision-llm or documentai, got %q", c.Extractor)
	}
	if c.Extractor == "documentai" {
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the documentai extractor")
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for the documentai extractor")
		}
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("RETRIEVAL_K must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
