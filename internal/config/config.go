package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Analysis service
	AnalyzerProvider   string // "remote" or "vertex"
	AnalysisAPIBaseURL string
	AnalysisAPIKey     string

	// Vertex AI (when AnalyzerProvider == "vertex")
	VertexProjectID       string
	VertexLocation        string
	VertexCredentialsFile string

	// Supabase
	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string

	// Database
	DatabaseURL string

	// Persistence tuning
	DedupWindow         time.Duration
	ScoreDeltaThreshold int
	SaveMaxRetries      int

	// Server
	Port        string
	Environment string
}

func Load() (*Config, error) {
	// A local .env is a convenience; its absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		AnalyzerProvider:   getEnv("ANALYZER_PROVIDER", "remote"),
		AnalysisAPIBaseURL: getEnv("ANALYSIS_API_BASE_URL", "https://api.skinsight.app/v1/"),
		AnalysisAPIKey:     getEnv("ANALYSIS_API_KEY", ""),

		VertexProjectID:       getEnv("VERTEX_PROJECT_ID", ""),
		VertexLocation:        getEnv("VERTEX_LOCATION", "us-central1"),
		VertexCredentialsFile: getEnv("VERTEX_CREDENTIALS_FILE", ""),

		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabasePublishableKey: getEnv("SUPABASE_PUBLISHABLE_KEY", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "skin-captures"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		DedupWindow:         time.Duration(getEnvAsInt("DEDUP_WINDOW_SECONDS", 180)) * time.Second,
		ScoreDeltaThreshold: getEnvAsInt("SCORE_DELTA_THRESHOLD", 5),
		SaveMaxRetries:      getEnvAsInt("SAVE_MAX_RETRIES", 3),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.AnalyzerProvider {
	case "remote":
		if c.AnalysisAPIKey == "" {
			return fmt.Errorf("ANALYSIS_API_KEY is required")
		}
	case "vertex":
		if c.VertexProjectID == "" {
			return fmt.Errorf("VERTEX_PROJECT_ID is required")
		}
	default:
		return fmt.Errorf("unsupported analyzer provider: %s", c.AnalyzerProvider)
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabasePublishableKey == "" {
		return fmt.Errorf("SUPABASE_PUBLISHABLE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
