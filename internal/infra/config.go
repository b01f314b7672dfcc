package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment
// variables. Provider credentials are loaded once here and injected at
// construction time; business logic never reads the environment directly.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string
	GeoIPDBPath string

	// Inference provider (Replicate-compatible API).
	ReplicateAPIKey   string
	ReplicateBaseURL  string
	InferencePollWait time.Duration
	InferenceAttempts int

	// Object storage (S3-compatible, e.g. Cloudflare R2).
	BlobEndpoint      string
	BlobRegion        string
	BlobAccessKeyID   string
	BlobSecretKey     string
	BlobBucket        string
	BlobPublicBaseURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
	DefaultLocale    string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		ReplicateAPIKey:   os.Getenv("REPLICATE_API_KEY"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		InferencePollWait: time.Second * time.Duration(getEnvInt("INFERENCE_POLL_INTERVAL_SECONDS", 2)),
		InferenceAttempts: getEnvInt("INFERENCE_POLL_MAX_ATTEMPTS", 60),

		BlobEndpoint:      os.Getenv("BLOB_ENDPOINT"),
		BlobRegion:        getEnv("BLOB_REGION", "auto"),
		BlobAccessKeyID:   os.Getenv("BLOB_ACCESS_KEY_ID"),
		BlobSecretKey:     os.Getenv("BLOB_SECRET_ACCESS_KEY"),
		BlobBucket:        os.Getenv("BLOB_BUCKET"),
		BlobPublicBaseURL: os.Getenv("BLOB_PUBLIC_BASE_URL"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ReplicateAPIKey == "" {
		return nil, fmt.Errorf("REPLICATE_API_KEY is required")
	}
	if cfg.BlobBucket == "" {
		return nil, fmt.Errorf("BLOB_BUCKET is required")
	}
	if cfg.BlobPublicBaseURL == "" {
		return nil, fmt.Errorf("BLOB_PUBLIC_BASE_URL is required")
	}
	if cfg.InferenceAttempts <= 0 {
		cfg.InferenceAttempts = 60
	}

	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
