package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendContentAPI = "contentapi"
	BackendRedis      = "redis"
	BackendMemory     = "memory"
)

// Config holds the application configuration
type Config struct {
	Environment        string
	ServerPort         int
	LogLevel           string
	CORSAllowedOrigins []string

	StoreBackend string
	RedisURL     string
	ContentAPI   ContentAPIConfig

	LoanMaxAttempts int
	ReturnPolicy    string

	JWTSecret          string
	SessionTTL         time.Duration
	SessionSweepPeriod time.Duration
	RateLimitPerMinute int

	StaticDir string

	// ChaosFaultRate is the share of store calls failed on purpose when
	// the chaos_store flag is on.
	ChaosFaultRate float64
}

// ContentAPIConfig locates the repository used as the document store.
type ContentAPIConfig struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string
	// Token is an explicit override; TokenFile and GITHUB_TOKEN are
	// consulted after it.
	Token     string
	TokenFile string
	Timeout   time.Duration
}

// Load reads an optional .env file, then configuration from environment
// variables. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	timeoutSec, err := strconv.Atoi(getEnv("CONTENT_API_TIMEOUT_SECONDS", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONTENT_API_TIMEOUT_SECONDS: %w", err)
	}

	maxAttempts, err := strconv.Atoi(getEnv("LOAN_MAX_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOAN_MAX_ATTEMPTS: %w", err)
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("invalid LOAN_MAX_ATTEMPTS: must be at least 1, got %d", maxAttempts)
	}

	sessionTTL, err := strconv.Atoi(getEnv("SESSION_TTL_MINUTES", "720"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL_MINUTES: %w", err)
	}

	sweep, err := strconv.Atoi(getEnv("SESSION_SWEEP_MINUTES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_SWEEP_MINUTES: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_MINUTE", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
	}

	chaosRate, err := strconv.ParseFloat(getEnv("CHAOS_FAULT_RATE", "0.1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAOS_FAULT_RATE: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
		}),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendContentAPI)),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		ContentAPI: ContentAPIConfig{
			BaseURL:   getEnv("CONTENT_API_URL", "https://api.github.com"),
			Owner:     os.Getenv("CONTENT_API_OWNER"),
			Repo:      os.Getenv("CONTENT_API_REPO"),
			Branch:    getEnv("CONTENT_API_BRANCH", "main"),
			Token:     os.Getenv("CONTENT_API_TOKEN"),
			TokenFile: os.Getenv("CONTENT_API_TOKEN_FILE"),
			Timeout:   time.Duration(timeoutSec) * time.Second,
		},
		LoanMaxAttempts:    maxAttempts,
		ReturnPolicy:       getEnv("RETURN_POLICY", "any"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		SessionTTL:         time.Duration(sessionTTL) * time.Minute,
		SessionSweepPeriod: time.Duration(sweep) * time.Minute,
		RateLimitPerMinute: rateLimit,
		StaticDir:          getEnv("STATIC_DIR", "./web"),
		ChaosFaultRate:     chaosRate,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendContentAPI:
		if c.ContentAPI.Owner == "" || c.ContentAPI.Repo == "" {
			return fmt.Errorf("CONTENT_API_OWNER and CONTENT_API_REPO are required for STORE_BACKEND=%s", BackendContentAPI)
		}
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
