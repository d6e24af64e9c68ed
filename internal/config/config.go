package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liamashdown/tiltguard/internal/secrets"
)

// AuthMode represents the authentication mode for the platform API
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeBearer AuthMode = "bearer"
	AuthModeAPIKey AuthMode = "api_key"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Database (audit archive)
	DatabaseEnabled     bool
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Scoring
	Timezone            string
	Location            *time.Location
	EvaluateIntervalSec int
	Workers             int

	// Platform poller
	PlatformBaseURL      string
	PlatformAuthMode     AuthMode
	PlatformBearerToken  string
	PlatformAPIKey       string
	PlatformExtraHeaders map[string]string
	PlatformRPS          float64
	PollIntervalSec      int
	PollSubjects         []string

	// Alerts
	AlertMode          string // log, discord, smtp (comma-separated)
	AlertMinLevel      string // medium, high, critical
	AlertCooldownMins  int
	DiscordWebhookURLs []string
	DiscordRPS         float64
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	SMTPFrom           string
	SMTPTo             []string

	// HTTP API + health + metrics
	HTTPPort int
}

// Load reads configuration from environment variables, after applying an
// optional .env file
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "production"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseEnabled:     getEnvBool("DATABASE_ENABLED", false),
		DatabaseDSN:         secrets.GetOptionalSecret("DATABASE_DSN", "tiltguard:tiltguard@tcp(mysql:3306)/tiltguard?parseTime=true"),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMaxIdleTime: time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		Timezone:            getEnv("TIMEZONE", "Local"),
		EvaluateIntervalSec: getEnvInt("EVALUATE_INTERVAL_SEC", 5),
		Workers:             getEnvInt("WORKERS", 4),
		PlatformBaseURL:     getEnv("PLATFORM_BASE_URL", ""),
		PlatformAuthMode:    AuthMode(getEnv("PLATFORM_AUTH_MODE", "none")),
		PlatformBearerToken: secrets.GetOptionalSecret("PLATFORM_BEARER_TOKEN", ""),
		PlatformAPIKey:      secrets.GetOptionalSecret("PLATFORM_API_KEY", ""),
		PlatformRPS:         getEnvFloat("PLATFORM_RPS", 2.0),
		PollIntervalSec:     getEnvInt("POLL_INTERVAL_SEC", 15),
		AlertMode:           getEnv("ALERT_MODE", "log"),
		AlertMinLevel:       getEnv("ALERT_MIN_LEVEL", "high"),
		AlertCooldownMins:   getEnvInt("ALERT_COOLDOWN_MINS", 15),
		DiscordRPS:          getEnvFloat("DISCORD_RPS", 0.5),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnvInt("SMTP_PORT", 587),
		SMTPUser:            getEnv("SMTP_USER", ""),
		SMTPPassword:        secrets.GetOptionalSecret("SMTP_PASSWORD", ""),
		SMTPFrom:            getEnv("SMTP_FROM", "tiltguard@example.com"),
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
	}

	if v := getEnv("SMTP_TO", ""); v != "" {
		cfg.SMTPTo = parseCSV(v)
	}
	if v := secrets.GetOptionalSecret("DISCORD_WEBHOOK_URLS", ""); v != "" {
		cfg.DiscordWebhookURLs = parseCSV(v)
	}
	if v := getEnv("POLL_SUBJECTS", ""); v != "" {
		cfg.PollSubjects = parseCSV(v)
	}

	extraHeadersJSON := getEnv("PLATFORM_EXTRA_HEADERS", "{}")
	if err := json.Unmarshal([]byte(extraHeadersJSON), &cfg.PlatformExtraHeaders); err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_EXTRA_HEADERS JSON: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DatabaseEnabled && c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required when DATABASE_ENABLED is true")
	}

	if c.EvaluateIntervalSec <= 0 {
		return fmt.Errorf("EVALUATE_INTERVAL_SEC must be positive, got %d", c.EvaluateIntervalSec)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}

	switch c.PlatformAuthMode {
	case AuthModeNone:
	case AuthModeBearer:
		if c.PlatformBearerToken == "" {
			return fmt.Errorf("PLATFORM_BEARER_TOKEN is required when PLATFORM_AUTH_MODE is bearer")
		}
	case AuthModeAPIKey:
		if c.PlatformAPIKey == "" {
			return fmt.Errorf("PLATFORM_API_KEY is required when PLATFORM_AUTH_MODE is api_key")
		}
	default:
		return fmt.Errorf("invalid PLATFORM_AUTH_MODE: %s (must be none, bearer, or api_key)", c.PlatformAuthMode)
	}

	if c.PlatformBaseURL != "" && c.PollIntervalSec <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SEC must be positive when PLATFORM_BASE_URL is set")
	}

	switch c.AlertMinLevel {
	case "medium", "high", "critical":
	default:
		return fmt.Errorf("invalid ALERT_MIN_LEVEL: %s (valid values: medium, high, critical)", c.AlertMinLevel)
	}

	hasDiscord := false
	hasSMTP := false
	for _, mode := range strings.Split(c.AlertMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
		case "discord":
			hasDiscord = true
		case "smtp":
			hasSMTP = true
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, discord, smtp)", mode)
		}
	}

	if hasDiscord && len(c.DiscordWebhookURLs) == 0 {
		return fmt.Errorf("DISCORD_WEBHOOK_URLS is required when discord is in ALERT_MODE")
	}

	if hasSMTP && (c.SMTPHost == "" || len(c.SMTPTo) == 0) {
		return fmt.Errorf("SMTP_HOST and SMTP_TO are required when smtp is in ALERT_MODE")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
