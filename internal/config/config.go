// Package config validates process-wide environment configuration at
// startup, following the same fail-fast ValidateEnv pattern used
// throughout this service's ambient stack.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Storage
	SQLitePath string
	BadgerDir  string

	// Upload pipeline (§6: SaveReplays / ReplayUploaderConcurrency)
	SaveReplays              bool
	ReplayUploaderConcurrency int

	// Tracing
	OTELCollectorAddr string

	// Rate limits (Defaults: M = Minute, H = Hour)
	RateLimitAPIGlobal string
	RateLimitWSIP      string
	RateLimitWSUser    string
}

// ValidateEnv validates all required environment variables and returns a
// Config object, or a combined error describing every violation found.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.SQLitePath = getEnvOrDefault("SQLITE_PATH", "./data/roomsrv.db")
	cfg.BadgerDir = getEnvOrDefault("BADGER_DIR", "./data/scores")

	cfg.SaveReplays = os.Getenv("SAVE_REPLAYS") == "true"
	cfg.ReplayUploaderConcurrency = 1
	if v := os.Getenv("REPLAY_UPLOADER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errors = append(errors, fmt.Sprintf("REPLAY_UPLOADER_CONCURRENCY must be a positive integer (got '%s')", v))
		} else {
			cfg.ReplayUploaderConcurrency = n
		}
	}

	cfg.OTELCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitWSIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWSUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"save_replays", cfg.SaveReplays,
		"replay_uploader_concurrency", cfg.ReplayUploaderConcurrency,
		"sqlite_path", cfg.SQLitePath,
		"badger_dir", cfg.BadgerDir,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
