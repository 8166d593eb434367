package config

import (
	"os"
	"strings"
	"testing"
)

func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"JWT_SECRET", "PORT", "REDIS_ENABLED", "REDIS_ADDR", "GO_ENV", "LOG_LEVEL",
		"SAVE_REPLAYS", "REPLAY_UPLOADER_CONCURRENCY",
	}
	orig := map[string]string{}
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "false")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.ReplayUploaderConcurrency != 1 {
		t.Errorf("expected ReplayUploaderConcurrency to default to 1, got %d", cfg.ReplayUploaderConcurrency)
	}
}

func TestValidateEnv_MissingJWTSecret(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Fatalf("expected JWT_SECRET error, got: %v", err)
	}
}

func TestValidateEnv_ShortJWTSecret(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("JWT_SECRET", "short")
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "must be at least 32 characters") {
		t.Fatalf("expected length error, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Fatalf("expected PORT error, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "REDIS_ADDR must be in format") {
		t.Fatalf("expected REDIS_ADDR error, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_InvalidReplayUploaderConcurrency(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REPLAY_UPLOADER_CONCURRENCY", "0")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "REPLAY_UPLOADER_CONCURRENCY") {
		t.Fatalf("expected concurrency error, got: %v", err)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name, secret, expected string
	}{
		{"long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactSecret(tt.secret); got != tt.expected {
				t.Errorf("redactSecret(%q) = %q, want %q", tt.secret, got, tt.expected)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid ip", "127.0.0.1:3000", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidHostPort(tt.addr); got != tt.want {
				t.Errorf("isValidHostPort(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}
