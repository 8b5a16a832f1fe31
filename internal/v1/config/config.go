// Package config loads and validates environment configuration.
// Every variable carries the DROPHUB__ prefix; values in the environment
// override anything loaded from a .env file by the entrypoint.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "DROPHUB__"

// Config holds validated environment configuration
type Config struct {
	// Required variables
	BindAddr         string
	CredentialSecret string

	// Credential and invite lifetimes
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	InviteTTL       time.Duration

	// Transfer tuning
	BlockSizeBytes int
	RoomCapacity   int

	// Optional variables with defaults
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Redis-backed rate limiter store (optional)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Tracing (optional; disabled when empty)
	OtelCollectorAddr string

	// Rate Limits (Defaults: M = Minute, H = Hour)
	RateLimitWsIP    string
	RateLimitRPCPeer string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: CREDENTIAL_SECRET (minimum 32 characters)
	cfg.CredentialSecret = getenv("CREDENTIAL_SECRET")
	if cfg.CredentialSecret == "" {
		errs = append(errs, envPrefix+"CREDENTIAL_SECRET is required")
	} else if len(cfg.CredentialSecret) < 32 {
		errs = append(errs, fmt.Sprintf("%sCREDENTIAL_SECRET must be at least 32 characters (got %d)", envPrefix, len(cfg.CredentialSecret)))
	}

	// BIND_ADDR (defaults to :8080, must be host:port or :port)
	cfg.BindAddr = getenvOrDefault("BIND_ADDR", ":8080")
	if !isValidBindAddr(cfg.BindAddr) {
		errs = append(errs, fmt.Sprintf("%sBIND_ADDR must be in format 'host:port' or ':port' (got '%s')", envPrefix, cfg.BindAddr))
	}

	cfg.AccessTokenTTL = parseDuration("ACCESS_TOKEN_TTL", 15*time.Minute, &errs)
	cfg.RefreshTokenTTL = parseDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour, &errs)
	cfg.InviteTTL = parseDuration("INVITE_TTL", 10*time.Minute, &errs)

	cfg.BlockSizeBytes = parsePositiveInt("BLOCK_SIZE_BYTES", 64*1024, &errs)
	cfg.RoomCapacity = parsePositiveInt("ROOM_CAPACITY", 8, &errs)

	cfg.LogLevel = getenvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = getenv("ALLOWED_ORIGINS")

	cfg.RedisEnabled = getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn(envPrefix+"REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("%sREDIS_ADDR must be in format 'host:port' (got '%s')", envPrefix, cfg.RedisAddr))
		}
		cfg.RedisPassword = getenv("REDIS_PASSWORD")
	}

	cfg.OtelCollectorAddr = getenv("OTEL_COLLECTOR_ADDR")

	cfg.RateLimitWsIP = getenvOrDefault("RATE_LIMIT_WS_IP", "60-M")
	cfg.RateLimitRPCPeer = getenvOrDefault("RATE_LIMIT_RPC_PEER", "600-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func getenvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		return value
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	raw := getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s%s must be a positive duration like '15m' (got '%s')", envPrefix, key, raw))
		return defaultValue
	}
	return d
}

func parsePositiveInt(key string, defaultValue int, errs *[]string) int {
	raw := getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		*errs = append(*errs, fmt.Sprintf("%s%s must be a positive integer (got '%s')", envPrefix, key, raw))
		return defaultValue
	}
	return n
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// isValidBindAddr additionally allows the empty-host ":port" listen form.
func isValidBindAddr(addr string) bool {
	if strings.HasPrefix(addr, ":") {
		port, err := strconv.Atoi(addr[1:])
		return err == nil && port >= 1 && port <= 65535
	}
	return isValidHostPort(addr)
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated",
		"credential_secret", redactSecret(cfg.CredentialSecret),
		"bind_addr", cfg.BindAddr,
		"access_token_ttl", cfg.AccessTokenTTL,
		"refresh_token_ttl", cfg.RefreshTokenTTL,
		"invite_ttl", cfg.InviteTTL,
		"block_size_bytes", cfg.BlockSizeBytes,
		"room_capacity", cfg.RoomCapacity,
		"redis_enabled", cfg.RedisEnabled,
		"development_mode", cfg.DevelopmentMode,
		"log_level", cfg.LogLevel,
	)
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
