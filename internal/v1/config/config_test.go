package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Setenv("DROPHUB__CREDENTIAL_SECRET", testSecret)
}

func TestValidateEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.InviteTTL)
	assert.Equal(t, 64*1024, cfg.BlockSizeBytes)
	assert.Equal(t, 8, cfg.RoomCapacity)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "60-M", cfg.RateLimitWsIP)
}

func TestValidateEnv_MissingSecret(t *testing.T) {
	t.Setenv("DROPHUB__CREDENTIAL_SECRET", "")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREDENTIAL_SECRET is required")
}

func TestValidateEnv_ShortSecret(t *testing.T) {
	t.Setenv("DROPHUB__CREDENTIAL_SECRET", "too-short")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestValidateEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DROPHUB__BIND_ADDR", "0.0.0.0:9000")
	t.Setenv("DROPHUB__ACCESS_TOKEN_TTL", "30m")
	t.Setenv("DROPHUB__INVITE_TTL", "90s")
	t.Setenv("DROPHUB__BLOCK_SIZE_BYTES", "1024")
	t.Setenv("DROPHUB__ROOM_CAPACITY", "2")
	t.Setenv("DROPHUB__DEVELOPMENT_MODE", "true")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.BindAddr)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 90*time.Second, cfg.InviteTTL)
	assert.Equal(t, 1024, cfg.BlockSizeBytes)
	assert.Equal(t, 2, cfg.RoomCapacity)
	assert.True(t, cfg.DevelopmentMode)
}

func TestValidateEnv_InvalidValues(t *testing.T) {
	setRequired(t)
	t.Setenv("DROPHUB__BIND_ADDR", "not-an-addr")
	t.Setenv("DROPHUB__ACCESS_TOKEN_TTL", "sometimes")
	t.Setenv("DROPHUB__BLOCK_SIZE_BYTES", "-1")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIND_ADDR")
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_TTL")
	assert.Contains(t, err.Error(), "BLOCK_SIZE_BYTES")
}

func TestValidateEnv_RedisDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("DROPHUB__REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestValidateEnv_RedisBadAddr(t *testing.T) {
	setRequired(t)
	t.Setenv("DROPHUB__REDIS_ENABLED", "true")
	t.Setenv("DROPHUB__REDIS_ADDR", "nonsense")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "***", redactSecret("short"))
	redacted := redactSecret(testSecret)
	assert.True(t, strings.HasSuffix(redacted, "***"))
	assert.NotContains(t, redacted, testSecret[10:])
}

func TestIsValidBindAddr(t *testing.T) {
	assert.True(t, isValidBindAddr(":8080"))
	assert.True(t, isValidBindAddr("127.0.0.1:8080"))
	assert.False(t, isValidBindAddr("8080"))
	assert.False(t, isValidBindAddr(":0"))
	assert.False(t, isValidBindAddr(":notaport"))
}
