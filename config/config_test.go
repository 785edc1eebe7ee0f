package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("JWT_EXPIRATION", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, "powerbi", cfg.UploadKeyPrefix)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxUploadSize)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Origins())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("JWT_EXPIRATION", "2h")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.True(t, cfg.IsProduction())
}

func TestOrigins(t *testing.T) {
	cfg := &Config{AllowedOrigins: " https://a.example.com, ,https://b.example.com "}
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Origins())
}

func TestLoadRejectsWildcardOriginInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com,*")

	_, err := Load()
	assert.ErrorIs(t, err, ErrWildcardOrigin)

	t.Setenv("APP_ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "*"}, cfg.Origins())
}
