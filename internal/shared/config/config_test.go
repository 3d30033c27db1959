package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "temp-uploads", cfg.Storage.Bucket)
	assert.Equal(t, "vance", cfg.Enhance.Provider)
	assert.Equal(t, "pedra", cfg.Enhance.Modes["magic"])
	assert.False(t, cfg.Auth.LogResetTokens)
	assert.True(t, cfg.Enhance.PersistRemoteResults)
	assert.Equal(t, 2*time.Second, cfg.Vance.PollInterval)
	assert.Equal(t, 300, cfg.Vance.MaxPolls)
	assert.Equal(t, 3, cfg.Vance.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Pedra.Timeout)
	assert.Equal(t, "enhance, fix perspective and make HD", cfg.Pedra.StandardPrompt)

	standard, ok := cfg.Vance.Jobs["standard"]
	require.True(t, ok)
	assert.Equal(t, "enlarge", standard.Name)
	assert.Equal(t, "enlarge", standard.Module)
	assert.Contains(t, standard.Params, "suppress_noise")
}

func TestLoad_SecretOverrides(t *testing.T) {
	t.Setenv("HOMEGLOW_JWT_SECRET", "jwt-secret")
	t.Setenv("HOMEGLOW_VANCE_API_KEY", "vance-key")
	t.Setenv("HOMEGLOW_PEDRA_API_KEY", "pedra-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "jwt-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "vance-key", cfg.Vance.APIKey)
	assert.Equal(t, "pedra-key", cfg.Pedra.APIKey)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "app",
		Password: "pw",
		Database: "homeglow",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=app password=pw dbname=homeglow sslmode=disable", cfg.DSN())
}
