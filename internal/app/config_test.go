package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 24*time.Hour, cfg.Verification.TokenTTL)
	require.Equal(t, 90*time.Second, cfg.Verification.ResendCooldown)
	require.Equal(t, 48, cfg.Verification.TokenBytes)
	require.Equal(t, 1, cfg.Terms.CurrentVersion)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.True(t, cfg.Maintenance.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
server:
  port: 9100
  log_level: debug
verification:
  token_ttl: 12h
  resend_cooldown: 60s
terms:
  current_version: 3
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 12*time.Hour, cfg.Verification.TokenTTL)
	require.Equal(t, time.Minute, cfg.Verification.ResendCooldown)
	require.Equal(t, 3, cfg.Terms.CurrentVersion)
}

func TestLoadConfigRejectsInvalidTermsVersion(t *testing.T) {
	dir := t.TempDir()
	content := []byte("terms:\n  current_version: 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))

	_, err := LoadConfig(dir)
	require.Error(t, err)
}

func TestConfigureLoggingDefaultsEmptyLevel(t *testing.T) {
	require.NoError(t, ConfigureLogging(""))
	require.NoError(t, ConfigureLogging("warn"))
}
