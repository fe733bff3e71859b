package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "serverlink.db", cfg.DatabaseURL)
	assert.Equal(t, 15*time.Second, cfg.CheckInterval)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Empty(t, cfg.ServerURL)
	assert.Equal(t, 750*time.Millisecond, cfg.TapInterval)
	assert.Zero(t, cfg.APIRateLimit)
	assert.Equal(t, 10, cfg.APIBurst)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.True(t, cfg.MonitorEnabled)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/serverlink")
	t.Setenv("CHECK_INTERVAL", "30s")
	t.Setenv("MAX_CONCURRENCY", "16")
	t.Setenv("HTTP_TIMEOUT", "10s")
	t.Setenv("SHUTDOWN_GRACE", "20s")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SERVER_URL", "chat.example.com")
	t.Setenv("TAP_INTERVAL", "1s")
	t.Setenv("API_RATE_LIMIT", "2.5")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MONITOR_ENABLED", "false")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://localhost/serverlink", cfg.DatabaseURL)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
	assert.Equal(t, 16, cfg.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 20*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "chat.example.com", cfg.ServerURL)
	assert.Equal(t, time.Second, cfg.TapInterval)
	assert.Equal(t, 2.5, cfg.APIRateLimit)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.MonitorEnabled)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")

	cfg, err := Load([]string{"--http-port", "7070", "--database-driver=memory", "--database-url="})
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.DatabaseDriver)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serverlink.yaml")
	content := "http-port: \"6060\"\ncheck-interval: 1m\nserver-url: chat.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CHECK_INTERVAL", "45s")

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.CheckInterval)
	assert.Equal(t, "chat.example.com", cfg.ServerURL)

	_, err = Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "unknown driver", env: map[string]string{"DATABASE_DRIVER": "mysql"}},
		{name: "missing database url", args: []string{"--database-url="}},
		{name: "zero concurrency", env: map[string]string{"MAX_CONCURRENCY": "0"}},
		{name: "bad duration", env: map[string]string{"CHECK_INTERVAL": "soon"}},
		{name: "bad port", env: map[string]string{"HTTP_PORT": "http"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "verbose"}},
		{name: "unknown flag", args: []string{"--nope"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(tc.args)
			assert.Error(t, err)
		})
	}
}
