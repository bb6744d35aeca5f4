package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	path := writeConfig(t, `
server:
  port: "9090"
log:
  mode: prod
auth:
  jwt_secret: s3cret
redis:
  addr: localhost:6379
  ttl: 30m
leaderboard:
  bus: " Redis "
  queue_size: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "prod", cfg.Log.Mode)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	require.Equal(t, BusRedis, cfg.Leaderboard.Bus)
	require.Equal(t, 8, cfg.Leaderboard.QueueSize)
	require.Equal(t, 30*time.Minute, TTLDuration(cfg.Redis.TTL, time.Minute))
}

func TestLoadSecretFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, "auth:\n  jwt_secret: from-file\n"))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestRequireAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg, err := Load(writeConfig(t, "server:\n  port: \"8080\"\n"))
	require.NoError(t, err)
	require.Error(t, cfg.RequireAuth())

	cfg, err = Load(writeConfig(t, "auth:\n  jwt_secret: \"  \"\n"))
	require.NoError(t, err)
	require.Error(t, cfg.RequireAuth())

	t.Setenv("JWT_SECRET", "from-env")
	cfg, err = Load(writeConfig(t, "auth:\n  jwt_secret: \"\"\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.RequireAuth())
}

func TestLoadRejectsBusWithoutBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "leaderboard:\n  bus: rabbitmq\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "leaderboard:\n  bus: kafka\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestTTLDuration(t *testing.T) {
	require.Equal(t, time.Minute, TTLDuration("", time.Minute))
	require.Equal(t, time.Minute, TTLDuration("soon", time.Minute))
	require.Equal(t, 90*time.Second, TTLDuration("90s", time.Minute))
}
