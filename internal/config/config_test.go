package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, DBDriverPostgres, cfg.DBDriver)
	assert.Equal(t, 50, cfg.HeartbeatHistory)
	assert.Equal(t, 5*time.Minute, cfg.AgentOfflineTimeout)
	assert.Equal(t, "edgefleet-c2", cfg.ServiceName)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("REDIS_URL", "")
	t.Setenv("HEARTBEAT_TTL", "90s")
	t.Setenv("AGENT_OFFLINE_TIMEOUT", "not-a-duration")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENABLE_METRICS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DBDriverMemory, cfg.DBDriver)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 90*time.Second, cfg.HeartbeatTTL)
	assert.Equal(t, 5*time.Minute, cfg.AgentOfflineTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.EnableMetrics)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"zero history", "HEARTBEAT_HISTORY", "0"},
		{"negative offline timeout", "AGENT_OFFLINE_TIMEOUT", "-1m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
