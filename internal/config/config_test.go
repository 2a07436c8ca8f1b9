package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	for _, key := range []string{"STORAGE_DRIVER", "STORAGE_PATH", "WORKERS", "ORACLE_TIMEOUT", "SCHEDULER_MAX_ATTEMPTS", "SCHEDULER_RECOVERY_INTERVAL", "GLOBAL_THROTTLE", "DISCORD_TOKEN"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.StorageDriver)
	assert.Equal(t, "datastore.json", cfg.StoragePath)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 3*time.Second, cfg.OracleTimeout)
	assert.Equal(t, 5, cfg.SchedulerMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.SchedulerRecovery)
	assert.Empty(t, cfg.GlobalThrottle)
	assert.Error(t, cfg.RequireToken())
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("STORAGE_PATH", "")
	os.Unsetenv("STORAGE_PATH")
	t.Setenv("WORKERS", "2")
	t.Setenv("THROTTLE_IDLE_TTL", "30s")
	t.Setenv("GUILD_BLACKLIST", "g1,g2")
	t.Setenv("DISCORD_TOKEN", "tok")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "warden.db", cfg.StoragePath)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.ThrottleIdleTTL)
	assert.True(t, cfg.IsBlacklisted("g2"))
	assert.False(t, cfg.IsBlacklisted("g3"))
	assert.NoError(t, cfg.RequireToken())
}

func TestParseRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "redis")
	_, err := Parse()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	l, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, l)

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}

func TestDefaultPrefix(t *testing.T) {
	assert.Equal(t, ".", DefaultPrefix("moderation"))
	assert.Equal(t, FallbackPrefix, DefaultPrefix("nope"))

	sorted := SortedCategories()
	require.NotEmpty(t, sorted)
	assert.Equal(t, "core", sorted[0].Name)
}
