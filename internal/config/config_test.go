package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INSTANCE_ID", "api-1")
	cfg := Load()

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "api-1", cfg.InstanceID)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.False(t, cfg.UsesMemoryStore())
	assert.Equal(t, 5, cfg.CascadeMaxRetries)
	assert.Equal(t, 48*time.Hour, cfg.DeadlineRiskWindow)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.RunDeadlineWatcher)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("HUB_BUFFER_SIZE", "16")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "2.5")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("DEADLINE_OVERDUE_REPEAT", "6h")
	t.Setenv("RUN_DEADLINE_WATCHER", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.True(t, cfg.UsesMemoryStore())
	assert.Equal(t, 16, cfg.HubBufferSize)
	assert.Equal(t, 2.5, cfg.RateLimitRefill)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 6*time.Hour, cfg.DeadlineOverdueRepeat)
	assert.True(t, cfg.RunDeadlineWatcher)
	assert.Equal(t, 0, cfg.RedisDB)
}
