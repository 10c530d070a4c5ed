package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_TTL", "")
	t.Setenv("CODE_TTL", "")
	t.Setenv("LATE_GRACE", "")

	cfg := Load()
	assert.Equal(t, 4*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.CodeTTL)
	assert.Equal(t, time.Duration(0), cfg.LateGrace)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CODE_TTL", "45s")
	t.Setenv("LATE_GRACE", "10m")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("SESSION_BACKEND", "memory")

	cfg := Load()
	assert.Equal(t, 45*time.Second, cfg.CodeTTL)
	assert.Equal(t, 10*time.Minute, cfg.LateGrace)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, "memory", cfg.SessionBackend)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CODE_TTL", "soon")
	t.Setenv("LOG_JSON", "maybe")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")

	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.CodeTTL)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "Asia/Seoul", App{Timezone: "Asia/Seoul"}.Location().String())
	assert.Equal(t, time.UTC, App{Timezone: "Nowhere/Special"}.Location())
}
