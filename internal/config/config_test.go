package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_HOST", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("TIMEZONE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "America/New_York", cfg.Location.String())
	assert.Equal(t, "config/medications.yaml", cfg.CatalogPath)
	assert.Equal(t, 30*time.Minute, cfg.ResendThreshold)
	assert.Equal(t, 3, cfg.MaxResends)
	assert.Equal(t, 5*time.Minute, cfg.OverrideCacheTTL)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, cfg.AWSRegion, cfg.SNSRegion)
	assert.True(t, cfg.WebhookRateLimited)
	assert.False(t, cfg.WebPushEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TIMEZONE", "Asia/Kolkata")
	t.Setenv("RESEND_THRESHOLD_MINUTES", "45")
	t.Setenv("MAX_RESENDS", "0")
	t.Setenv("OVERRIDE_CACHE_TTL_SECONDS", "60")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	t.Setenv("WEBHOOK_RATE_LIMIT_PER_MINUTE", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "Asia/Kolkata", cfg.Location.String())
	assert.Equal(t, 45*time.Minute, cfg.ResendThreshold)
	assert.Equal(t, 0, cfg.MaxResends)
	assert.Equal(t, time.Minute, cfg.OverrideCacheTTL)
	assert.Equal(t, BackendRedis, cfg.StoreBackend, "a redis host selects the redis backend")
	assert.True(t, cfg.WebPushEnabled())
	assert.False(t, cfg.WebhookRateLimited)
}

func TestLoadRedisBackendDefaultsHost(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.RedisHost)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "PORT", "eighty"},
		{"unknown timezone", "TIMEZONE", "Mars/Olympus_Mons"},
		{"bad threshold", "RESEND_THRESHOLD_MINUTES", "soon"},
		{"zero threshold", "RESEND_THRESHOLD_MINUTES", "0"},
		{"negative resends", "MAX_RESENDS", "-1"},
		{"bad redis db", "REDIS_DB", "first"},
		{"unknown backend", "STORE_BACKEND", "etcd"},
		{"bad cache ttl", "OVERRIDE_CACHE_TTL_SECONDS", "5m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
