package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_SAMPLER_RATIO", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTL)
	assert.False(t, cfg.Cache.InvalidateOnMerge)
	assert.Equal(t, LockAdvisory, cfg.IdentityLock)
	assert.True(t, cfg.Postgres.AutoMigrate)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "contact-events", cfg.Kafka.Topic)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, TraceExporterNone, cfg.Tracing.Exporter)
	assert.Equal(t, "identify", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("IDENTIFY_ADDR", ":9090")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("CACHE_INVALIDATE_ON_MERGE", "true")
	t.Setenv("IDENTITY_LOCK", "NONE")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("REDIS_POOL_SIZE", "32")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.InvalidateOnMerge)
	assert.Equal(t, LockNone, cfg.IdentityLock)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 32, cfg.Redis.PoolSize)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "CACHE_TTL", "soon"},
		{"non-positive ttl", "CACHE_TTL", "0s"},
		{"bad int", "DB_MAX_OPEN_CONNS", "many"},
		{"bad bool", "DB_AUTO_MIGRATE", "perhaps"},
		{"unknown lock mode", "IDENTITY_LOCK", "optimistic"},
		{"unknown exporter", "OTEL_TRACES_EXPORTER", "zipkin"},
		{"otlp without endpoint", "OTEL_TRACES_EXPORTER", "otlp"},
		{"ratio out of range", "OTEL_SAMPLER_RATIO", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
