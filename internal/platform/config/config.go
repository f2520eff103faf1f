package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Identity lock modes for the resolver's match-and-merge section.
const (
	LockAdvisory = "advisory"
	LockNone     = "none"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logging         LoggingConfig
	Postgres        PostgresConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Cache           CacheConfig
	Tracing         TracingConfig
	IdentityLock    string
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string
	Format string // json|text
}

// PostgresConfig describes the contact store connection. An empty URL selects
// the in-memory store.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// RedisConfig describes the result cache connection. An empty URL selects
// the in-memory cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig describes the contact event sink. No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// CacheConfig controls result caching.
type CacheConfig struct {
	TTL               time.Duration
	InvalidateOnMerge bool
}

// Trace exporters.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// TracingConfig selects where resolver and HTTP spans go. The default keeps
// the global no-op provider.
type TracingConfig struct {
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// DefaultCacheTTL is how long a resolved identity view is served from cache.
const DefaultCacheTTL = 60 * time.Second

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr: valueOrDefault("IDENTIFY_ADDR", ":8080"),
		Logging: LoggingConfig{
			Level:  valueOrDefault("LOG_LEVEL", "info"),
			Format: valueOrDefault("LOG_FORMAT", "json"),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   valueOrDefault("KAFKA_CONTACT_TOPIC", "contact-events"),
		},
		Tracing: TracingConfig{
			Exporter:     strings.ToLower(valueOrDefault("OTEL_TRACES_EXPORTER", TraceExporterNone)),
			ServiceName:  valueOrDefault("OTEL_SERVICE_NAME", "identify"),
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		IdentityLock: strings.ToLower(valueOrDefault("IDENTITY_LOCK", LockAdvisory)),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Postgres.MaxOpenConns, err = intOrDefault("DB_MAX_OPEN_CONNS", 25); err != nil {
		return Server{}, err
	}
	if cfg.Postgres.MaxIdleConns, err = intOrDefault("DB_MAX_IDLE_CONNS", 5); err != nil {
		return Server{}, err
	}
	if cfg.Postgres.AutoMigrate, err = boolOrDefault("DB_AUTO_MIGRATE", true); err != nil {
		return Server{}, err
	}
	if cfg.Redis.PoolSize, err = intOrDefault("REDIS_POOL_SIZE", 10); err != nil {
		return Server{}, err
	}
	if cfg.Redis.MinIdleConns, err = intOrDefault("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Server{}, err
	}
	if cfg.Redis.DialTimeout, err = durationOrDefault("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.ReadTimeout, err = durationOrDefault("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.WriteTimeout, err = durationOrDefault("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Cache.TTL, err = durationOrDefault("CACHE_TTL", DefaultCacheTTL); err != nil {
		return Server{}, err
	}
	if cfg.Cache.InvalidateOnMerge, err = boolOrDefault("CACHE_INVALIDATE_ON_MERGE", false); err != nil {
		return Server{}, err
	}
	if cfg.Tracing.OTLPInsecure, err = boolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false); err != nil {
		return Server{}, err
	}
	if cfg.Tracing.SampleRatio, err = floatOrDefault("OTEL_SAMPLER_RATIO", 1); err != nil {
		return Server{}, err
	}

	if cfg.Cache.TTL <= 0 {
		return Server{}, fmt.Errorf("CACHE_TTL must be positive, got %s", cfg.Cache.TTL)
	}
	switch cfg.IdentityLock {
	case LockAdvisory, LockNone:
	default:
		return Server{}, fmt.Errorf("invalid IDENTITY_LOCK %q: must be %q or %q", cfg.IdentityLock, LockAdvisory, LockNone)
	}
	switch cfg.Tracing.Exporter {
	case TraceExporterNone, TraceExporterStdout:
	case TraceExporterOTLP:
		if cfg.Tracing.OTLPEndpoint == "" {
			return Server{}, fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_TRACES_EXPORTER=%s", TraceExporterOTLP)
		}
	default:
		return Server{}, fmt.Errorf("invalid OTEL_TRACES_EXPORTER %q", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return Server{}, fmt.Errorf("OTEL_SAMPLER_RATIO must be within [0,1], got %v", cfg.Tracing.SampleRatio)
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intOrDefault(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func floatOrDefault(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return f, nil
}

func boolOrDefault(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return b, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
