package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"identify/internal/contact/cache"
	"identify/internal/contact/events"
	"identify/internal/contact/handler"
	contactmetrics "identify/internal/contact/metrics"
	"identify/internal/contact/service"
	"identify/internal/contact/store"
	"identify/internal/platform/config"
	"identify/internal/platform/health"
	"identify/internal/platform/httpserver"
	"identify/internal/platform/kafka"
	"identify/internal/platform/logger"
	"identify/internal/platform/metrics"
	"identify/internal/platform/middleware"
	"identify/internal/platform/postgres"
	"identify/internal/platform/redis"
	"identify/internal/platform/tracing"
	"identify/pkg/platform/circuit"
	"identify/pkg/platform/middleware/metadata"
	"identify/pkg/platform/middleware/requestid"
	"identify/pkg/platform/middleware/requesttime"
)

// main wires dependencies, exposes the HTTP router and owns the connection
// lifecycle. Business logic lives in internal/contact.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type resources struct {
	pg    *postgres.Client
	redis *redis.Client
	kafka *kafka.Client
}

func (r *resources) close(log *slog.Logger) {
	if r.kafka != nil {
		r.kafka.Close()
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			log.Warn("closing redis", "error", err)
		}
	}
	if r.pg != nil {
		if err := r.pg.Close(); err != nil {
			log.Warn("closing postgres", "error", err)
		}
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	res := &resources{}
	defer res.close(log)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("flushing traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.New(reg)
	contactMetrics := contactmetrics.New(reg)
	healthHandler := health.New(log)

	var (
		contactStore service.ContactStore
		locker       service.IdentityLocker
	)
	if res.pg, err = postgres.New(ctx, cfg.Postgres); err != nil {
		return err
	}
	if res.pg != nil {
		if cfg.Postgres.AutoMigrate {
			if err := store.Migrate(ctx, res.pg.DB); err != nil {
				return err
			}
		}
		contactStore = store.NewPostgres(res.pg.DB)
		locker = newContactPostgresTx(res.pg.DB)
		healthHandler.Add("postgres", res.pg.Health)
		log.Info("contact store ready", "backend", "postgres")
	} else {
		mem := store.NewInMemory()
		contactStore = mem
		locker = mem
		log.Warn("DATABASE_URL not set; contacts are kept in memory")
	}
	if cfg.IdentityLock == config.LockNone {
		locker = nil
	}

	var resultCache service.ResultCache
	if res.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return err
	}
	if res.redis != nil {
		resultCache = cache.NewRedis(res.redis.Client, contactMetrics)
		healthHandler.Add("redis", res.redis.Health)
	} else {
		resultCache = cache.NewInMemory(nil)
	}
	resultCache = cache.NewBreaker(resultCache, circuit.New("contact-cache"), log)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(contactMetrics),
		service.WithTTL(cfg.Cache.TTL),
		service.WithInvalidateOnMerge(cfg.Cache.InvalidateOnMerge),
	}
	if locker != nil {
		opts = append(opts, service.WithLocker(locker))
	}
	if res.kafka, err = kafka.New(ctx, cfg.Kafka); err != nil {
		return err
	}
	if res.kafka != nil {
		if err := res.kafka.EnsureTopic(ctx, -1, -1); err != nil {
			return err
		}
		opts = append(opts, service.WithPublisher(events.NewKafka(res.kafka, res.kafka.Topic())))
		healthHandler.Add("kafka", res.kafka.Health)
	}
	resolver := service.New(contactStore, resultCache, opts...)

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.RequestLogger(log, httpMetrics))
	r.Use(middleware.Recover(log))
	handler.New(resolver, log).Register(r)
	r.Method(http.MethodGet, "/healthz", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := httpserver.New(cfg.Addr, otelhttp.NewHandler(r, "identify"))
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting identify", "addr", cfg.Addr, "identity_lock", cfg.IdentityLock)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
