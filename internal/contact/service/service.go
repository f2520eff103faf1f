package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"identify/internal/contact/metrics"
	"identify/internal/contact/models"
)

type ContactStore interface {
	FindMatching(ctx context.Context, email, phone string) ([]*models.Contact, error)
	FindCluster(ctx context.Context, primaryID int64, candidates []int64) ([]*models.Contact, error)
	Create(ctx context.Context, nc models.NewContact) (*models.Contact, error)
}

type ResultCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Index(ctx context.Context, primaryID int64, key string, ttl time.Duration) error
	Invalidate(ctx context.Context, primaryID int64) error
}

// IdentityLocker serializes reconciliation for calls sharing any key. Store
// calls made with the ctx handed to fn run inside the locked section.
type IdentityLocker interface {
	RunLocked(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.ContactEvent) error
}

const defaultTTL = 60 * time.Second

// Service resolves an (email, phone) pair to its identity cluster, creating
// contacts when the request carries something new.
type Service struct {
	store             ContactStore
	cache             ResultCache
	locker            IdentityLocker
	publisher         EventPublisher
	logger            *slog.Logger
	metrics           *metrics.Metrics
	tracer            trace.Tracer
	ttl               time.Duration
	invalidateOnMerge bool

	group singleflight.Group
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker closes the race between concurrent calls carrying the same new
// identifier. Without one, such calls may each create a primary.
func WithLocker(locker IdentityLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithInvalidateOnMerge drops every cached view of a cluster when a secondary
// joins it.
func WithInvalidateOnMerge(enabled bool) Option {
	return func(s *Service) {
		s.invalidateOnMerge = enabled
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New constructs a Service. store and cache are required.
func New(store ContactStore, cache ResultCache, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cache:  cache,
		logger: slog.Default(),
		tracer: otel.Tracer("identify/internal/contact/service"),
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
